package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parkourhub/parkbot/parkbot"
	"github.com/parkourhub/parkbot/parkbot/config"
	"github.com/parkourhub/parkbot/parkbot/database"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
	"github.com/parkourhub/parkbot/parkbot/logger"
	"github.com/parkourhub/parkbot/parkbot/services"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting ParkBot engine",
		slog.String("version", version),
		slog.String("commit", commit))

	rotateQuests := flag.Bool("rotate-quests", false, "Force a new quest rotation on startup")
	rotateStore := flag.Bool("rotate-store", false, "Force a new store rotation on startup")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := parkbot.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	slog.Info("Initializing database schema...")
	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	questRepo := repositories.NewQuestRepository(db.BunDB())
	storeRepo := repositories.NewStoreRepository(db.BunDB())

	rotationService := services.NewRotationService(questRepo, storeRepo)

	if *rotateQuests {
		result, err := rotationService.GenerateQuestRotation(ctx)
		if err != nil {
			slog.Error("Failed to generate quest rotation", slog.Any("error", err))
			os.Exit(-1)
		}
		slog.Info("Quest rotation forced",
			slog.String("rotation_id", result.RotationID),
			slog.Int("quests", result.QuestCount),
			slog.Int("settled", result.Settled))
	}
	if *rotateStore {
		if _, err := rotationService.GenerateStoreRotation(ctx, 0); err != nil {
			slog.Error("Failed to generate store rotation", slog.Any("error", err))
			os.Exit(-1)
		}
	}

	if _, err := rotationService.EnsureQuestRotation(ctx); err != nil {
		slog.Error("Failed to ensure quest rotation", slog.Any("error", err))
		os.Exit(-1)
	}

	// Roll rotations over on schedule while the process runs. The -rotate
	// flags cover the external-cron path.
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tickCtx, tickCancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
				if _, err := rotationService.EnsureQuestRotation(tickCtx); err != nil {
					slog.Error("Quest rotation check failed", slog.Any("error", err))
				}
				tickCancel()
			case <-schedCtx.Done():
				return
			}
		}
	}()

	slog.Info("Engine is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down engine...")
}
