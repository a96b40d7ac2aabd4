package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"log/slog"

	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/uptrace/bun"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
	schemaVersion        = 1 // bump when schema/migrations change
)

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	// Probe reachability before building the pool so startup fails fast
	// with a clear error.
	var conn net.Conn
	var err error

	tryDial := func() (net.Conn, error) {
		addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
		if c, e := net.DialTimeout("tcp4", addr, defaultConnTimeout); e == nil {
			return c, nil
		}
		return net.DialTimeout("tcp6", addr, defaultConnTimeout)
	}

	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = tryDial()
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	defer conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxLifetime) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{pool: pool, bunDB: newBunDB(pool)}, nil
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func newBunDB(pool *pgxpool.Pool) *bun.DB {
	sslMode := os.Getenv("PG_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pool.Config().ConnConfig.User,
		pool.Config().ConnConfig.Password,
		pool.Config().ConnConfig.Host,
		pool.Config().ConnConfig.Port,
		pool.Config().ConnConfig.Database,
		sslMode,
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (db *DB) ExecWithLog(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	result, err := db.pool.Exec(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		slog.Error("Query failed",
			slog.String("type", "db"),
			slog.String("operation", "exec"),
			slog.String("query", sql),
			slog.Duration("took", duration),
			slog.Any("error", err),
		)
		return result, err
	}

	slog.Debug("Query executed",
		slog.String("type", "db"),
		slog.String("operation", "exec"),
		slog.String("query", sql),
		slog.Duration("took", duration),
		slog.Int64("affected_rows", result.RowsAffected()),
	)
	return result, nil
}

func (db *DB) QueryWithLog(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	rows, err := db.pool.Query(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		slog.Error("Query failed",
			slog.String("type", "db"),
			slog.String("operation", "query"),
			slog.String("query", sql),
			slog.Duration("took", duration),
			slog.Any("error", err),
		)
		return rows, err
	}

	slog.Debug("Query executed",
		slog.String("type", "db"),
		slog.String("operation", "query"),
		slog.String("query", sql),
		slog.Duration("took", duration),
	)
	return rows, nil
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// Ping verifies both database connections are working
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgxpool ping failed: %w", err)
	}
	if err := db.bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("bun ping failed: %w", err)
	}
	return nil
}

// InitializeSchema creates all required database tables and indexes
func (db *DB) InitializeSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Map)(nil),
		(*models.Completion)(nil),
		(*models.Item)(nil),
		(*models.UserReward)(nil),
		(*models.UserKeys)(nil),
		(*models.Purchase)(nil),
		(*models.RotationItem)(nil),
		(*models.StoreConfig)(nil),
		(*models.Quest)(nil),
		(*models.QuestConfig)(nil),
		(*models.QuestRotationEntry)(nil),
		(*models.UserQuestProgress)(nil),
	}

	for _, model := range tables {
		query := db.bunDB.NewCreateTable().
			Model(model).
			IfNotExists()

		if _, err := query.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_completions_user_id ON completions(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_completions_map_id ON completions(map_id);",
		"CREATE INDEX IF NOT EXISTS idx_completions_user_map ON completions(user_id, map_id) WHERE verified = true;",
		"CREATE INDEX IF NOT EXISTS idx_maps_difficulty ON maps(difficulty);",
		"CREATE INDEX IF NOT EXISTS idx_items_rarity ON items(rarity);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_user_rewards_user_item ON user_rewards(user_id, item_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_user_keys_user_type ON user_keys(user_id, key_type);",
		"CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_rotation_items_rotation ON rotation_items(rotation_id);",
		"CREATE INDEX IF NOT EXISTS idx_quests_difficulty ON quests(difficulty) WHERE active = true;",
		"CREATE INDEX IF NOT EXISTS idx_quest_rotation_entries_rotation ON quest_rotation_entries(rotation_id);",
		"CREATE INDEX IF NOT EXISTS idx_quest_rotation_entries_user ON quest_rotation_entries(rotation_id, user_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_uqp_user_rotation_quest ON user_quest_progress(user_id, rotation_id, quest_id) WHERE quest_id IS NOT NULL;",
		"CREATE INDEX IF NOT EXISTS idx_uqp_user_rotation ON user_quest_progress(user_id, rotation_id);",
		"CREATE INDEX IF NOT EXISTS idx_uqp_unclaimed ON user_quest_progress(rotation_id) WHERE completed_at IS NOT NULL AND claimed_at IS NULL;",
	}

	for _, idx := range indexes {
		if _, err := db.ExecWithLog(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// Singleton config rows
	seeds := []string{
		`INSERT INTO quest_config (id, rotation_day, rotation_hour, easy_count, medium_count, hard_count, updated_at)
		 VALUES (1, 1, 0, 2, 2, 1, CURRENT_TIMESTAMP) ON CONFLICT (id) DO NOTHING;`,
		`INSERT INTO store_config (id, rotation_day, rotation_hour, rotation_item_count, updated_at)
		 VALUES (1, 1, 0, 4, CURRENT_TIMESTAMP) ON CONFLICT (id) DO NOTHING;`,
	}
	for _, seed := range seeds {
		if _, err := db.ExecWithLog(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed config: %w", err)
		}
	}

	if err := db.InitializeQuestData(ctx); err != nil {
		return fmt.Errorf("failed to initialize quest data: %w", err)
	}
	if err := db.InitializeStoreData(ctx); err != nil {
		return fmt.Errorf("failed to initialize store data: %w", err)
	}

	return nil
}

// InitializeQuestData inserts or updates the default quest pool
func (db *DB) InitializeQuestData(ctx context.Context) error {
	type questDef struct {
		Name        string
		Description string
		Difficulty  string
		CoinReward  int64
		XPReward    int64
		Requirement models.Requirement
	}

	quests := []questDef{
		// Easy
		{"First Steps", "Complete any 3 maps", models.QuestDifficultyEasy, 100, 50,
			&models.CompleteMapsRequirement{Count: 3}},
		{"Warmup Routine", "Complete 3 Easy maps", models.QuestDifficultyEasy, 100, 50,
			&models.CompleteMapsRequirement{Count: 3, Difficulty: models.DifficultyEasy}},
		{"Medal Hunter", "Earn a medal on 2 maps", models.QuestDifficultyEasy, 120, 60,
			&models.EarnMedalsRequirement{Count: 2, MedalType: models.MedalAny}},
		{"Casual Runner", "Complete any 5 maps", models.QuestDifficultyEasy, 150, 75,
			&models.CompleteMapsRequirement{Count: 5}},
		{"Bronze Collector", "Earn bronze or better on 3 maps", models.QuestDifficultyEasy, 120, 60,
			&models.EarnMedalsRequirement{Count: 3, MedalType: models.MedalBronze}},

		// Medium
		{"Stepping Up", "Complete 5 Medium maps", models.QuestDifficultyMedium, 250, 125,
			&models.CompleteDifficultyRangeRequirement{MinCount: 5, Difficulty: models.DifficultyMedium}},
		{"Silver Lining", "Earn silver or better on 3 maps", models.QuestDifficultyMedium, 250, 125,
			&models.EarnMedalsRequirement{Count: 3, MedalType: models.MedalSilver}},
		{"Map Marathon", "Complete any 10 maps", models.QuestDifficultyMedium, 300, 150,
			&models.CompleteMapsRequirement{Count: 10}},
		{"Hard Knocks", "Complete 3 Hard maps", models.QuestDifficultyMedium, 300, 150,
			&models.CompleteDifficultyRangeRequirement{MinCount: 3, Difficulty: models.DifficultyHard}},
		{"Tech Specialist", "Complete 5 tech maps", models.QuestDifficultyMedium, 275, 140,
			&models.CompleteMapsRequirement{Count: 5, Category: "tech"}},

		// Hard
		{"Gold Rush", "Earn gold on 3 maps", models.QuestDifficultyHard, 500, 250,
			&models.EarnMedalsRequirement{Count: 3, MedalType: models.MedalGold}},
		{"Deep End", "Complete 3 Very Hard maps", models.QuestDifficultyHard, 500, 250,
			&models.CompleteDifficultyRangeRequirement{MinCount: 3, Difficulty: models.DifficultyVeryHard}},
		{"Extremist", "Complete 2 Extreme maps", models.QuestDifficultyHard, 600, 300,
			&models.CompleteDifficultyRangeRequirement{MinCount: 2, Difficulty: models.DifficultyExtreme}},
		{"Completionist", "Complete any 15 maps", models.QuestDifficultyHard, 550, 275,
			&models.CompleteMapsRequirement{Count: 15}},
		{"Touch Hell", "Complete a Hell map", models.QuestDifficultyHard, 750, 400,
			&models.CompleteDifficultyRangeRequirement{MinCount: 1, Difficulty: models.DifficultyHell}},
	}

	insertSQL := `
		INSERT INTO quests (name, description, difficulty, coin_reward, xp_reward, requirements, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, true, CURRENT_TIMESTAMP)
		ON CONFLICT DO NOTHING;
	`

	var count int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM quests").Scan(&count); err == nil && count >= len(quests) {
		slog.Info("Quest pool already initialized, skipping")
		return nil
	}

	for _, q := range quests {
		reqBytes, err := json.Marshal(models.NewRequirementSpec(q.Requirement))
		if err != nil {
			return fmt.Errorf("failed to marshal requirement for %s: %w", q.Name, err)
		}
		if _, err := db.ExecWithLog(ctx, insertSQL,
			q.Name, q.Description, q.Difficulty, q.CoinReward, q.XPReward, string(reqBytes),
		); err != nil {
			return fmt.Errorf("failed to upsert quest %s: %w", q.Name, err)
		}
	}

	slog.Info("Quest pool initialized", slog.Int("count", len(quests)))
	return nil
}

// InitializeStoreData inserts the default cosmetic catalog
func (db *DB) InitializeStoreData(ctx context.Context) error {
	var count int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err == nil && count > 0 {
		slog.Info("Store catalog already initialized, skipping")
		return nil
	}

	type itemDef struct {
		Name        string
		Description string
		Rarity      string
	}

	items := []itemDef{
		{"Golden Trail", "A trail of gold follows every jump", models.RarityLegendary},
		{"Phoenix Wings", "Fiery wings cosmetic", models.RarityLegendary},
		{"Vortex Aura", "A swirling aura around the player", models.RarityLegendary},
		{"Neon Streak", "Neon motion streaks", models.RarityEpic},
		{"Frost Step", "Icy footprints", models.RarityEpic},
		{"Shadow Dash", "Dark afterimages on dash", models.RarityEpic},
		{"Ember Glow", "Glowing ember particles", models.RarityEpic},
		{"Star Burst", "Stars burst on landing", models.RarityEpic},
		{"Blue Spark", "Subtle blue sparks", models.RarityRare},
		{"Green Flash", "Green landing flash", models.RarityRare},
		{"Dust Cloud", "Extra dust on wall kicks", models.RarityRare},
		{"Echo Ring", "Sound rings on double jump", models.RarityRare},
		{"Violet Haze", "A violet mist trail", models.RarityRare},
		{"Sun Flare", "Small solar flares", models.RarityRare},
	}

	insertSQL := `
		INSERT INTO items (name, description, rarity, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT DO NOTHING;
	`
	for _, item := range items {
		if _, err := db.ExecWithLog(ctx, insertSQL, item.Name, item.Description, item.Rarity); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.Name, err)
		}
	}

	slog.Info("Store catalog initialized", slog.Int("count", len(items)))
	return nil
}
