package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parkourhub/parkbot/parkbot/config"
	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
)

// RotationService owns rotation lifecycles for both the store and the quest
// system: drawing new rotations, computing windows and settling the old
// rotation's leftovers.
type RotationService struct {
	questRepo repositories.QuestRepository
	storeRepo repositories.StoreRepository
}

func NewRotationService(questRepo repositories.QuestRepository, storeRepo repositories.StoreRepository) *RotationService {
	return &RotationService{
		questRepo: questRepo,
		storeRepo: storeRepo,
	}
}

// nextRotationTime finds the next future instant matching the configured
// UTC weekday and hour.
func nextRotationTime(now time.Time, day, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	daysAhead := (day - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, daysAhead)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// raritySplit returns how many slots of each rarity a rotation of the given
// size carries. One legendary always; a second epic joins at the maximum
// size; the rest are rare.
func raritySplit(count int) (legendary, epic, rare int) {
	legendary = 1
	epic = 1
	if count >= config.MaxRotationItems {
		epic = 2
	}
	rare = count - legendary - epic
	return legendary, epic, rare
}

func rarityPrice(rarity string) int64 {
	switch rarity {
	case models.RarityLegendary:
		return config.LegendaryPrice
	case models.RarityEpic:
		return config.EpicPrice
	default:
		return config.RarePrice
	}
}

// GenerateStoreRotation draws a fresh store rotation of itemCount slots,
// excluding items featured in the recent rotations, and activates it. A
// non-positive itemCount uses the configured slot count.
func (s *RotationService) GenerateStoreRotation(ctx context.Context, itemCount int) (string, error) {
	cfg, err := s.storeRepo.GetStoreConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load store config: %w", err)
	}

	count := itemCount
	if count <= 0 {
		count = cfg.RotationItemCount
	}
	if count < config.MinRotationItems || count > config.MaxRotationItems {
		return "", &InvalidRotationItemCountError{
			Count: count,
			Min:   config.MinRotationItems,
			Max:   config.MaxRotationItems,
		}
	}

	exclude, err := s.storeRepo.GetRecentRotationItemIDs(ctx, config.RotationExclusionDepth)
	if err != nil {
		return "", fmt.Errorf("failed to load recent rotations: %w", err)
	}

	legendary, epic, rare := raritySplit(count)
	var picked []*models.Item
	for _, draw := range []struct {
		rarity string
		count  int
	}{
		{models.RarityLegendary, legendary},
		{models.RarityEpic, epic},
		{models.RarityRare, rare},
	} {
		items, err := s.storeRepo.GetRandomItemsByRarity(ctx, draw.rarity, draw.count, exclude)
		if err != nil {
			return "", err
		}
		if len(items) < draw.count {
			// Catalog too small after exclusion. Retry without it so a
			// rotation always materializes.
			items, err = s.storeRepo.GetRandomItemsByRarity(ctx, draw.rarity, draw.count, nil)
			if err != nil {
				return "", err
			}
		}
		picked = append(picked, items...)
	}

	now := time.Now().UTC()
	next := nextRotationTime(now, cfg.RotationDay, cfg.RotationHour)
	rotationID := uuid.NewString()

	slots := make([]*models.RotationItem, 0, len(picked))
	for _, item := range picked {
		slots = append(slots, &models.RotationItem{
			RotationID: rotationID,
			ItemID:     item.ID,
			Price:      rarityPrice(item.Rarity),
			StartsAt:   now,
			EndsAt:     next,
			CreatedAt:  now,
		})
	}
	if err := s.storeRepo.InsertRotationItems(ctx, slots); err != nil {
		return "", err
	}

	cfg.CurrentRotationID = &rotationID
	cfg.LastRotationAt = &now
	cfg.NextRotationAt = &next
	if err := s.storeRepo.SaveStoreConfig(ctx, cfg); err != nil {
		return "", err
	}

	slog.Info("store rotation generated",
		slog.String("rotation_id", rotationID),
		slog.Int("items", len(slots)),
		slog.Time("ends_at", next),
	)
	return rotationID, nil
}

// QuestRotationResult reports what a rotation roll produced, for the cron
// and admin callers.
type QuestRotationResult struct {
	RotationID  string
	Regenerated bool
	QuestCount  int
	Settled     int
}

// EnsureQuestRotation generates a quest rotation only when none is active.
// Returns the active rotation either way.
func (s *RotationService) EnsureQuestRotation(ctx context.Context) (*QuestRotationResult, error) {
	cfg, err := s.questRepo.GetQuestConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load quest config: %w", err)
	}

	now := time.Now().UTC()
	if cfg.CurrentRotationID != nil && cfg.NextRotationAt != nil && now.Before(*cfg.NextRotationAt) {
		return &QuestRotationResult{RotationID: *cfg.CurrentRotationID}, nil
	}
	return s.GenerateQuestRotation(ctx)
}

// GenerateQuestRotation settles the expiring rotation and draws a new set
// of global quests from the pool per the configured difficulty counts.
func (s *RotationService) GenerateQuestRotation(ctx context.Context) (*QuestRotationResult, error) {
	cfg, err := s.questRepo.GetQuestConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load quest config: %w", err)
	}

	settledCount := 0
	if cfg.CurrentRotationID != nil {
		settled, err := s.questRepo.SettleExpiredUnclaimed(ctx, *cfg.CurrentRotationID)
		if err != nil {
			return nil, fmt.Errorf("failed to settle expiring rotation: %w", err)
		}
		settledCount = settled
		if settled > 0 {
			slog.Info("settled unclaimed quests from expiring rotation",
				slog.String("rotation_id", *cfg.CurrentRotationID),
				slog.Int("settled", settled),
			)
		}
	}

	var quests []*models.Quest
	for _, draw := range []struct {
		difficulty string
		count      int
	}{
		{models.QuestDifficultyEasy, cfg.EasyCount},
		{models.QuestDifficultyMedium, cfg.MediumCount},
		{models.QuestDifficultyHard, cfg.HardCount},
	} {
		if draw.count == 0 {
			continue
		}
		drawn, err := s.questRepo.GetRandomQuestsByDifficulty(ctx, draw.difficulty, draw.count)
		if err != nil {
			return nil, err
		}
		if len(drawn) < draw.count {
			return nil, fmt.Errorf("quest pool exhausted: need %d %s quests, have %d", draw.count, draw.difficulty, len(drawn))
		}
		quests = append(quests, drawn...)
	}

	now := time.Now().UTC()
	next := nextRotationTime(now, cfg.RotationDay, cfg.RotationHour)
	rotationID := uuid.NewString()

	entries := make([]*models.QuestRotationEntry, 0, len(quests))
	for _, q := range quests {
		questID := q.ID
		entries = append(entries, &models.QuestRotationEntry{
			RotationID: rotationID,
			QuestID:    &questID,
			QuestData:  q.Snapshot(),
			StartsAt:   now,
			EndsAt:     next,
			CreatedAt:  now,
		})
	}
	if err := s.questRepo.InsertRotationEntries(ctx, entries); err != nil {
		return nil, err
	}

	cfg.CurrentRotationID = &rotationID
	cfg.LastRotationAt = &now
	cfg.NextRotationAt = &next
	if err := s.questRepo.SaveQuestConfig(ctx, cfg); err != nil {
		return nil, err
	}

	slog.Info("quest rotation generated",
		slog.String("rotation_id", rotationID),
		slog.Int("global_quests", len(entries)),
		slog.Int("settled", settledCount),
		slog.Time("ends_at", next),
	)
	return &QuestRotationResult{
		RotationID:  rotationID,
		Regenerated: true,
		QuestCount:  len(entries),
		Settled:     settledCount,
	}, nil
}
