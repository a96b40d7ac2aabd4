package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/singleflight"

	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
)

// CompletedQuest describes a quest that just transitioned to completed, for
// notification fan-out.
type CompletedQuest struct {
	ProgressID int64
	QuestID    *int64
	Name       string
	Difficulty string
	BountyType string
	CoinReward int64
	XPReward   int64

	// Rival identity for beat_rival quests, so callers can name who was
	// overtaken.
	RivalUserID      int64
	RivalDisplayName string
}

// ClaimResult reports what a settled claim credited.
type ClaimResult struct {
	ProgressID int64
	Name       string
	Coins      int64
	XP         int64
	ClaimedAt  time.Time
}

// QuestPatch is an admin-side partial update of a user's quest progress
// row. Nil fields are left untouched.
type QuestPatch struct {
	CoinReward *int64
	XPReward   *int64
	Completed  *bool
}

// QuestService provisions per-user quest rows, folds gameplay events into
// them, reverts invalidated events and settles claims.
type QuestService struct {
	questRepo repositories.QuestRepository
	userRepo  repositories.UserRepository
	rotations *RotationService
	bounties  *BountyService

	// De-dupes concurrent provisioning calls in-process before they reach
	// the database advisory lock.
	provisioning singleflight.Group
}

func NewQuestService(
	questRepo repositories.QuestRepository,
	userRepo repositories.UserRepository,
	rotations *RotationService,
	bounties *BountyService,
) *QuestService {
	return &QuestService{
		questRepo: questRepo,
		userRepo:  userRepo,
		rotations: rotations,
		bounties:  bounties,
	}
}

// EnsureUserQuests idempotently provisions the user's quest rows for the
// active rotation: one row per global quest plus one personal bounty.
// Repeat calls, concurrent or not, land on the same row set.
func (s *QuestService) EnsureUserQuests(ctx context.Context, userID int64) ([]*models.UserQuestProgress, error) {
	rotation, err := s.rotations.EnsureQuestRotation(ctx)
	if err != nil {
		return nil, err
	}
	rotationID := rotation.RotationID

	key := fmt.Sprintf("%d:%s", userID, rotationID)
	rows, err, _ := s.provisioning.Do(key, func() (interface{}, error) {
		return s.provision(ctx, userID, rotationID)
	})
	if err != nil {
		return nil, err
	}
	return rows.([]*models.UserQuestProgress), nil
}

func (s *QuestService) provision(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error) {
	// Fast path without the lock.
	exists, err := s.questRepo.HasProgressRows(ctx, userID, rotationID)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.questRepo.GetProgressRows(ctx, userID, rotationID)
	}

	if _, err := s.userRepo.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	err = s.questRepo.WithProvisionLock(ctx, userID, rotationID, func(ctx context.Context, tx repositories.QuestRepository) error {
		// Re-check under the lock; a concurrent caller may have won.
		exists, err := tx.HasProgressRows(ctx, userID, rotationID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		globals, err := tx.GetGlobalRotationQuests(ctx, rotationID)
		if err != nil {
			return err
		}

		bountyEntry, err := tx.GetRotationBounty(ctx, rotationID, userID)
		if err != nil {
			return err
		}
		if bountyEntry == nil {
			bountyData, err := s.bounties.GenerateBounty(ctx, userID)
			if err != nil {
				return err
			}
			start, end, err := tx.GetRotationWindow(ctx, rotationID)
			if err != nil {
				return err
			}
			bountyEntry = &models.QuestRotationEntry{
				RotationID: rotationID,
				UserID:     &userID,
				QuestData:  *bountyData,
				StartsAt:   start,
				EndsAt:     end,
			}
			if err := tx.InsertRotationEntries(ctx, []*models.QuestRotationEntry{bountyEntry}); err != nil {
				return err
			}
		}

		rows := make([]*models.UserQuestProgress, 0, len(globals)+1)
		for _, entry := range append(globals, bountyEntry) {
			progress, err := models.EncodeProgress(entry.QuestData.Requirements.Requirement.NewProgress())
			if err != nil {
				return err
			}
			rows = append(rows, &models.UserQuestProgress{
				UserID:     userID,
				RotationID: rotationID,
				QuestID:    entry.QuestID,
				QuestData:  entry.QuestData,
				Progress:   progress,
			})
		}
		return tx.InsertProgressRows(ctx, rows)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("user quests provisioned",
		slog.Int64("user_id", userID),
		slog.String("rotation_id", rotationID),
	)
	return s.questRepo.GetProgressRows(ctx, userID, rotationID)
}

// GetUserQuests provisions if needed and returns the user's rows for the
// active rotation.
func (s *QuestService) GetUserQuests(ctx context.Context, userID int64) ([]*models.UserQuestProgress, error) {
	return s.EnsureUserQuests(ctx, userID)
}

// UpdateQuestProgress folds a gameplay event into every applicable active
// quest row and returns the quests that just completed. The whole fold runs
// in one transaction so a crash never half-applies an event.
func (s *QuestService) UpdateQuestProgress(ctx context.Context, userID int64, eventType string, ev models.EventData) ([]CompletedQuest, error) {
	rows, err := s.EnsureUserQuests(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rotationID := rows[0].RotationID

	var completed []CompletedQuest
	err = s.questRepo.RunInTx(ctx, func(ctx context.Context, tx repositories.QuestRepository) error {
		completed = completed[:0]
		active, err := tx.GetActiveProgressRows(ctx, userID, rotationID)
		if err != nil {
			return err
		}

		now := time.Now()
		for _, row := range active {
			req := row.QuestData.Requirements.Requirement
			if req == nil || !req.Matches(eventType, ev) {
				continue
			}

			progress, err := row.DecodeProgress()
			if err != nil {
				return fmt.Errorf("progress row %d: %w", row.ID, err)
			}
			if !req.Advance(progress, ev) {
				continue
			}

			if req.Satisfied(progress) {
				row.CompletedAt = &now
				completed = append(completed, completedFromRow(row))
			}
			if row.Progress, err = models.EncodeProgress(progress); err != nil {
				return err
			}
			if err := tx.UpdateProgress(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, cq := range completed {
		slog.Info("quest completed",
			slog.Int64("user_id", userID),
			slog.Int64("progress_id", cq.ProgressID),
			slog.String("name", cq.Name),
		)
	}
	return completed, nil
}

func completedFromRow(row *models.UserQuestProgress) CompletedQuest {
	cq := CompletedQuest{
		ProgressID: row.ID,
		QuestID:    row.QuestID,
		Name:       row.QuestData.Name,
		Difficulty: row.QuestData.Difficulty,
		BountyType: row.QuestData.BountyType,
		CoinReward: row.QuestData.CoinReward,
		XPReward:   row.QuestData.XPReward,
	}
	if rival, ok := row.QuestData.Requirements.Requirement.(*models.BeatRivalRequirement); ok {
		cq.RivalUserID = rival.RivalUserID
		cq.RivalDisplayName = rival.RivalName
	}
	return cq
}

// RevertQuestProgress recomputes active quest rows after a previously
// counted event was invalidated. The caller supplies the evidence that
// still stands for the affected map; completed rows are never touched.
func (s *QuestService) RevertQuestProgress(ctx context.Context, userID int64, ev models.EventData, remaining models.RemainingEvidence) error {
	rows, err := s.EnsureUserQuests(ctx, userID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	rotationID := rows[0].RotationID

	return s.questRepo.RunInTx(ctx, func(ctx context.Context, tx repositories.QuestRepository) error {
		active, err := tx.GetActiveProgressRows(ctx, userID, rotationID)
		if err != nil {
			return err
		}

		for _, row := range active {
			req := row.QuestData.Requirements.Requirement
			if req == nil || !req.Matches(models.EventTypeCompletion, ev) {
				continue
			}

			progress, err := row.DecodeProgress()
			if err != nil {
				return fmt.Errorf("progress row %d: %w", row.ID, err)
			}
			req.Revert(progress, ev, remaining)

			if row.Progress, err = models.EncodeProgress(progress); err != nil {
				return err
			}
			if err := tx.UpdateProgress(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimQuest settles rewards for a completed quest. Exactly one of N
// concurrent claims succeeds.
func (s *QuestService) ClaimQuest(ctx context.Context, userID, progressID int64) (*ClaimResult, error) {
	row, err := s.questRepo.Claim(ctx, userID, progressID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrProgressNotFound):
			return nil, &QuestNotFoundError{ProgressID: progressID}
		case errors.Is(err, repositories.ErrAlreadyClaimed):
			return nil, &QuestAlreadyClaimedError{ProgressID: progressID}
		case errors.Is(err, repositories.ErrNotCompleted):
			return nil, &QuestNotCompletedError{ProgressID: progressID}
		}
		return nil, err
	}

	slog.Info("quest claimed",
		slog.Int64("user_id", userID),
		slog.Int64("progress_id", progressID),
		slog.Int64("coins", row.CoinsRewarded),
		slog.Int64("xp", row.XPRewarded),
	)
	return &ClaimResult{
		ProgressID: row.ID,
		Name:       row.QuestData.Name,
		Coins:      row.CoinsRewarded,
		XP:         row.XPRewarded,
		ClaimedAt:  *row.ClaimedAt,
	}, nil
}

// AdminUpdateUserQuest applies a partial admin override to a user's quest
// row. Reward edits re-freeze the row's quest_data; forcing completion also
// patches the progress state to a satisfied one. Claimed rows are
// immutable.
func (s *QuestService) AdminUpdateUserQuest(ctx context.Context, userID, progressID int64, patch QuestPatch) (*models.UserQuestProgress, error) {
	if patch.CoinReward == nil && patch.XPReward == nil && patch.Completed == nil {
		return nil, &InvalidQuestPatchError{Reason: "no fields to update"}
	}

	var updated *models.UserQuestProgress
	err := s.questRepo.RunInTx(ctx, func(ctx context.Context, tx repositories.QuestRepository) error {
		row, err := tx.GetProgressRow(ctx, progressID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return &QuestNotFoundError{ProgressID: progressID}
			}
			return err
		}
		if row.UserID != userID {
			return &QuestNotFoundError{ProgressID: progressID}
		}
		if row.Claimed() {
			return &QuestAlreadyClaimedError{ProgressID: progressID}
		}

		if patch.CoinReward != nil {
			row.QuestData.CoinReward = *patch.CoinReward
		}
		if patch.XPReward != nil {
			row.QuestData.XPReward = *patch.XPReward
		}
		if patch.Completed != nil {
			switch {
			case *patch.Completed && !row.Completed():
				req := row.QuestData.Requirements.Requirement
				progress, err := row.DecodeProgress()
				if err != nil {
					return err
				}
				req.Fulfill(progress)
				if row.Progress, err = models.EncodeProgress(progress); err != nil {
					return err
				}
				now := time.Now()
				row.CompletedAt = &now
			case !*patch.Completed:
				row.CompletedAt = nil
			}
		}

		if err := tx.UpdateProgress(ctx, row); err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SearchQuestPool fuzzy-matches pool quests by name for admin tooling.
func (s *QuestService) SearchQuestPool(ctx context.Context, query string) ([]*models.Quest, error) {
	quests, err := s.questRepo.GetAllQuests(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return quests, nil
	}

	matches := fuzzy.FindFrom(query, questPool(quests))
	results := make([]*models.Quest, 0, len(matches))
	for _, m := range matches {
		results = append(results, quests[m.Index])
	}
	return results, nil
}

type questPool []*models.Quest

func (p questPool) String(i int) string { return p[i].Name }
func (p questPool) Len() int            { return len(p) }

// CreateQuest adds a new quest to the pool.
func (s *QuestService) CreateQuest(ctx context.Context, quest *models.Quest) error {
	if quest.Requirements.Requirement == nil {
		return &InvalidQuestPatchError{Reason: "quest requires a requirement"}
	}
	return s.questRepo.CreateQuest(ctx, quest)
}
