package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/uptrace/bun"

	"github.com/parkourhub/parkbot/parkbot/database/models"
)

// Sentinel errors for claim settlement diagnosis.
var (
	ErrProgressNotFound = errors.New("quest progress row not found")
	ErrAlreadyClaimed   = errors.New("quest already claimed")
	ErrNotCompleted     = errors.New("quest not completed")
)

// Advisory lock class for quest provisioning. Keys are (class, hash) pairs
// so provisioning never collides with other subsystems taking locks.
const provisionLockClass int32 = 0x7051

type QuestRepository interface {
	// Pool
	GetAllQuests(ctx context.Context) ([]*models.Quest, error)
	GetQuest(ctx context.Context, id int64) (*models.Quest, error)
	CreateQuest(ctx context.Context, quest *models.Quest) error
	UpdateQuest(ctx context.Context, quest *models.Quest) error
	GetRandomQuestsByDifficulty(ctx context.Context, difficulty string, count int) ([]*models.Quest, error)

	// Config and rotation
	GetQuestConfig(ctx context.Context) (*models.QuestConfig, error)
	SaveQuestConfig(ctx context.Context, cfg *models.QuestConfig) error
	GetRotationWindow(ctx context.Context, rotationID string) (start, end time.Time, err error)
	GetGlobalRotationQuests(ctx context.Context, rotationID string) ([]*models.QuestRotationEntry, error)
	GetRotationBounty(ctx context.Context, rotationID string, userID int64) (*models.QuestRotationEntry, error)
	InsertRotationEntries(ctx context.Context, entries []*models.QuestRotationEntry) error

	// Progress rows
	HasProgressRows(ctx context.Context, userID int64, rotationID string) (bool, error)
	GetProgressRows(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error)
	GetActiveProgressRows(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error)
	GetProgressRow(ctx context.Context, progressID int64) (*models.UserQuestProgress, error)
	InsertProgressRows(ctx context.Context, rows []*models.UserQuestProgress) error
	UpdateProgress(ctx context.Context, row *models.UserQuestProgress) error

	// Settlement
	Claim(ctx context.Context, userID, progressID int64) (*models.UserQuestProgress, error)
	SettleExpiredUnclaimed(ctx context.Context, rotationID string) (int, error)

	// Transactions
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx QuestRepository) error) error
	WithProvisionLock(ctx context.Context, userID int64, rotationID string, fn func(ctx context.Context, tx QuestRepository) error) error
}

type questRepository struct {
	db  *bun.DB
	idb bun.IDB
}

func NewQuestRepository(db *bun.DB) QuestRepository {
	return &questRepository{db: db, idb: db}
}

func (r *questRepository) withTx(tx bun.Tx) *questRepository {
	return &questRepository{db: r.db, idb: tx}
}

func (r *questRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx QuestRepository) error) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, r.withTx(tx))
	})
}

// provisionLockKey derives a stable 32-bit key from the provisioning
// identity so concurrent calls for the same (user, rotation) serialize.
func provisionLockKey(userID int64, rotationID string) int32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", userID, rotationID)
	return int32(h.Sum32())
}

// WithProvisionLock runs fn inside a transaction holding the advisory lock
// for (userID, rotationID). The lock releases automatically at commit or
// rollback.
func (r *questRepository) WithProvisionLock(ctx context.Context, userID int64, rotationID string, fn func(ctx context.Context, tx QuestRepository) error) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		key := provisionLockKey(userID, rotationID)
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?, ?)", provisionLockClass, key); err != nil {
			return fmt.Errorf("failed to acquire provision lock: %w", err)
		}
		return fn(ctx, r.withTx(tx))
	})
}

func (r *questRepository) GetAllQuests(ctx context.Context) ([]*models.Quest, error) {
	var quests []*models.Quest
	err := r.idb.NewSelect().
		Model(&quests).
		Where("active = TRUE").
		Order("difficulty ASC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get quests: %w", err)
	}
	return quests, nil
}

func (r *questRepository) GetQuest(ctx context.Context, id int64) (*models.Quest, error) {
	quest := new(models.Quest)
	err := r.idb.NewSelect().
		Model(quest).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "quest", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quest %d: %w", id, err)
	}
	return quest, nil
}

func (r *questRepository) CreateQuest(ctx context.Context, quest *models.Quest) error {
	now := time.Now()
	quest.CreatedAt = now
	if _, err := r.idb.NewInsert().Model(quest).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create quest: %w", err)
	}
	return nil
}

func (r *questRepository) UpdateQuest(ctx context.Context, quest *models.Quest) error {
	res, err := r.idb.NewUpdate().
		Model(quest).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update quest %d: %w", quest.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "quest", ID: quest.ID}
	}
	return nil
}

func (r *questRepository) GetRandomQuestsByDifficulty(ctx context.Context, difficulty string, count int) ([]*models.Quest, error) {
	var quests []*models.Quest
	err := r.idb.NewSelect().
		Model(&quests).
		Where("difficulty = ?", difficulty).
		Where("active = TRUE").
		OrderExpr("RANDOM()").
		Limit(count).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get random %s quests: %w", difficulty, err)
	}
	return quests, nil
}

func (r *questRepository) GetQuestConfig(ctx context.Context) (*models.QuestConfig, error) {
	cfg := new(models.QuestConfig)
	err := r.idb.NewSelect().
		Model(cfg).
		Where("id = 1").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "quest_config", ID: 1}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quest config: %w", err)
	}
	return cfg, nil
}

func (r *questRepository) SaveQuestConfig(ctx context.Context, cfg *models.QuestConfig) error {
	cfg.UpdatedAt = time.Now()
	if _, err := r.idb.NewUpdate().Model(cfg).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("failed to save quest config: %w", err)
	}
	return nil
}

func (r *questRepository) GetRotationWindow(ctx context.Context, rotationID string) (time.Time, time.Time, error) {
	entry := new(models.QuestRotationEntry)
	err := r.idb.NewSelect().
		Model(entry).
		Column("starts_at", "ends_at").
		Where("rotation_id = ?", rotationID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, time.Time{}, &NotFoundError{Entity: "quest_rotation", ID: rotationID}
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to get rotation window: %w", err)
	}
	return entry.StartsAt, entry.EndsAt, nil
}

func (r *questRepository) GetGlobalRotationQuests(ctx context.Context, rotationID string) ([]*models.QuestRotationEntry, error) {
	var entries []*models.QuestRotationEntry
	err := r.idb.NewSelect().
		Model(&entries).
		Where("rotation_id = ?", rotationID).
		Where("user_id IS NULL").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get global rotation quests: %w", err)
	}
	return entries, nil
}

func (r *questRepository) GetRotationBounty(ctx context.Context, rotationID string, userID int64) (*models.QuestRotationEntry, error) {
	entry := new(models.QuestRotationEntry)
	err := r.idb.NewSelect().
		Model(entry).
		Where("rotation_id = ?", rotationID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation bounty: %w", err)
	}
	return entry, nil
}

func (r *questRepository) InsertRotationEntries(ctx context.Context, entries []*models.QuestRotationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := r.idb.NewInsert().Model(&entries).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert rotation entries: %w", err)
	}
	return nil
}

func (r *questRepository) HasProgressRows(ctx context.Context, userID int64, rotationID string) (bool, error) {
	exists, err := r.idb.NewSelect().
		Model((*models.UserQuestProgress)(nil)).
		Where("user_id = ?", userID).
		Where("rotation_id = ?", rotationID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check progress rows: %w", err)
	}
	return exists, nil
}

func (r *questRepository) GetProgressRows(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error) {
	var rows []*models.UserQuestProgress
	err := r.idb.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("rotation_id = ?", rotationID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress rows: %w", err)
	}
	return rows, nil
}

// GetActiveProgressRows returns the user's not-yet-completed rows for a
// rotation. Completed rows are frozen and never advanced or reverted.
func (r *questRepository) GetActiveProgressRows(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error) {
	var rows []*models.UserQuestProgress
	err := r.idb.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("rotation_id = ?", rotationID).
		Where("completed_at IS NULL").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active progress rows: %w", err)
	}
	return rows, nil
}

func (r *questRepository) GetProgressRow(ctx context.Context, progressID int64) (*models.UserQuestProgress, error) {
	row := new(models.UserQuestProgress)
	err := r.idb.NewSelect().
		Model(row).
		Where("id = ?", progressID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "quest_progress", ID: progressID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress row %d: %w", progressID, err)
	}
	return row, nil
}

func (r *questRepository) InsertProgressRows(ctx context.Context, rows []*models.UserQuestProgress) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now()
	for _, row := range rows {
		row.CreatedAt = now
		row.UpdatedAt = now
		if len(row.Progress) == 0 {
			row.Progress = json.RawMessage("{}")
		}
	}
	if _, err := r.idb.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert progress rows: %w", err)
	}
	return nil
}

func (r *questRepository) UpdateProgress(ctx context.Context, row *models.UserQuestProgress) error {
	row.UpdatedAt = time.Now()
	_, err := r.idb.NewUpdate().
		Model(row).
		Column("quest_data", "progress", "completed_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update progress row %d: %w", row.ID, err)
	}
	return nil
}

// Claim settles a completed quest atomically. The claim itself is a
// conditional update so two concurrent claims can never both credit; the
// loser observes zero rows affected and the failure is diagnosed from a
// re-read of the row.
func (r *questRepository) Claim(ctx context.Context, userID, progressID int64) (*models.UserQuestProgress, error) {
	var settled *models.UserQuestProgress
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		row := new(models.UserQuestProgress)
		err := tx.NewSelect().
			Model(row).
			Where("id = ?", progressID).
			Where("user_id = ?", userID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProgressNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read progress row %d: %w", progressID, err)
		}

		now := time.Now()
		res, err := tx.NewUpdate().
			Model((*models.UserQuestProgress)(nil)).
			Set("claimed_at = ?", now).
			Set("coins_rewarded = ?", row.QuestData.CoinReward).
			Set("xp_rewarded = ?", row.QuestData.XPReward).
			Set("updated_at = ?", now).
			Where("id = ?", progressID).
			Where("user_id = ?", userID).
			Where("completed_at IS NOT NULL").
			Where("claimed_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to claim progress row %d: %w", progressID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// The pre-read may predate a concurrent claim that committed
			// between it and the update, so the diagnosis needs fresh state.
			fresh := new(models.UserQuestProgress)
			err := tx.NewSelect().
				Model(fresh).
				Where("id = ?", progressID).
				Where("user_id = ?", userID).
				Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrProgressNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to re-read progress row %d: %w", progressID, err)
			}
			if fresh.Claimed() {
				return ErrAlreadyClaimed
			}
			return ErrNotCompleted
		}

		if _, err := creditRewards(ctx, tx, userID, row.QuestData.CoinReward, row.QuestData.XPReward); err != nil {
			return err
		}

		row.ClaimedAt = &now
		row.CoinsRewarded = row.QuestData.CoinReward
		row.XPRewarded = row.QuestData.XPReward
		settled = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// SettleExpiredUnclaimed auto-claims completed-but-unclaimed rows of an
// expired rotation, crediting each user the frozen rewards. Returns the
// number of rows settled.
func (r *questRepository) SettleExpiredUnclaimed(ctx context.Context, rotationID string) (int, error) {
	settled := 0
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var rows []*models.UserQuestProgress
		err := tx.NewSelect().
			Model(&rows).
			Where("rotation_id = ?", rotationID).
			Where("completed_at IS NOT NULL").
			Where("claimed_at IS NULL").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to list unclaimed rows: %w", err)
		}

		now := time.Now()
		for _, row := range rows {
			res, err := tx.NewUpdate().
				Model((*models.UserQuestProgress)(nil)).
				Set("claimed_at = ?", now).
				Set("coins_rewarded = ?", row.QuestData.CoinReward).
				Set("xp_rewarded = ?", row.QuestData.XPReward).
				Set("updated_at = ?", now).
				Where("id = ?", row.ID).
				Where("claimed_at IS NULL").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to settle row %d: %w", row.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if _, err := creditRewards(ctx, tx, row.UserID, row.QuestData.CoinReward, row.QuestData.XPReward); err != nil {
				return err
			}
			settled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return settled, nil
}
