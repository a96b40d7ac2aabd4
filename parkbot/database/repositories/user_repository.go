package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/parkourhub/parkbot/parkbot/database/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	GetOrCreate(ctx context.Context, id int64) (*models.User, error)
	CreditCoins(ctx context.Context, id int64, amount int64) (*models.User, error)
	CreditXP(ctx context.Context, id int64, amount int64) (*models.User, error)
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if _, err := r.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create user %d: %w", user.ID, err)
	}
	return nil
}

func (r *userRepository) GetOrCreate(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{ID: id}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := r.db.NewInsert().
		Model(user).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %d: %w", id, err)
	}
	return r.GetByID(ctx, id)
}

func (r *userRepository) CreditCoins(ctx context.Context, id int64, amount int64) (*models.User, error) {
	return creditRewards(ctx, r.db, id, amount, 0)
}

func (r *userRepository) CreditXP(ctx context.Context, id int64, amount int64) (*models.User, error) {
	return creditRewards(ctx, r.db, id, 0, amount)
}

// creditRewards applies a coin and XP credit against whatever handle the
// caller runs on, so claim settlement can credit inside its own transaction.
func creditRewards(ctx context.Context, idb bun.IDB, userID, coins, xp int64) (*models.User, error) {
	user := new(models.User)
	err := idb.NewUpdate().
		Model(user).
		Set("coins = coins + ?", coins).
		Set("xp = xp + ?", xp).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Returning("*").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit user %d: %w", userID, err)
	}
	return user, nil
}
