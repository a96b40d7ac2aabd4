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

// Sentinel errors for store purchase diagnosis.
var (
	ErrAlreadyOwned       = errors.New("item already owned")
	ErrRotationItemAbsent = errors.New("item not in current rotation")
)

type StoreRepository interface {
	GetStoreConfig(ctx context.Context) (*models.StoreConfig, error)
	SaveStoreConfig(ctx context.Context, cfg *models.StoreConfig) error

	GetRotationItems(ctx context.Context, rotationID string) ([]*models.RotationItem, error)
	GetRotationItem(ctx context.Context, rotationID string, itemID int64) (*models.RotationItem, error)
	GetRecentRotationItemIDs(ctx context.Context, depth int) ([]int64, error)
	GetRandomItemsByRarity(ctx context.Context, rarity string, count int, excludeIDs []int64) ([]*models.Item, error)
	InsertRotationItems(ctx context.Context, items []*models.RotationItem) error

	GetOwnedItemIDs(ctx context.Context, userID int64) (map[int64]bool, error)
	GetUserKeys(ctx context.Context, userID int64) ([]*models.UserKeys, error)
	GetUserPurchases(ctx context.Context, userID int64) ([]*models.Purchase, error)

	PurchaseRotationItem(ctx context.Context, userID int64, slot *models.RotationItem) (*models.Purchase, error)
	PurchaseKeys(ctx context.Context, userID int64, keyType string, quantity int, price int64) (*models.Purchase, error)
}

type storeRepository struct {
	db *bun.DB
}

func NewStoreRepository(db *bun.DB) StoreRepository {
	return &storeRepository{db: db}
}

func (r *storeRepository) GetStoreConfig(ctx context.Context) (*models.StoreConfig, error) {
	cfg := new(models.StoreConfig)
	err := r.db.NewSelect().
		Model(cfg).
		Where("id = 1").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "store_config", ID: 1}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store config: %w", err)
	}
	return cfg, nil
}

func (r *storeRepository) SaveStoreConfig(ctx context.Context, cfg *models.StoreConfig) error {
	cfg.UpdatedAt = time.Now()
	if _, err := r.db.NewUpdate().Model(cfg).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("failed to save store config: %w", err)
	}
	return nil
}

func (r *storeRepository) GetRotationItems(ctx context.Context, rotationID string) ([]*models.RotationItem, error) {
	var items []*models.RotationItem
	err := r.db.NewSelect().
		Model(&items).
		Relation("Item").
		Where("rotation_id = ?", rotationID).
		Order("ri.price DESC", "ri.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation items: %w", err)
	}
	return items, nil
}

func (r *storeRepository) GetRotationItem(ctx context.Context, rotationID string, itemID int64) (*models.RotationItem, error) {
	slot := new(models.RotationItem)
	err := r.db.NewSelect().
		Model(slot).
		Relation("Item").
		Where("rotation_id = ?", rotationID).
		Where("ri.item_id = ?", itemID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRotationItemAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation item: %w", err)
	}
	return slot, nil
}

// GetRecentRotationItemIDs returns the item IDs featured in the most recent
// rotations, used to avoid immediate repeats.
func (r *storeRepository) GetRecentRotationItemIDs(ctx context.Context, depth int) ([]int64, error) {
	var ids []int64
	err := r.db.NewRaw(`
		SELECT DISTINCT item_id
		FROM rotation_items
		WHERE rotation_id IN (
			SELECT rotation_id
			FROM rotation_items
			GROUP BY rotation_id
			ORDER BY MAX(starts_at) DESC
			LIMIT ?
		)`, depth).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent rotation items: %w", err)
	}
	return ids, nil
}

func (r *storeRepository) GetRandomItemsByRarity(ctx context.Context, rarity string, count int, excludeIDs []int64) ([]*models.Item, error) {
	var items []*models.Item
	q := r.db.NewSelect().
		Model(&items).
		Where("rarity = ?", rarity).
		OrderExpr("RANDOM()").
		Limit(count)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(excludeIDs))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get random %s items: %w", rarity, err)
	}
	return items, nil
}

func (r *storeRepository) InsertRotationItems(ctx context.Context, items []*models.RotationItem) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := r.db.NewInsert().Model(&items).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert rotation items: %w", err)
	}
	return nil
}

func (r *storeRepository) GetOwnedItemIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.UserReward)(nil)).
		Column("item_id").
		Where("user_id = ?", userID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get owned items: %w", err)
	}
	owned := make(map[int64]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}
	return owned, nil
}

func (r *storeRepository) GetUserKeys(ctx context.Context, userID int64) ([]*models.UserKeys, error) {
	var keys []*models.UserKeys
	err := r.db.NewSelect().
		Model(&keys).
		Where("user_id = ?", userID).
		Order("key_type ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user keys: %w", err)
	}
	return keys, nil
}

func (r *storeRepository) GetUserPurchases(ctx context.Context, userID int64) ([]*models.Purchase, error) {
	var purchases []*models.Purchase
	err := r.db.NewSelect().
		Model(&purchases).
		Relation("Item").
		Where("p.user_id = ?", userID).
		Order("p.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchases: %w", err)
	}
	return purchases, nil
}

// debitCoins takes coins from a user inside tx, failing with
// InsufficientCoinsError when the balance cannot cover the price. The
// conditional update keeps concurrent purchases from overdrawing.
func debitCoins(ctx context.Context, tx bun.Tx, userID, price int64) error {
	res, err := tx.NewUpdate().
		Model((*models.User)(nil)).
		Set("coins = coins - ?", price).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Where("coins >= ?", price).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to debit user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		user := new(models.User)
		if err := tx.NewSelect().Model(user).Where("id = ?", userID).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{Entity: "user", ID: userID}
			}
			return fmt.Errorf("failed to read user %d: %w", userID, err)
		}
		return &InsufficientCoinsError{Balance: user.Coins, Required: price}
	}
	return nil
}

// PurchaseRotationItem atomically debits the price, grants ownership and
// records the purchase.
func (r *storeRepository) PurchaseRotationItem(ctx context.Context, userID int64, slot *models.RotationItem) (*models.Purchase, error) {
	purchase := &models.Purchase{
		UserID:    userID,
		ItemID:    &slot.ItemID,
		Quantity:  1,
		CoinsPaid: slot.Price,
	}
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		owned, err := tx.NewSelect().
			Model((*models.UserReward)(nil)).
			Where("user_id = ?", userID).
			Where("item_id = ?", slot.ItemID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check ownership: %w", err)
		}
		if owned {
			return ErrAlreadyOwned
		}

		if err := debitCoins(ctx, tx, userID, slot.Price); err != nil {
			return err
		}

		reward := &models.UserReward{UserID: userID, ItemID: slot.ItemID, CreatedAt: time.Now()}
		if _, err := tx.NewInsert().Model(reward).Exec(ctx); err != nil {
			return fmt.Errorf("failed to grant item: %w", err)
		}

		purchase.CreatedAt = time.Now()
		if _, err := tx.NewInsert().Model(purchase).Exec(ctx); err != nil {
			return fmt.Errorf("failed to record purchase: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// PurchaseKeys atomically debits the bundle price and credits the key
// balance.
func (r *storeRepository) PurchaseKeys(ctx context.Context, userID int64, keyType string, quantity int, price int64) (*models.Purchase, error) {
	purchase := &models.Purchase{
		UserID:    userID,
		KeyType:   keyType,
		Quantity:  quantity,
		CoinsPaid: price,
	}
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := debitCoins(ctx, tx, userID, price); err != nil {
			return err
		}

		now := time.Now()
		keys := &models.UserKeys{UserID: userID, KeyType: keyType, Quantity: quantity, UpdatedAt: now}
		_, err := tx.NewInsert().
			Model(keys).
			On("CONFLICT (user_id, key_type) DO UPDATE").
			Set("quantity = user_keys.quantity + EXCLUDED.quantity").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to credit keys: %w", err)
		}

		purchase.CreatedAt = now
		if _, err := tx.NewInsert().Model(purchase).Exec(ctx); err != nil {
			return fmt.Errorf("failed to record purchase: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}
