package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parkourhub/parkbot/parkbot/config"
	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
)

// StoreListing is a rotation slot annotated with the viewer's ownership.
type StoreListing struct {
	Slot  *models.RotationItem
	Owned bool
}

// StoreService exposes the rotating cosmetic store: browsing the current
// rotation and buying items or key bundles.
type StoreService struct {
	storeRepo repositories.StoreRepository
	userRepo  repositories.UserRepository
}

func NewStoreService(storeRepo repositories.StoreRepository, userRepo repositories.UserRepository) *StoreService {
	return &StoreService{
		storeRepo: storeRepo,
		userRepo:  userRepo,
	}
}

func (s *StoreService) GetConfig(ctx context.Context) (*models.StoreConfig, error) {
	return s.storeRepo.GetStoreConfig(ctx)
}

// UpdateConfig applies admin edits to the rotation schedule and sizing.
func (s *StoreService) UpdateConfig(ctx context.Context, cfg *models.StoreConfig) error {
	if cfg.RotationItemCount < config.MinRotationItems || cfg.RotationItemCount > config.MaxRotationItems {
		return &InvalidRotationItemCountError{
			Count: cfg.RotationItemCount,
			Min:   config.MinRotationItems,
			Max:   config.MaxRotationItems,
		}
	}
	return s.storeRepo.SaveStoreConfig(ctx, cfg)
}

// currentRotation resolves the active rotation, rejecting expired windows.
func (s *StoreService) currentRotation(ctx context.Context) (string, error) {
	cfg, err := s.storeRepo.GetStoreConfig(ctx)
	if err != nil {
		return "", err
	}
	if cfg.CurrentRotationID == nil {
		return "", &NoActiveRotationError{Kind: "store"}
	}
	if cfg.NextRotationAt != nil && !time.Now().UTC().Before(*cfg.NextRotationAt) {
		return "", &RotationExpiredError{RotationID: *cfg.CurrentRotationID}
	}
	return *cfg.CurrentRotationID, nil
}

// GetCurrentRotation returns the active rotation's listings with the
// viewer's ownership flags.
func (s *StoreService) GetCurrentRotation(ctx context.Context, userID int64) ([]StoreListing, error) {
	rotationID, err := s.currentRotation(ctx)
	if err != nil {
		return nil, err
	}

	slots, err := s.storeRepo.GetRotationItems(ctx, rotationID)
	if err != nil {
		return nil, err
	}
	owned, err := s.storeRepo.GetOwnedItemIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	listings := make([]StoreListing, 0, len(slots))
	for _, slot := range slots {
		listings = append(listings, StoreListing{Slot: slot, Owned: owned[slot.ItemID]})
	}
	return listings, nil
}

// PurchaseItem buys a cosmetic from the current rotation.
func (s *StoreService) PurchaseItem(ctx context.Context, userID, itemID int64) (*models.Purchase, error) {
	rotationID, err := s.currentRotation(ctx)
	if err != nil {
		return nil, err
	}

	slot, err := s.storeRepo.GetRotationItem(ctx, rotationID, itemID)
	if errors.Is(err, repositories.ErrRotationItemAbsent) {
		return nil, &ItemNotInRotationError{ItemID: itemID}
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.userRepo.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	purchase, err := s.storeRepo.PurchaseRotationItem(ctx, userID, slot)
	if err != nil {
		return nil, mapPurchaseError(err, itemID)
	}

	slog.Info("item purchased",
		slog.Int64("user_id", userID),
		slog.Int64("item_id", itemID),
		slog.Int64("price", slot.Price),
	)
	return purchase, nil
}

// PurchaseKeys buys a key bundle. Only fixed bundle sizes are sold.
func (s *StoreService) PurchaseKeys(ctx context.Context, userID int64, keyType string, quantity int) (*models.Purchase, error) {
	if keyType != models.KeyTypeRecord && keyType != models.KeyTypeSkin {
		return nil, &InvalidKeyTypeError{KeyType: keyType}
	}
	price, ok := config.KeyBundlePrices[quantity]
	if !ok {
		return nil, &InvalidQuantityError{Quantity: quantity}
	}

	if _, err := s.userRepo.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	purchase, err := s.storeRepo.PurchaseKeys(ctx, userID, keyType, quantity, price)
	if err != nil {
		return nil, mapPurchaseError(err, 0)
	}

	slog.Info("keys purchased",
		slog.Int64("user_id", userID),
		slog.String("key_type", keyType),
		slog.Int("quantity", quantity),
	)
	return purchase, nil
}

func (s *StoreService) GetUserPurchases(ctx context.Context, userID int64) ([]*models.Purchase, error) {
	return s.storeRepo.GetUserPurchases(ctx, userID)
}

func (s *StoreService) GetUserKeys(ctx context.Context, userID int64) ([]*models.UserKeys, error) {
	return s.storeRepo.GetUserKeys(ctx, userID)
}

func mapPurchaseError(err error, itemID int64) error {
	var ice *repositories.InsufficientCoinsError
	switch {
	case errors.Is(err, repositories.ErrAlreadyOwned):
		return &AlreadyOwnedError{ItemID: itemID}
	case errors.As(err, &ice):
		return &InsufficientCoinsError{Balance: ice.Balance, Required: ice.Required}
	default:
		return fmt.Errorf("purchase failed: %w", err)
	}
}
