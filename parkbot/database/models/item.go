package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Item rarities used for rotation slot selection and pricing.
const (
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Key types purchasable in fixed bundles.
const (
	KeyTypeRecord = "record"
	KeyTypeSkin   = "skin"
)

// Item is a cosmetic catalog entry eligible for store rotations.
type Item struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	Name        string `bun:"name,notnull" json:"name"`
	Description string `bun:"description" json:"description"`
	Rarity      string `bun:"rarity,notnull" json:"rarity"`
	ImageURL    string `bun:"image_url" json:"image_url"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// UserReward is a cosmetic a user owns.
type UserReward struct {
	bun.BaseModel `bun:"table:user_rewards,alias:ur"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID    int64     `bun:"user_id,notnull" json:"user_id"`
	ItemID    int64     `bun:"item_id,notnull" json:"item_id"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// UserKeys tracks a user's key balances per key type.
type UserKeys struct {
	bun.BaseModel `bun:"table:user_keys,alias:uk"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID    int64     `bun:"user_id,notnull" json:"user_id"`
	KeyType   string    `bun:"key_type,notnull" json:"key_type"`
	Quantity  int       `bun:"quantity,notnull,default:0" json:"quantity"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
