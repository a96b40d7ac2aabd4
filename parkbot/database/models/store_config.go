package models

import (
	"time"

	"github.com/uptrace/bun"
)

// StoreConfig is the singleton row governing store rotations.
type StoreConfig struct {
	bun.BaseModel `bun:"table:store_config,alias:sc"`

	ID                int64      `bun:"id,pk" json:"id"`
	RotationDay       int        `bun:"rotation_day,notnull,default:1" json:"rotation_day"`
	RotationHour      int        `bun:"rotation_hour,notnull,default:0" json:"rotation_hour"`
	RotationItemCount int        `bun:"rotation_item_count,notnull,default:4" json:"rotation_item_count"`
	CurrentRotationID *string    `bun:"current_rotation_id,type:uuid" json:"current_rotation_id,omitempty"`
	LastRotationAt    *time.Time `bun:"last_rotation_at" json:"last_rotation_at,omitempty"`
	NextRotationAt    *time.Time `bun:"next_rotation_at" json:"next_rotation_at,omitempty"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
