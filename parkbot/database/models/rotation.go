package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RotationItem is one slot of a store rotation. All slots of the same
// rotation share a rotation ID and validity window.
type RotationItem struct {
	bun.BaseModel `bun:"table:rotation_items,alias:ri"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	RotationID string    `bun:"rotation_id,notnull,type:uuid" json:"rotation_id"`
	ItemID     int64     `bun:"item_id,notnull" json:"item_id"`
	Price      int64     `bun:"price,notnull" json:"price"`
	StartsAt   time.Time `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt     time.Time `bun:"ends_at,notnull" json:"ends_at"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Item *Item `bun:"rel:belongs-to,join:item_id=id" json:"item,omitempty"`
}

// Active reports whether the slot's window covers the given instant.
func (ri *RotationItem) Active(now time.Time) bool {
	return !now.Before(ri.StartsAt) && now.Before(ri.EndsAt)
}
