package models

import (
	"time"

	"github.com/uptrace/bun"
)

// QuestRotationEntry is one quest slot of an active quest rotation. Global
// slots reference a pool quest and have no user; bounty slots are generated
// per user and carry no pool reference.
type QuestRotationEntry struct {
	bun.BaseModel `bun:"table:quest_rotation_entries,alias:qre"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	RotationID string    `bun:"rotation_id,notnull,type:uuid" json:"rotation_id"`
	QuestID    *int64    `bun:"quest_id" json:"quest_id,omitempty"`
	UserID     *int64    `bun:"user_id" json:"user_id,omitempty"`
	QuestData  QuestData `bun:"quest_data,notnull,type:jsonb" json:"quest_data"`
	StartsAt   time.Time `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt     time.Time `bun:"ends_at,notnull" json:"ends_at"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// IsBounty reports whether the entry is a per-user bounty slot.
func (e *QuestRotationEntry) IsBounty() bool {
	return e.UserID != nil
}
