package models

import (
	"time"

	"github.com/uptrace/bun"
)

// QuestConfig is the singleton row governing quest rotations: scheduling
// cadence plus per-difficulty draw counts for the global tier.
type QuestConfig struct {
	bun.BaseModel `bun:"table:quest_config,alias:qc"`

	ID                int64      `bun:"id,pk" json:"id"`
	RotationDay       int        `bun:"rotation_day,notnull,default:1" json:"rotation_day"`
	RotationHour      int        `bun:"rotation_hour,notnull,default:0" json:"rotation_hour"`
	EasyCount         int        `bun:"easy_count,notnull,default:2" json:"easy_count"`
	MediumCount       int        `bun:"medium_count,notnull,default:2" json:"medium_count"`
	HardCount         int        `bun:"hard_count,notnull,default:1" json:"hard_count"`
	CurrentRotationID *string    `bun:"current_rotation_id,type:uuid" json:"current_rotation_id,omitempty"`
	LastRotationAt    *time.Time `bun:"last_rotation_at" json:"last_rotation_at,omitempty"`
	NextRotationAt    *time.Time `bun:"next_rotation_at" json:"next_rotation_at,omitempty"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// TotalCount is the number of global quests drawn per rotation.
func (qc *QuestConfig) TotalCount() int {
	return qc.EasyCount + qc.MediumCount + qc.HardCount
}
