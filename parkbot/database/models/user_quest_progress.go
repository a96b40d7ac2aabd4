package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// UserQuestProgress is a user's per-quest progress row for one rotation.
// The quest definition is frozen into quest_data at provisioning time so the
// row stays self-contained for its whole lifecycle.
type UserQuestProgress struct {
	bun.BaseModel `bun:"table:user_quest_progress,alias:uqp"`

	ID         int64           `bun:"id,pk,autoincrement" json:"id"`
	UserID     int64           `bun:"user_id,notnull" json:"user_id"`
	RotationID string          `bun:"rotation_id,notnull,type:uuid" json:"rotation_id"`
	QuestID    *int64          `bun:"quest_id" json:"quest_id,omitempty"`
	QuestData  QuestData       `bun:"quest_data,notnull,type:jsonb" json:"quest_data"`
	Progress   json.RawMessage `bun:"progress,notnull,type:jsonb" json:"progress"`

	CompletedAt *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	ClaimedAt   *time.Time `bun:"claimed_at" json:"claimed_at,omitempty"`

	// Rewards actually credited at settlement, recorded for auditing even
	// though they normally mirror quest_data.
	CoinsRewarded int64 `bun:"coins_rewarded,notnull,default:0" json:"coins_rewarded"`
	XPRewarded    int64 `bun:"xp_rewarded,notnull,default:0" json:"xp_rewarded"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// Completed reports whether the quest has ever been completed. Completion is
// terminal: reversion never clears it.
func (p *UserQuestProgress) Completed() bool {
	return p.CompletedAt != nil
}

// Claimed reports whether rewards have been settled for this row.
func (p *UserQuestProgress) Claimed() bool {
	return p.ClaimedAt != nil
}

// DecodeProgress deserializes the row's progress through its requirement.
func (p *UserQuestProgress) DecodeProgress() (Progress, error) {
	return p.QuestData.Requirements.Requirement.DecodeProgress(p.Progress)
}
