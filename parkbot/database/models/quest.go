package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Quest difficulties for the global pool.
const (
	QuestDifficultyEasy   = "easy"
	QuestDifficultyMedium = "medium"
	QuestDifficultyHard   = "hard"
)

// Bounty types. Global quests carry no bounty type.
const (
	BountyTypePersonalImprovement = "personal_improvement"
	BountyTypeRivalChallenge      = "rival_challenge"
	BountyTypeGapFilling          = "gap_filling"
)

// Quest is a reusable pool entry that rotations draw from.
type Quest struct {
	bun.BaseModel `bun:"table:quests,alias:q"`

	ID           int64           `bun:"id,pk,autoincrement" json:"id"`
	Name         string          `bun:"name,notnull" json:"name"`
	Description  string          `bun:"description" json:"description"`
	Difficulty   string          `bun:"difficulty,notnull" json:"difficulty"`
	CoinReward   int64           `bun:"coin_reward,notnull" json:"coin_reward"`
	XPReward     int64           `bun:"xp_reward,notnull" json:"xp_reward"`
	Requirements RequirementSpec `bun:"requirements,notnull,type:jsonb" json:"requirements"`
	Active       bool            `bun:"active,notnull,default:true" json:"active"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// QuestData is the frozen snapshot of a quest's definition at assignment
// time. Pool edits after assignment never affect rows already provisioned.
type QuestData struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Difficulty   string          `json:"difficulty"`
	CoinReward   int64           `json:"coin_reward"`
	XPReward     int64           `json:"xp_reward"`
	BountyType   string          `json:"bounty_type,omitempty"`
	Requirements RequirementSpec `json:"requirements"`
}

// Snapshot freezes the quest definition for rotation and progress rows.
func (q *Quest) Snapshot() QuestData {
	return QuestData{
		Name:         q.Name,
		Description:  q.Description,
		Difficulty:   q.Difficulty,
		CoinReward:   q.CoinReward,
		XPReward:     q.XPReward,
		Requirements: q.Requirements,
	}
}
