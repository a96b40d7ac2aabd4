package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Map difficulties, easiest to hardest. Skill ranks unlock in this order.
const (
	DifficultyEasy     = "Easy"
	DifficultyMedium   = "Medium"
	DifficultyHard     = "Hard"
	DifficultyVeryHard = "Very Hard"
	DifficultyExtreme  = "Extreme"
	DifficultyHell     = "Hell"
)

// Difficulties lists all map difficulties in ascending order.
var Difficulties = []string{
	DifficultyEasy,
	DifficultyMedium,
	DifficultyHard,
	DifficultyVeryHard,
	DifficultyExtreme,
	DifficultyHell,
}

// Map is a parkour map playable in-game via its workshop code.
type Map struct {
	bun.BaseModel `bun:"table:maps,alias:m"`

	ID         int64  `bun:"id,pk,autoincrement" json:"id"`
	Code       string `bun:"code,notnull,unique" json:"code"`
	Name       string `bun:"name,notnull" json:"name"`
	Difficulty string `bun:"difficulty,notnull" json:"difficulty"`
	Category   string `bun:"category" json:"category"`

	// Medal thresholds in seconds. A run at or under the threshold earns
	// the medal.
	GoldThreshold   float64 `bun:"gold_threshold" json:"gold_threshold"`
	SilverThreshold float64 `bun:"silver_threshold" json:"silver_threshold"`
	BronzeThreshold float64 `bun:"bronze_threshold" json:"bronze_threshold"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// MedalFor returns the strongest medal a time earns on this map, or "".
func (m *Map) MedalFor(t float64) string {
	switch {
	case m.GoldThreshold > 0 && t <= m.GoldThreshold:
		return MedalGold
	case m.SilverThreshold > 0 && t <= m.SilverThreshold:
		return MedalSilver
	case m.BronzeThreshold > 0 && t <= m.BronzeThreshold:
		return MedalBronze
	default:
		return ""
	}
}

// MedalThreshold returns the threshold time for a medal type, or 0 when the
// map has none configured.
func (m *Map) MedalThreshold(medal string) float64 {
	switch medal {
	case MedalGold:
		return m.GoldThreshold
	case MedalSilver:
		return m.SilverThreshold
	case MedalBronze:
		return m.BronzeThreshold
	default:
		return 0
	}
}
