package config

import "time"

// Application-wide constants organized by domain

// Database and Performance Constants
const (
	// Timeouts
	DefaultQueryTimeout = 30 * time.Second
	BatchQueryTimeout   = 30 * time.Second
	NetworkDialTimeout  = 5 * time.Second
	NetworkKeepAlive    = 30 * time.Second

	// Cache settings
	MedalThresholdCacheSize = 512
)

// Store Rotation Constants
const (
	// Rotation sizing. A rotation carries between MinRotationItems and
	// MaxRotationItems slots with a fixed rarity split.
	MinRotationItems = 3
	MaxRotationItems = 5

	// Slot pricing by rarity
	LegendaryPrice = 2500
	EpicPrice      = 1500
	RarePrice      = 750

	// Rotations to look back when excluding recently featured items
	RotationExclusionDepth = 2
)

// Key Bundle Constants
const (
	KeyBundlePriceSingle = 300
	KeyBundlePriceTriple = 850
	KeyBundlePricePenta  = 1350
)

// KeyBundlePrices maps the allowed purchase quantities to bundle prices.
var KeyBundlePrices = map[int]int64{
	1: KeyBundlePriceSingle,
	3: KeyBundlePriceTriple,
	5: KeyBundlePricePenta,
}

// Quest Rotation Constants
const (
	// Global quests drawn per rotation plus one personal bounty
	GlobalQuestsPerRotation = 5

	// Bounty rewards are flat regardless of strategy
	BountyCoinReward = 150
	BountyXPReward   = 75

	// Personal-improvement targeting
	PercentileTargetQuantile = 0.6
	PersonalBestTargetFactor = 0.9

	// A rival is beatable when the user's own time is within this factor
	// of the rival's: rival_time >= RivalBeatableFactor * user_time.
	RivalBeatableFactor = 0.8
)

// Skill Rank Constants
const (
	RankNinja       = "Ninja"
	RankJumper      = "Jumper"
	RankSkilled     = "Skilled"
	RankPro         = "Pro"
	RankMaster      = "Master"
	RankGrandmaster = "Grandmaster"
	RankGod         = "God"
)

// rankGate pairs a rank with the completions needed at one difficulty to
// unlock it.
type rankGate struct {
	Rank       string
	Difficulty string
	Needed     int
}

// RankGates lists the rank ladder in ascending order. Each rank requires all
// previous gates plus its own completion count at the named difficulty.
var RankGates = []rankGate{
	{Rank: RankJumper, Difficulty: "Easy", Needed: 10},
	{Rank: RankSkilled, Difficulty: "Medium", Needed: 10},
	{Rank: RankPro, Difficulty: "Hard", Needed: 10},
	{Rank: RankMaster, Difficulty: "Very Hard", Needed: 10},
	{Rank: RankGrandmaster, Difficulty: "Extreme", Needed: 7},
	{Rank: RankGod, Difficulty: "Hell", Needed: 3},
}

// SkillRankFor resolves a user's rank from per-difficulty verified
// completion counts. Everyone starts at Ninja.
func SkillRankFor(counts map[string]int) string {
	rank := RankNinja
	for _, gate := range RankGates {
		if counts[gate.Difficulty] < gate.Needed {
			break
		}
		rank = gate.Rank
	}
	return rank
}
