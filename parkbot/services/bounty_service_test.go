package services

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkourhub/parkbot/parkbot/config"
	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
)

func newBountyServiceWith(completions *fakeCompletionRepo) *BountyService {
	return NewBountyService(completions, rand.New(rand.NewSource(1)))
}

func TestGapFillingServesNewUsers(t *testing.T) {
	completions := newFakeCompletionRepo()
	completions.uncompleted = []*models.Map{
		{ID: 500, Name: "Skyline", Difficulty: models.DifficultyEasy},
	}
	svc := newBountyServiceWith(completions)

	bounty, err := svc.GenerateBounty(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, models.BountyTypeGapFilling, bounty.BountyType)
	assert.Equal(t, int64(config.BountyCoinReward), bounty.CoinReward)
	assert.Equal(t, int64(config.BountyXPReward), bounty.XPReward)

	req, ok := bounty.Requirements.Requirement.(*models.CompleteMapRequirement)
	require.True(t, ok)
	assert.Equal(t, int64(500), req.MapID)
	assert.Equal(t, models.CompleteMapTarget, req.Target)
}

func TestPersonalImprovementMedalTarget(t *testing.T) {
	completions := newFakeCompletionRepo()
	completions.hasImprovable = true
	completions.improvableMapID = 7
	completions.improvableBest = 50.0
	completions.maps[7] = &models.Map{
		ID: 7, Name: "Circuit", Difficulty: models.DifficultyMedium,
		GoldThreshold: 30, SilverThreshold: 40, BronzeThreshold: 55,
	}
	// Percentile sits looser than the medal threshold.
	completions.hasPercentile = true
	completions.percentile = 35.0
	svc := newBountyServiceWith(completions)

	var bounty *models.QuestData
	var err error
	for i := 0; i < 5; i++ {
		bounty, err = svc.GenerateBounty(context.Background(), 1001)
		require.NoError(t, err)
		if bounty.BountyType == models.BountyTypePersonalImprovement {
			break
		}
	}
	require.Equal(t, models.BountyTypePersonalImprovement, bounty.BountyType)

	req, ok := bounty.Requirements.Requirement.(*models.BeatTimeRequirement)
	require.True(t, ok)
	// The loosest candidate below the personal best wins: silver (40) over
	// percentile (35).
	assert.Equal(t, 40.0, req.TargetTime)
	assert.Equal(t, TargetTypeMedal, req.TargetType)
	assert.Equal(t, 50.0, req.CurrentBest)
}

func TestPersonalImprovementPercentileTarget(t *testing.T) {
	completions := newFakeCompletionRepo()
	completions.hasImprovable = true
	completions.improvableMapID = 7
	completions.improvableBest = 38.0
	// All medals already earned below the best.
	completions.maps[7] = &models.Map{
		ID: 7, Name: "Circuit", Difficulty: models.DifficultyMedium,
		GoldThreshold: 60, SilverThreshold: 70, BronzeThreshold: 80,
	}
	completions.hasPercentile = true
	completions.percentile = 36.5
	svc := newBountyServiceWith(completions)

	var bounty *models.QuestData
	var err error
	for i := 0; i < 5; i++ {
		bounty, err = svc.GenerateBounty(context.Background(), 1001)
		require.NoError(t, err)
		if bounty.BountyType == models.BountyTypePersonalImprovement {
			break
		}
	}
	require.Equal(t, models.BountyTypePersonalImprovement, bounty.BountyType)

	req := bounty.Requirements.Requirement.(*models.BeatTimeRequirement)
	assert.Equal(t, 36.5, req.TargetTime)
	assert.Equal(t, TargetTypePercentile, req.TargetType)
}

func TestPersonalImprovementFallsBackToPersonalBest(t *testing.T) {
	completions := newFakeCompletionRepo()
	completions.hasImprovable = true
	completions.improvableMapID = 7
	completions.improvableBest = 20.0
	// No thresholds and no percentile below the personal best.
	completions.maps[7] = &models.Map{ID: 7, Name: "Circuit", Difficulty: models.DifficultyMedium}
	completions.hasPercentile = true
	completions.percentile = 25.0
	svc := newBountyServiceWith(completions)

	var bounty *models.QuestData
	var err error
	for i := 0; i < 5; i++ {
		bounty, err = svc.GenerateBounty(context.Background(), 1001)
		require.NoError(t, err)
		if bounty.BountyType == models.BountyTypePersonalImprovement {
			break
		}
	}
	require.Equal(t, models.BountyTypePersonalImprovement, bounty.BountyType)

	req := bounty.Requirements.Requirement.(*models.BeatTimeRequirement)
	assert.InDelta(t, 20.0*config.PersonalBestTargetFactor, req.TargetTime, 1e-9)
	assert.Equal(t, TargetTypePersonalBest, req.TargetType)
	assert.Equal(t, 20.0, req.CurrentBest)
}

func TestRivalChallengeCarriesRivalIdentity(t *testing.T) {
	completions := newFakeCompletionRepo()
	completions.rivals = []repositories.Rival{{UserID: 42, Name: "speedy"}}
	completions.rival = &repositories.RivalCandidate{
		MapID: 9, RivalTime: 31.0, UserTime: 35.0,
	}
	completions.maps[9] = &models.Map{ID: 9, Name: "Vertigo", Difficulty: models.DifficultyHard}
	svc := newBountyServiceWith(completions)

	var bounty *models.QuestData
	var err error
	for i := 0; i < 5; i++ {
		bounty, err = svc.GenerateBounty(context.Background(), 1001)
		require.NoError(t, err)
		if bounty.BountyType == models.BountyTypeRivalChallenge {
			break
		}
	}
	require.Equal(t, models.BountyTypeRivalChallenge, bounty.BountyType)

	req, ok := bounty.Requirements.Requirement.(*models.BeatRivalRequirement)
	require.True(t, ok)
	assert.Equal(t, int64(42), req.RivalUserID)
	assert.Equal(t, "speedy", req.RivalName)
	assert.Equal(t, 31.0, req.RivalTime)
	assert.Equal(t, 31.0, req.TargetTime)
}

func TestAllowedDifficultiesFollowRankGates(t *testing.T) {
	// A fresh user only ranges over Easy.
	assert.Equal(t, []string{models.DifficultyEasy}, allowedDifficulties(map[string]int{}))

	// Clearing the Easy gate opens Medium.
	assert.Equal(t,
		[]string{models.DifficultyEasy, models.DifficultyMedium},
		allowedDifficulties(map[string]int{models.DifficultyEasy: 10}))

	// A fully ranked user ranges over everything.
	counts := map[string]int{
		models.DifficultyEasy:     10,
		models.DifficultyMedium:   10,
		models.DifficultyHard:     10,
		models.DifficultyVeryHard: 10,
		models.DifficultyExtreme:  7,
		models.DifficultyHell:     3,
	}
	assert.Equal(t, models.Difficulties, allowedDifficulties(counts))
}

func TestSkillRankLadder(t *testing.T) {
	assert.Equal(t, config.RankNinja, config.SkillRankFor(map[string]int{}))
	assert.Equal(t, config.RankJumper, config.SkillRankFor(map[string]int{"Easy": 10}))
	// Skipping a gate stalls the ladder.
	assert.Equal(t, config.RankNinja, config.SkillRankFor(map[string]int{"Medium": 10}))
	assert.Equal(t, config.RankGod, config.SkillRankFor(map[string]int{
		"Easy": 10, "Medium": 10, "Hard": 10, "Very Hard": 10, "Extreme": 7, "Hell": 3,
	}))
}
