package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/parkourhub/parkbot/parkbot/config"
	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
)

// Bounty target types recorded in beat_time requirements.
const (
	TargetTypeMedal        = "medal"
	TargetTypePercentile   = "percentile"
	TargetTypePersonalBest = "personal_best"
)

// BountyService generates the per-user personal bounty of a rotation.
// Strategies run in a fixed order with a randomized starting point, falling
// through to the next strategy when one has nothing to offer. Gap filling
// always runs last because it can serve any user.
type BountyService struct {
	completionRepo repositories.CompletionRepository
	rand           *rand.Rand
}

type bountyStrategy struct {
	name     string
	generate func(ctx context.Context, userID int64) (*models.QuestData, error)
}

func NewBountyService(completionRepo repositories.CompletionRepository, rng *rand.Rand) *BountyService {
	return &BountyService{
		completionRepo: completionRepo,
		rand:           rng,
	}
}

func (s *BountyService) strategies() []bountyStrategy {
	return []bountyStrategy{
		{name: models.BountyTypePersonalImprovement, generate: s.personalImprovement},
		{name: models.BountyTypeRivalChallenge, generate: s.rivalChallenge},
		{name: models.BountyTypeGapFilling, generate: s.gapFilling},
	}
}

// GenerateBounty produces a bounty quest for the user. A generate result of
// nil without error means the strategy had nothing to offer and the next
// one is tried.
func (s *BountyService) GenerateBounty(ctx context.Context, userID int64) (*models.QuestData, error) {
	strategies := s.strategies()
	start := s.rand.Intn(len(strategies))

	for i := 0; i < len(strategies); i++ {
		strat := strategies[(start+i)%len(strategies)]
		bounty, err := strat.generate(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("bounty strategy %s failed: %w", strat.name, err)
		}
		if bounty != nil {
			slog.Debug("bounty generated",
				slog.Int64("user_id", userID),
				slog.String("strategy", strat.name),
			)
			return bounty, nil
		}
	}

	// Gap filling covered every user with uncompleted maps; a fully cleared
	// map list is the only way to land here.
	bounty, err := s.gapFilling(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bounty == nil {
		return nil, fmt.Errorf("no bounty strategy applicable for user %d", userID)
	}
	return bounty, nil
}

// personalImprovement challenges the user to beat their own best on a map
// they already completed. The target is the most reachable of the next medal
// threshold and the community percentile time, considering only candidates
// strictly below the personal best; when neither qualifies, the target falls
// back to a fraction of the personal best itself.
func (s *BountyService) personalImprovement(ctx context.Context, userID int64) (*models.QuestData, error) {
	mapID, personalBest, ok, err := s.completionRepo.GetRandomImprovableMap(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	m, err := s.completionRepo.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}

	target := 0.0
	targetType := ""

	// Next better medal than the one the personal best earns.
	current := m.MedalFor(personalBest)
	for _, medal := range []string{models.MedalBronze, models.MedalSilver, models.MedalGold} {
		threshold := m.MedalThreshold(medal)
		if threshold > 0 && threshold < personalBest && medalRankAbove(medal, current) {
			target = threshold
			targetType = TargetTypeMedal
			break
		}
	}

	pct, hasPct, err := s.completionRepo.GetPercentileTime(ctx, mapID, config.PercentileTargetQuantile)
	if err != nil {
		return nil, err
	}
	if hasPct && pct < personalBest && pct > target {
		target = pct
		targetType = TargetTypePercentile
	}

	if target <= 0 {
		target = personalBest * config.PersonalBestTargetFactor
		targetType = TargetTypePersonalBest
	}

	req := &models.BeatTimeRequirement{
		MapID:       mapID,
		TargetTime:  target,
		TargetType:  targetType,
		CurrentBest: personalBest,
	}
	return &models.QuestData{
		Name:         fmt.Sprintf("Beat your time on %s", m.Name),
		Description:  fmt.Sprintf("Finish %s in under %.2fs", m.Name, target),
		Difficulty:   m.Difficulty,
		CoinReward:   config.BountyCoinReward,
		XPReward:     config.BountyXPReward,
		BountyType:   models.BountyTypePersonalImprovement,
		Requirements: models.NewRequirementSpec(req),
	}, nil
}

func medalRankAbove(medal, current string) bool {
	rank := func(m string) int {
		switch m {
		case models.MedalBronze:
			return 1
		case models.MedalSilver:
			return 2
		case models.MedalGold:
			return 3
		}
		return 0
	}
	return rank(medal) > rank(current)
}

// rivalChallenge challenges the user to beat another member's time on a
// shared map, picking only rivals within realistic reach.
func (s *BountyService) rivalChallenge(ctx context.Context, userID int64) (*models.QuestData, error) {
	rank, err := s.completionRepo.GetUserSkillRank(ctx, userID)
	if err != nil {
		return nil, err
	}
	rivals, err := s.completionRepo.FindRivals(ctx, userID, rank)
	if err != nil {
		return nil, err
	}
	if len(rivals) == 0 {
		return nil, nil
	}
	rival := rivals[s.rand.Intn(len(rivals))]

	candidate, err := s.completionRepo.FindBeatableRivalMap(ctx, userID, rival.UserID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	m, err := s.completionRepo.GetMap(ctx, candidate.MapID)
	if err != nil {
		return nil, err
	}

	req := &models.BeatRivalRequirement{
		MapID:       candidate.MapID,
		RivalUserID: rival.UserID,
		RivalName:   rival.Name,
		RivalTime:   candidate.RivalTime,
		TargetTime:  candidate.RivalTime,
	}
	return &models.QuestData{
		Name:         fmt.Sprintf("Beat %s on %s", rival.Name, m.Name),
		Description:  fmt.Sprintf("Finish %s in under %.2fs to overtake %s", m.Name, candidate.RivalTime, rival.Name),
		Difficulty:   m.Difficulty,
		CoinReward:   config.BountyCoinReward,
		XPReward:     config.BountyXPReward,
		BountyType:   models.BountyTypeRivalChallenge,
		Requirements: models.NewRequirementSpec(req),
	}, nil
}

// allowedDifficulties returns the map difficulties appropriate for a rank:
// everything already mastered plus the difficulty the user is working
// toward.
func allowedDifficulties(counts map[string]int) []string {
	allowed := []string{models.DifficultyEasy}
	for _, gate := range config.RankGates {
		if !contains(allowed, gate.Difficulty) {
			allowed = append(allowed, gate.Difficulty)
		}
		if counts[gate.Difficulty] < gate.Needed {
			break
		}
	}
	return allowed
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// gapFilling sends the user to a map they have never completed, scoped to
// difficulties matching their skill rank.
func (s *BountyService) gapFilling(ctx context.Context, userID int64) (*models.QuestData, error) {
	counts, err := s.completionRepo.GetDifficultyCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	maps, err := s.completionRepo.GetUncompletedMaps(ctx, userID, allowedDifficulties(counts))
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		maps, err = s.completionRepo.GetUncompletedMaps(ctx, userID, models.Difficulties)
		if err != nil {
			return nil, err
		}
	}
	if len(maps) == 0 {
		return nil, nil
	}

	m := maps[s.rand.Intn(len(maps))]
	req := &models.CompleteMapRequirement{
		MapID:  m.ID,
		Target: models.CompleteMapTarget,
	}
	return &models.QuestData{
		Name:         fmt.Sprintf("Conquer %s", m.Name),
		Description:  fmt.Sprintf("Complete %s (%s) for the first time", m.Name, m.Difficulty),
		Difficulty:   m.Difficulty,
		CoinReward:   config.BountyCoinReward,
		XPReward:     config.BountyXPReward,
		BountyType:   models.BountyTypeGapFilling,
		Requirements: models.NewRequirementSpec(req),
	}, nil
}
