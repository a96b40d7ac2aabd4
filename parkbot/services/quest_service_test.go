package services

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkourhub/parkbot/parkbot/database/models"
)

func seedQuestPool(repo *fakeQuestRepo) {
	ctx := context.Background()
	pool := []*models.Quest{
		{Name: "First Steps", Difficulty: models.QuestDifficultyEasy, CoinReward: 100, XPReward: 50,
			Requirements: models.NewRequirementSpec(&models.CompleteMapsRequirement{Count: 1})},
		{Name: "Medal Hunter", Difficulty: models.QuestDifficultyEasy, CoinReward: 120, XPReward: 60,
			Requirements: models.NewRequirementSpec(&models.EarnMedalsRequirement{Count: 1, MedalType: models.MedalAny})},
		{Name: "Map Marathon", Difficulty: models.QuestDifficultyMedium, CoinReward: 300, XPReward: 150,
			Requirements: models.NewRequirementSpec(&models.CompleteMapsRequirement{Count: 3})},
		{Name: "Silver Lining", Difficulty: models.QuestDifficultyMedium, CoinReward: 250, XPReward: 125,
			Requirements: models.NewRequirementSpec(&models.EarnMedalsRequirement{Count: 2, MedalType: models.MedalSilver})},
		{Name: "Deep End", Difficulty: models.QuestDifficultyHard, CoinReward: 500, XPReward: 250,
			Requirements: models.NewRequirementSpec(&models.CompleteDifficultyRangeRequirement{MinCount: 2, Difficulty: models.DifficultyVeryHard})},
	}
	for _, q := range pool {
		_ = repo.CreateQuest(ctx, q)
	}
}

func newTestQuestService() (*QuestService, *fakeQuestRepo, *fakeUserRepo, *fakeCompletionRepo) {
	users := newFakeUserRepo()
	questRepo := newFakeQuestRepo(users)
	seedQuestPool(questRepo)

	completions := newFakeCompletionRepo()
	completions.uncompleted = []*models.Map{
		{ID: 500, Name: "Skyline", Difficulty: models.DifficultyEasy},
	}

	storeRepo := newFakeStoreRepo(users)
	rotations := NewRotationService(questRepo, storeRepo)
	bounties := NewBountyService(completions, rand.New(rand.NewSource(1)))
	svc := NewQuestService(questRepo, users, rotations, bounties)
	return svc, questRepo, users, completions
}

func TestEnsureUserQuestsProvisionsGlobalsPlusBounty(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	rows, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	var globals, bounties int
	for _, row := range rows {
		if row.QuestID != nil {
			globals++
		} else {
			bounties++
			assert.NotEmpty(t, row.QuestData.BountyType)
		}
	}
	assert.Equal(t, 5, globals)
	assert.Equal(t, 1, bounties)
	assert.Equal(t, 1, questRepo.lockCalls)
}

func TestEnsureUserQuestsIsIdempotent(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	first, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)
	second, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	// The second call short-circuits before the lock.
	assert.Equal(t, 1, questRepo.lockCalls)
	assert.Len(t, questRepo.progress, 6)
}

func TestEnsureUserQuestsSeparateUsersGetOwnBounties(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)
	_, err = svc.EnsureUserQuests(ctx, 1002)
	require.NoError(t, err)

	assert.Len(t, questRepo.progress, 12)

	// The global entries are shared; only the bounty entries multiply.
	var bountyEntries int
	for _, e := range questRepo.entries {
		if e.UserID != nil {
			bountyEntries++
		}
	}
	assert.Equal(t, 2, bountyEntries)
}

func TestEnsureUserQuestsConcurrentCallersShareOneRowSet(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	const callers = 8
	results := make([][]*models.UserQuestProgress, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.EnsureUserQuests(ctx, 1001)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 6)
		for j := range results[i] {
			assert.Equal(t, results[0][j].ID, results[i][j].ID)
		}
	}
	assert.Len(t, questRepo.progress, 6)
	assert.Equal(t, 1, questRepo.lockCallCount())
}

func TestUpdateQuestProgressCompletesQuests(t *testing.T) {
	svc, _, _, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)

	// One easy completion with a medal finishes "First Steps" and
	// "Medal Hunter" in one event.
	completed, err := svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{
		MapID:      10,
		Difficulty: "Easy",
		Time:       55.0,
		Medal:      "bronze",
	})
	require.NoError(t, err)
	require.Len(t, completed, 2)

	names := []string{completed[0].Name, completed[1].Name}
	assert.Contains(t, names, "First Steps")
	assert.Contains(t, names, "Medal Hunter")
}

func TestUpdateQuestProgressFreezesCompletedRows(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)

	_, err = svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 10, Difficulty: "Easy"})
	require.NoError(t, err)

	// Re-sending events never completes the same quest twice.
	completed, err := svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 11, Difficulty: "Easy"})
	require.NoError(t, err)
	for _, cq := range completed {
		assert.NotEqual(t, "First Steps", cq.Name)
	}

	var firstSteps *models.UserQuestProgress
	for _, row := range questRepo.progress {
		if row.QuestData.Name == "First Steps" {
			firstSteps = row
		}
	}
	require.NotNil(t, firstSteps)
	assert.True(t, firstSteps.Completed())
}

func TestRevertQuestProgress(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)

	// Two distinct maps toward Map Marathon (needs 3).
	_, err = svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 10})
	require.NoError(t, err)
	_, err = svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 11})
	require.NoError(t, err)

	err = svc.RevertQuestProgress(ctx, 1001, models.EventData{MapID: 10}, models.RemainingEvidence{})
	require.NoError(t, err)

	var marathon *models.UserQuestProgress
	for _, row := range questRepo.progress {
		if row.QuestData.Name == "Map Marathon" {
			marathon = row
		}
	}
	require.NotNil(t, marathon)
	progress, err := marathon.DecodeProgress()
	require.NoError(t, err)
	mp := progress.(*models.MapCountProgress)
	assert.Equal(t, 1, mp.Current)
	assert.Equal(t, []int64{11}, mp.CompletedMapIDs)
}

func TestRevertNeverTouchesCompletedRows(t *testing.T) {
	svc, questRepo, _, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)

	_, err = svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 10, Difficulty: "Easy"})
	require.NoError(t, err)

	err = svc.RevertQuestProgress(ctx, 1001, models.EventData{MapID: 10, Difficulty: "Easy"}, models.RemainingEvidence{})
	require.NoError(t, err)

	for _, row := range questRepo.progress {
		if row.QuestData.Name == "First Steps" {
			assert.True(t, row.Completed(), "completion must stay frozen through reversion")
		}
	}
}

func TestClaimQuest(t *testing.T) {
	svc, questRepo, users, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)
	completed, err := svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 10})
	require.NoError(t, err)
	require.NotEmpty(t, completed)

	result, err := svc.ClaimQuest(ctx, 1001, completed[0].ProgressID)
	require.NoError(t, err)
	assert.Equal(t, completed[0].CoinReward, result.Coins)
	assert.Equal(t, completed[0].XPReward, result.XP)

	user, err := users.GetByID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, completed[0].CoinReward, user.Coins)
	assert.Equal(t, completed[0].XPReward, user.XP)

	// Second claim fails and credits nothing further.
	_, err = svc.ClaimQuest(ctx, 1001, completed[0].ProgressID)
	var alreadyClaimed *QuestAlreadyClaimedError
	require.ErrorAs(t, err, &alreadyClaimed)
	user, _ = users.GetByID(ctx, 1001)
	assert.Equal(t, completed[0].CoinReward, user.Coins)

	// Unknown row.
	_, err = svc.ClaimQuest(ctx, 1001, 9999)
	var notFound *QuestNotFoundError
	require.ErrorAs(t, err, &notFound)

	// Incomplete row.
	var incomplete *models.UserQuestProgress
	for _, row := range questRepo.progress {
		if !row.Completed() {
			incomplete = row
			break
		}
	}
	require.NotNil(t, incomplete)
	_, err = svc.ClaimQuest(ctx, 1001, incomplete.ID)
	var notCompleted *QuestNotCompletedError
	require.ErrorAs(t, err, &notCompleted)
}

func TestClaimQuestConcurrentClaimersSettleOnce(t *testing.T) {
	svc, _, users, _ := newTestQuestService()
	ctx := context.Background()

	_, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)
	completed, err := svc.UpdateQuestProgress(ctx, 1001, models.EventTypeCompletion, models.EventData{MapID: 10})
	require.NoError(t, err)
	require.NotEmpty(t, completed)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ClaimQuest(ctx, 1001, completed[0].ProgressID)
		}(i)
	}
	wg.Wait()

	// Exactly one racer settles; every loser sees the claimed state, not an
	// incomplete one.
	wins := 0
	for _, claimErr := range errs {
		if claimErr == nil {
			wins++
			continue
		}
		var alreadyClaimed *QuestAlreadyClaimedError
		require.ErrorAs(t, claimErr, &alreadyClaimed)
	}
	assert.Equal(t, 1, wins)

	user, err := users.GetByID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, completed[0].CoinReward, user.Coins)
	assert.Equal(t, completed[0].XPReward, user.XP)
}

func TestAdminUpdateUserQuest(t *testing.T) {
	svc, _, _, _ := newTestQuestService()
	ctx := context.Background()

	rows, err := svc.EnsureUserQuests(ctx, 1001)
	require.NoError(t, err)
	target := rows[0]

	// Empty patch is rejected.
	_, err = svc.AdminUpdateUserQuest(ctx, 1001, target.ID, QuestPatch{})
	var invalid *InvalidQuestPatchError
	require.ErrorAs(t, err, &invalid)

	// Force-completing also patches the progress to a satisfied state.
	completed := true
	coins := int64(999)
	updated, err := svc.AdminUpdateUserQuest(ctx, 1001, target.ID, QuestPatch{Completed: &completed, CoinReward: &coins})
	require.NoError(t, err)
	assert.True(t, updated.Completed())
	assert.Equal(t, int64(999), updated.QuestData.CoinReward)

	// The forced row is claimable for the patched reward.
	result, err := svc.ClaimQuest(ctx, 1001, target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(999), result.Coins)

	// Claimed rows are immutable.
	_, err = svc.AdminUpdateUserQuest(ctx, 1001, target.ID, QuestPatch{CoinReward: &coins})
	var alreadyClaimed *QuestAlreadyClaimedError
	require.ErrorAs(t, err, &alreadyClaimed)

	// Un-completing an unclaimed row clears its completion timestamp.
	second := rows[1]
	_, err = svc.AdminUpdateUserQuest(ctx, 1001, second.ID, QuestPatch{Completed: &completed})
	require.NoError(t, err)
	uncompleted := false
	reverted, err := svc.AdminUpdateUserQuest(ctx, 1001, second.ID, QuestPatch{Completed: &uncompleted})
	require.NoError(t, err)
	assert.False(t, reverted.Completed())

	// A row belonging to another user is not visible.
	_, err = svc.AdminUpdateUserQuest(ctx, 2002, rows[1].ID, QuestPatch{CoinReward: &coins})
	var notFound *QuestNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSearchQuestPool(t *testing.T) {
	svc, _, _, _ := newTestQuestService()
	ctx := context.Background()

	results, err := svc.SearchQuestPool(ctx, "medal")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Medal Hunter", results[0].Name)

	all, err := svc.SearchQuestPool(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
