package services

import (
	"context"
	"sync"
	"time"

	"github.com/parkourhub/parkbot/parkbot/database/models"
	"github.com/parkourhub/parkbot/parkbot/database/repositories"
)

// fakeQuestRepo is an in-memory QuestRepository for service tests. Methods
// take the mutex so tests can hit the repo from multiple goroutines.
type fakeQuestRepo struct {
	mu       sync.Mutex
	quests   []*models.Quest
	config   *models.QuestConfig
	entries  []*models.QuestRotationEntry
	progress []*models.UserQuestProgress
	users    *fakeUserRepo

	nextEntryID    int64
	nextProgressID int64
	lockCalls      int
}

func newFakeQuestRepo(users *fakeUserRepo) *fakeQuestRepo {
	return &fakeQuestRepo{
		config: &models.QuestConfig{ID: 1, RotationDay: 1, RotationHour: 0, EasyCount: 2, MediumCount: 2, HardCount: 1},
		users:  users,
	}
}

func (f *fakeQuestRepo) GetAllQuests(ctx context.Context) ([]*models.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []*models.Quest
	for _, q := range f.quests {
		if q.Active {
			active = append(active, q)
		}
	}
	return active, nil
}

func (f *fakeQuestRepo) GetQuest(ctx context.Context, id int64) (*models.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.quests {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, &repositories.NotFoundError{Entity: "quest", ID: id}
}

func (f *fakeQuestRepo) CreateQuest(ctx context.Context, quest *models.Quest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	quest.ID = int64(len(f.quests) + 1)
	quest.Active = true
	f.quests = append(f.quests, quest)
	return nil
}

func (f *fakeQuestRepo) UpdateQuest(ctx context.Context, quest *models.Quest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, q := range f.quests {
		if q.ID == quest.ID {
			f.quests[i] = quest
			return nil
		}
	}
	return &repositories.NotFoundError{Entity: "quest", ID: quest.ID}
}

func (f *fakeQuestRepo) GetRandomQuestsByDifficulty(ctx context.Context, difficulty string, count int) ([]*models.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Quest
	for _, q := range f.quests {
		if q.Active && q.Difficulty == difficulty && len(out) < count {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuestRepo) GetQuestConfig(ctx context.Context) (*models.QuestConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := *f.config
	return &cfg, nil
}

func (f *fakeQuestRepo) SaveQuestConfig(ctx context.Context, cfg *models.QuestConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cfg
	f.config = &c
	return nil
}

func (f *fakeQuestRepo) GetRotationWindow(ctx context.Context, rotationID string) (time.Time, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.RotationID == rotationID {
			return e.StartsAt, e.EndsAt, nil
		}
	}
	return time.Time{}, time.Time{}, &repositories.NotFoundError{Entity: "quest_rotation", ID: rotationID}
}

func (f *fakeQuestRepo) GetGlobalRotationQuests(ctx context.Context, rotationID string) ([]*models.QuestRotationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.QuestRotationEntry
	for _, e := range f.entries {
		if e.RotationID == rotationID && e.UserID == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeQuestRepo) GetRotationBounty(ctx context.Context, rotationID string, userID int64) (*models.QuestRotationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.RotationID == rotationID && e.UserID != nil && *e.UserID == userID {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeQuestRepo) InsertRotationEntries(ctx context.Context, entries []*models.QuestRotationEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.nextEntryID++
		e.ID = f.nextEntryID
		f.entries = append(f.entries, e)
	}
	return nil
}

func (f *fakeQuestRepo) HasProgressRows(ctx context.Context, userID int64, rotationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.progress {
		if p.UserID == userID && p.RotationID == rotationID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeQuestRepo) GetProgressRows(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.UserQuestProgress
	for _, p := range f.progress {
		if p.UserID == userID && p.RotationID == rotationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeQuestRepo) GetActiveProgressRows(ctx context.Context, userID int64, rotationID string) ([]*models.UserQuestProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.UserQuestProgress
	for _, p := range f.progress {
		if p.UserID == userID && p.RotationID == rotationID && !p.Completed() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeQuestRepo) GetProgressRow(ctx context.Context, progressID int64) (*models.UserQuestProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.progress {
		if p.ID == progressID {
			return p, nil
		}
	}
	return nil, &repositories.NotFoundError{Entity: "quest_progress", ID: progressID}
}

func (f *fakeQuestRepo) InsertProgressRows(ctx context.Context, rows []*models.UserQuestProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.nextProgressID++
		row.ID = f.nextProgressID
		f.progress = append(f.progress, row)
	}
	return nil
}

func (f *fakeQuestRepo) UpdateProgress(ctx context.Context, row *models.UserQuestProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.progress {
		if p.ID == row.ID {
			f.progress[i] = row
			return nil
		}
	}
	return &repositories.NotFoundError{Entity: "quest_progress", ID: row.ID}
}

func (f *fakeQuestRepo) Claim(ctx context.Context, userID, progressID int64) (*models.UserQuestProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.progress {
		if p.ID != progressID || p.UserID != userID {
			continue
		}
		if p.Claimed() {
			return nil, repositories.ErrAlreadyClaimed
		}
		if !p.Completed() {
			return nil, repositories.ErrNotCompleted
		}
		now := time.Now()
		p.ClaimedAt = &now
		p.CoinsRewarded = p.QuestData.CoinReward
		p.XPRewarded = p.QuestData.XPReward
		if f.users != nil {
			f.users.CreditCoins(ctx, userID, p.CoinsRewarded)
			f.users.CreditXP(ctx, userID, p.XPRewarded)
		}
		return p, nil
	}
	return nil, repositories.ErrProgressNotFound
}

func (f *fakeQuestRepo) SettleExpiredUnclaimed(ctx context.Context, rotationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	settled := 0
	now := time.Now()
	for _, p := range f.progress {
		if p.RotationID == rotationID && p.Completed() && !p.Claimed() {
			p.ClaimedAt = &now
			p.CoinsRewarded = p.QuestData.CoinReward
			p.XPRewarded = p.QuestData.XPReward
			settled++
		}
	}
	return settled, nil
}

func (f *fakeQuestRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.QuestRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeQuestRepo) WithProvisionLock(ctx context.Context, userID int64, rotationID string, fn func(ctx context.Context, tx repositories.QuestRepository) error) error {
	f.mu.Lock()
	f.lockCalls++
	f.mu.Unlock()
	return fn(ctx, f)
}

func (f *fakeQuestRepo) lockCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockCalls
}

// fakeUserRepo is an in-memory UserRepository.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*models.User)}
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, &repositories.NotFoundError{Entity: "user", ID: id}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetOrCreate(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	u := &models.User{ID: id}
	f.users[id] = u
	return u, nil
}

func (f *fakeUserRepo) CreditCoins(ctx context.Context, id int64, amount int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "user", ID: id}
	}
	u.Coins += amount
	return u, nil
}

func (f *fakeUserRepo) CreditXP(ctx context.Context, id int64, amount int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "user", ID: id}
	}
	u.XP += amount
	return u, nil
}

// fakeCompletionRepo returns canned answers for bounty generation.
type fakeCompletionRepo struct {
	completions      []*models.Completion
	maps             map[int64]*models.Map
	improvableMapID  int64
	improvableBest   float64
	hasImprovable    bool
	percentile       float64
	hasPercentile    bool
	rivals           []repositories.Rival
	rival            *repositories.RivalCandidate
	difficultyCounts map[string]int
	uncompleted      []*models.Map
}

func newFakeCompletionRepo() *fakeCompletionRepo {
	return &fakeCompletionRepo{
		maps:             make(map[int64]*models.Map),
		difficultyCounts: make(map[string]int),
	}
}

func (f *fakeCompletionRepo) GetUserCompletions(ctx context.Context, userID int64) ([]*models.Completion, error) {
	return f.completions, nil
}

func (f *fakeCompletionRepo) GetUserBestTime(ctx context.Context, userID, mapID int64) (float64, bool, error) {
	if f.hasImprovable && mapID == f.improvableMapID {
		return f.improvableBest, true, nil
	}
	return 0, false, nil
}

func (f *fakeCompletionRepo) GetDifficultyCounts(ctx context.Context, userID int64) (map[string]int, error) {
	return f.difficultyCounts, nil
}

func (f *fakeCompletionRepo) GetUserSkillRank(ctx context.Context, userID int64) (string, error) {
	return "Ninja", nil
}

func (f *fakeCompletionRepo) GetMap(ctx context.Context, mapID int64) (*models.Map, error) {
	if m, ok := f.maps[mapID]; ok {
		return m, nil
	}
	return nil, &repositories.NotFoundError{Entity: "map", ID: mapID}
}

func (f *fakeCompletionRepo) GetPercentileTime(ctx context.Context, mapID int64, quantile float64) (float64, bool, error) {
	return f.percentile, f.hasPercentile, nil
}

func (f *fakeCompletionRepo) FindRivals(ctx context.Context, userID int64, rank string) ([]repositories.Rival, error) {
	return f.rivals, nil
}

func (f *fakeCompletionRepo) FindBeatableRivalMap(ctx context.Context, userID, rivalID int64) (*repositories.RivalCandidate, error) {
	return f.rival, nil
}

func (f *fakeCompletionRepo) GetUncompletedMaps(ctx context.Context, userID int64, difficulties []string) ([]*models.Map, error) {
	var out []*models.Map
	for _, m := range f.uncompleted {
		for _, d := range difficulties {
			if m.Difficulty == d {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCompletionRepo) GetRandomImprovableMap(ctx context.Context, userID int64) (int64, float64, bool, error) {
	return f.improvableMapID, f.improvableBest, f.hasImprovable, nil
}

// fakeStoreRepo is an in-memory StoreRepository.
type fakeStoreRepo struct {
	config    *models.StoreConfig
	catalog   []*models.Item
	slots     []*models.RotationItem
	owned     map[int64]map[int64]bool
	keys      map[int64]map[string]int
	purchases []*models.Purchase
	users     *fakeUserRepo
}

func newFakeStoreRepo(users *fakeUserRepo) *fakeStoreRepo {
	return &fakeStoreRepo{
		config: &models.StoreConfig{ID: 1, RotationDay: 1, RotationHour: 0, RotationItemCount: 4},
		owned:  make(map[int64]map[int64]bool),
		keys:   make(map[int64]map[string]int),
		users:  users,
	}
}

func (f *fakeStoreRepo) GetStoreConfig(ctx context.Context) (*models.StoreConfig, error) {
	cfg := *f.config
	return &cfg, nil
}

func (f *fakeStoreRepo) SaveStoreConfig(ctx context.Context, cfg *models.StoreConfig) error {
	c := *cfg
	f.config = &c
	return nil
}

func (f *fakeStoreRepo) GetRotationItems(ctx context.Context, rotationID string) ([]*models.RotationItem, error) {
	var out []*models.RotationItem
	for _, s := range f.slots {
		if s.RotationID == rotationID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStoreRepo) GetRotationItem(ctx context.Context, rotationID string, itemID int64) (*models.RotationItem, error) {
	for _, s := range f.slots {
		if s.RotationID == rotationID && s.ItemID == itemID {
			return s, nil
		}
	}
	return nil, repositories.ErrRotationItemAbsent
}

func (f *fakeStoreRepo) GetRecentRotationItemIDs(ctx context.Context, depth int) ([]int64, error) {
	var ids []int64
	for _, s := range f.slots {
		ids = append(ids, s.ItemID)
	}
	return ids, nil
}

func (f *fakeStoreRepo) GetRandomItemsByRarity(ctx context.Context, rarity string, count int, excludeIDs []int64) ([]*models.Item, error) {
	excluded := make(map[int64]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []*models.Item
	for _, item := range f.catalog {
		if item.Rarity == rarity && !excluded[item.ID] && len(out) < count {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStoreRepo) InsertRotationItems(ctx context.Context, items []*models.RotationItem) error {
	f.slots = append(f.slots, items...)
	return nil
}

func (f *fakeStoreRepo) GetOwnedItemIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	owned := make(map[int64]bool)
	for id, has := range f.owned[userID] {
		if has {
			owned[id] = true
		}
	}
	return owned, nil
}

func (f *fakeStoreRepo) GetUserKeys(ctx context.Context, userID int64) ([]*models.UserKeys, error) {
	var out []*models.UserKeys
	for keyType, qty := range f.keys[userID] {
		out = append(out, &models.UserKeys{UserID: userID, KeyType: keyType, Quantity: qty})
	}
	return out, nil
}

func (f *fakeStoreRepo) GetUserPurchases(ctx context.Context, userID int64) ([]*models.Purchase, error) {
	var out []*models.Purchase
	for _, p := range f.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStoreRepo) debit(ctx context.Context, userID, price int64) error {
	u, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Coins < price {
		return &repositories.InsufficientCoinsError{Balance: u.Coins, Required: price}
	}
	u.Coins -= price
	return nil
}

func (f *fakeStoreRepo) PurchaseRotationItem(ctx context.Context, userID int64, slot *models.RotationItem) (*models.Purchase, error) {
	if f.owned[userID][slot.ItemID] {
		return nil, repositories.ErrAlreadyOwned
	}
	if err := f.debit(ctx, userID, slot.Price); err != nil {
		return nil, err
	}
	if f.owned[userID] == nil {
		f.owned[userID] = make(map[int64]bool)
	}
	f.owned[userID][slot.ItemID] = true
	purchase := &models.Purchase{UserID: userID, ItemID: &slot.ItemID, Quantity: 1, CoinsPaid: slot.Price}
	f.purchases = append(f.purchases, purchase)
	return purchase, nil
}

func (f *fakeStoreRepo) PurchaseKeys(ctx context.Context, userID int64, keyType string, quantity int, price int64) (*models.Purchase, error) {
	if err := f.debit(ctx, userID, price); err != nil {
		return nil, err
	}
	if f.keys[userID] == nil {
		f.keys[userID] = make(map[string]int)
	}
	f.keys[userID][keyType] += quantity
	purchase := &models.Purchase{UserID: userID, KeyType: keyType, Quantity: quantity, CoinsPaid: price}
	f.purchases = append(f.purchases, purchase)
	return purchase, nil
}
