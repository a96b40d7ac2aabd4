package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/uptrace/bun"

	"github.com/parkourhub/parkbot/parkbot/config"
	"github.com/parkourhub/parkbot/parkbot/database/models"
)

// Rival is another player at the same skill rank as the user.
type Rival struct {
	UserID int64  `bun:"user_id"`
	Name   string `bun:"name"`
}

// RivalCandidate is a map where a given rival holds a better time than the
// user, close enough to be worth chasing.
type RivalCandidate struct {
	MapID     int64   `bun:"map_id"`
	RivalTime float64 `bun:"rival_time"`
	UserTime  float64 `bun:"user_time"`
}

type CompletionRepository interface {
	GetUserCompletions(ctx context.Context, userID int64) ([]*models.Completion, error)
	GetUserBestTime(ctx context.Context, userID, mapID int64) (float64, bool, error)
	GetDifficultyCounts(ctx context.Context, userID int64) (map[string]int, error)
	GetUserSkillRank(ctx context.Context, userID int64) (string, error)
	GetMap(ctx context.Context, mapID int64) (*models.Map, error)
	GetPercentileTime(ctx context.Context, mapID int64, quantile float64) (float64, bool, error)
	FindRivals(ctx context.Context, userID int64, rank string) ([]Rival, error)
	FindBeatableRivalMap(ctx context.Context, userID, rivalID int64) (*RivalCandidate, error)
	GetUncompletedMaps(ctx context.Context, userID int64, difficulties []string) ([]*models.Map, error)
	GetRandomImprovableMap(ctx context.Context, userID int64) (int64, float64, bool, error)
}

type completionRepository struct {
	db         *bun.DB
	thresholds *lru.Cache
}

func NewCompletionRepository(db *bun.DB) CompletionRepository {
	cache, _ := lru.New(config.MedalThresholdCacheSize)
	return &completionRepository{db: db, thresholds: cache}
}

func (r *completionRepository) GetUserCompletions(ctx context.Context, userID int64) ([]*models.Completion, error) {
	var completions []*models.Completion
	err := r.db.NewSelect().
		Model(&completions).
		Relation("Map").
		Where("c.user_id = ?", userID).
		Where("c.verified = TRUE").
		Order("c.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get completions for user %d: %w", userID, err)
	}
	return completions, nil
}

func (r *completionRepository) GetUserBestTime(ctx context.Context, userID, mapID int64) (float64, bool, error) {
	var best float64
	err := r.db.NewSelect().
		Model((*models.Completion)(nil)).
		ColumnExpr("MIN(time)").
		Where("user_id = ?", userID).
		Where("map_id = ?", mapID).
		Where("verified = TRUE").
		Scan(ctx, &best)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get best time: %w", err)
	}
	if best == 0 {
		return 0, false, nil
	}
	return best, true, nil
}

// GetDifficultyCounts returns the user's distinct verified map completions
// grouped by map difficulty.
func (r *completionRepository) GetDifficultyCounts(ctx context.Context, userID int64) (map[string]int, error) {
	var rows []struct {
		Difficulty string `bun:"difficulty"`
		Count      int    `bun:"count"`
	}
	err := r.db.NewSelect().
		Model((*models.Completion)(nil)).
		ColumnExpr("m.difficulty AS difficulty").
		ColumnExpr("COUNT(DISTINCT c.map_id) AS count").
		Join("JOIN maps AS m ON m.id = c.map_id").
		Where("c.user_id = ?", userID).
		Where("c.verified = TRUE").
		GroupExpr("m.difficulty").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get difficulty counts: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Difficulty] = row.Count
	}
	return counts, nil
}

func (r *completionRepository) GetUserSkillRank(ctx context.Context, userID int64) (string, error) {
	counts, err := r.GetDifficultyCounts(ctx, userID)
	if err != nil {
		return "", err
	}
	return config.SkillRankFor(counts), nil
}

// GetMap resolves a map row, caching it for medal threshold lookups made
// repeatedly during bounty generation.
func (r *completionRepository) GetMap(ctx context.Context, mapID int64) (*models.Map, error) {
	if cached, ok := r.thresholds.Get(mapID); ok {
		return cached.(*models.Map), nil
	}

	m := new(models.Map)
	err := r.db.NewSelect().
		Model(m).
		Where("id = ?", mapID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "map", ID: mapID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map %d: %w", mapID, err)
	}

	r.thresholds.Add(mapID, m)
	return m, nil
}

// GetPercentileTime computes the community time at the given quantile over
// verified best times on a map. The second return is false when nobody has
// completed the map.
func (r *completionRepository) GetPercentileTime(ctx context.Context, mapID int64, quantile float64) (float64, bool, error) {
	var pct sql.NullFloat64
	err := r.db.NewRaw(`
		SELECT percentile_cont(?) WITHIN GROUP (ORDER BY best_time)
		FROM (
			SELECT MIN(time) AS best_time
			FROM completions
			WHERE map_id = ? AND verified = TRUE
			GROUP BY user_id
		) bests`, quantile, mapID).
		Scan(ctx, &pct)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compute percentile time: %w", err)
	}
	if !pct.Valid {
		return 0, false, nil
	}
	return pct.Float64, true, nil
}

// FindRivals returns players at the given skill rank other than the user.
// Ranks are derived from per-difficulty completion counts, so the grouping
// happens in SQL and the gate walk in Go.
func (r *completionRepository) FindRivals(ctx context.Context, userID int64, rank string) ([]Rival, error) {
	var rows []struct {
		UserID     int64  `bun:"user_id"`
		Difficulty string `bun:"difficulty"`
		Count      int    `bun:"count"`
	}
	err := r.db.NewSelect().
		Model((*models.Completion)(nil)).
		ColumnExpr("c.user_id AS user_id").
		ColumnExpr("m.difficulty AS difficulty").
		ColumnExpr("COUNT(DISTINCT c.map_id) AS count").
		Join("JOIN maps AS m ON m.id = c.map_id").
		Where("c.verified = TRUE").
		Where("c.user_id <> ?", userID).
		GroupExpr("c.user_id, m.difficulty").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rival completion counts: %w", err)
	}

	counts := make(map[int64]map[string]int)
	for _, row := range rows {
		if counts[row.UserID] == nil {
			counts[row.UserID] = make(map[string]int)
		}
		counts[row.UserID][row.Difficulty] = row.Count
	}
	var ids []int64
	for id, c := range counts {
		if config.SkillRankFor(c) == rank {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rivals []Rival
	err = r.db.NewSelect().
		Model((*models.User)(nil)).
		ColumnExpr("id AS user_id").
		ColumnExpr("COALESCE(NULLIF(nickname, ''), global_name) AS name").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &rivals)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rival names: %w", err)
	}
	return rivals, nil
}

// FindBeatableRivalMap picks a random map where the rival's best time beats
// the user's but stays within reach. Returns nil when no such map exists.
func (r *completionRepository) FindBeatableRivalMap(ctx context.Context, userID, rivalID int64) (*RivalCandidate, error) {
	candidate := new(RivalCandidate)
	err := r.db.NewRaw(`
		WITH bests AS (
			SELECT user_id, map_id, MIN(time) AS best_time
			FROM completions
			WHERE verified = TRUE
			GROUP BY user_id, map_id
		)
		SELECT rb.map_id AS map_id,
		       rb.best_time AS rival_time,
		       ub.best_time AS user_time
		FROM bests ub
		JOIN bests rb ON rb.map_id = ub.map_id
		WHERE ub.user_id = ?
		  AND rb.user_id = ?
		  AND rb.best_time < ub.best_time
		  AND rb.best_time >= ub.best_time * ?
		ORDER BY RANDOM()
		LIMIT 1`, userID, rivalID, config.RivalBeatableFactor).
		Scan(ctx, candidate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find rival candidate: %w", err)
	}
	if candidate.MapID == 0 {
		return nil, nil
	}
	return candidate, nil
}

// GetUncompletedMaps returns maps in the given difficulties the user has no
// verified completion on, easiest difficulties first.
func (r *completionRepository) GetUncompletedMaps(ctx context.Context, userID int64, difficulties []string) ([]*models.Map, error) {
	var maps []*models.Map
	err := r.db.NewSelect().
		Model(&maps).
		Where("difficulty IN (?)", bun.In(difficulties)).
		Where("id NOT IN (SELECT map_id FROM completions WHERE user_id = ? AND verified = TRUE)", userID).
		OrderExpr("RANDOM()").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get uncompleted maps: %w", err)
	}
	return maps, nil
}

// GetRandomImprovableMap picks a random map the user has completed, along
// with their personal best there.
func (r *completionRepository) GetRandomImprovableMap(ctx context.Context, userID int64) (int64, float64, bool, error) {
	var row struct {
		MapID    int64   `bun:"map_id"`
		BestTime float64 `bun:"best_time"`
	}
	err := r.db.NewRaw(`
		SELECT map_id, MIN(time) AS best_time
		FROM completions
		WHERE user_id = ? AND verified = TRUE
		GROUP BY map_id
		ORDER BY RANDOM()
		LIMIT 1`, userID).
		Scan(ctx, &row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to pick improvable map: %w", err)
	}
	if row.MapID == 0 {
		return 0, 0, false, nil
	}
	return row.MapID, row.BestTime, true, nil
}
