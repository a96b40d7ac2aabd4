package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Requirement kinds. The persisted envelope uses these as the "type" tag.
const (
	RequirementCompleteMaps            = "complete_maps"
	RequirementEarnMedals              = "earn_medals"
	RequirementCompleteDifficultyRange = "complete_difficulty_range"
	RequirementBeatTime                = "beat_time"
	RequirementBeatRival               = "beat_rival"
	RequirementCompleteMap             = "complete_map"
)

// Event types consumed by the progress engine.
const (
	EventTypeCompletion = "completion"
)

// Medal types, weakest to strongest.
const (
	MedalBronze = "bronze"
	MedalSilver = "silver"
	MedalGold   = "gold"
	MedalAny    = "any"
)

// EventData is the payload of a gameplay event forwarded by the completions
// subsystem on (un)verification.
type EventData struct {
	MapID      int64   `json:"map_id"`
	Code       string  `json:"code,omitempty"`
	Difficulty string  `json:"difficulty,omitempty"`
	Category   string  `json:"category,omitempty"`
	Time       float64 `json:"time,omitempty"`
	Medal      string  `json:"medal,omitempty"`
}

// RemainingEvidence is the caller-supplied snapshot of evidence that still
// validly supports a user/map after an event has been invalidated: the
// verified times the user still holds on that map and the medals still
// legitimately earned there. Reversion recomputes from this snapshot rather
// than decrementing blindly.
type RemainingEvidence struct {
	Times  []float64 `json:"remaining_times"`
	Medals []string  `json:"remaining_medals"`
}

// Progress is the per-kind mutable progress state of a quest. Each
// Requirement implementation owns exactly one concrete Progress type; the
// engines only ever see the decoded struct, never raw JSON maps.
type Progress interface {
	isProgress()
}

// Requirement describes what a quest demands and how progress toward it is
// measured. One implementation exists per kind; dispatch is a closed union.
type Requirement interface {
	Kind() string

	// Matches reports whether an event is applicable to this requirement.
	Matches(eventType string, ev EventData) bool

	// NewProgress returns the zeroed progress state for a fresh quest row.
	NewProgress() Progress

	// Advance folds an applicable event into the progress state and reports
	// whether anything changed. Counting kinds de-dupe per map.
	Advance(p Progress, ev EventData) bool

	// Revert recomputes the progress state after the given event was
	// invalidated, using the remaining-evidence snapshot as the source of
	// truth for that map.
	Revert(p Progress, ev EventData, remaining RemainingEvidence)

	// Satisfied reports whether the progress state completes the quest.
	Satisfied(p Progress) bool

	// Fulfill force-patches the progress state to a satisfied one. Used by
	// the admin override path.
	Fulfill(p Progress)

	// DecodeProgress deserializes this kind's progress state.
	DecodeProgress(raw json.RawMessage) (Progress, error)
}

// RequirementSpec wraps a Requirement for storage: it serializes to and from
// the tagged JSON envelope used in quest definitions and quest_data
// snapshots.
type RequirementSpec struct {
	Requirement
}

func NewRequirementSpec(r Requirement) RequirementSpec {
	return RequirementSpec{Requirement: r}
}

func (s RequirementSpec) MarshalJSON() ([]byte, error) {
	if s.Requirement == nil {
		return []byte("null"), nil
	}

	inner, err := json.Marshal(s.Requirement)
	if err != nil {
		return nil, err
	}

	// Splice the type tag into the object.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", s.Requirement.Kind()))
	return json.Marshal(fields)
}

func (s *RequirementSpec) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to read requirement envelope: %w", err)
	}

	var r Requirement
	switch envelope.Type {
	case RequirementCompleteMaps:
		r = &CompleteMapsRequirement{}
	case RequirementEarnMedals:
		r = &EarnMedalsRequirement{}
	case RequirementCompleteDifficultyRange:
		r = &CompleteDifficultyRangeRequirement{}
	case RequirementBeatTime:
		r = &BeatTimeRequirement{}
	case RequirementBeatRival:
		r = &BeatRivalRequirement{}
	case RequirementCompleteMap:
		r = &CompleteMapRequirement{}
	default:
		return fmt.Errorf("unknown requirement type: %q", envelope.Type)
	}

	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("failed to decode %s requirement: %w", envelope.Type, err)
	}
	s.Requirement = r
	return nil
}

// EncodeProgress serializes a progress state for storage.
func EncodeProgress(p Progress) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}
	return raw, nil
}

func medalRank(medal string) int {
	switch strings.ToLower(medal) {
	case MedalBronze:
		return 1
	case MedalSilver:
		return 2
	case MedalGold:
		return 3
	default:
		return 0
	}
}

// medalSatisfies reports whether an earned medal meets a quest's medal
// filter. A stronger medal always satisfies a weaker filter.
func medalSatisfies(earned, filter string) bool {
	if earned == "" {
		return false
	}
	if filter == "" || strings.EqualFold(filter, MedalAny) {
		return true
	}
	return medalRank(earned) >= medalRank(filter)
}

func filterMatches(filter, value string) bool {
	if filter == "" || strings.EqualFold(filter, "any") {
		return true
	}
	return strings.EqualFold(filter, value)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func minOf(times []float64) float64 {
	best := times[0]
	for _, t := range times[1:] {
		if t < best {
			best = t
		}
	}
	return best
}

func bestMedal(medals []string) string {
	best := ""
	for _, m := range medals {
		if medalRank(m) > medalRank(best) {
			best = m
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// complete_maps

// CompleteMapsRequirement asks for a number of distinct map completions,
// optionally filtered by map difficulty and/or category.
type CompleteMapsRequirement struct {
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty,omitempty"`
	Category   string `json:"category,omitempty"`
}

// MapCountProgress tracks distinct counted maps plus per-difficulty detail
// counters.
type MapCountProgress struct {
	Current         int            `json:"current"`
	Target          int            `json:"target"`
	CompletedMapIDs []int64        `json:"completed_map_ids"`
	Details         map[string]int `json:"details,omitempty"`
}

func (*MapCountProgress) isProgress() {}

func (r *CompleteMapsRequirement) Kind() string { return RequirementCompleteMaps }

func (r *CompleteMapsRequirement) Matches(eventType string, ev EventData) bool {
	if eventType != EventTypeCompletion {
		return false
	}
	return filterMatches(r.Difficulty, ev.Difficulty) && filterMatches(r.Category, ev.Category)
}

func (r *CompleteMapsRequirement) NewProgress() Progress {
	return &MapCountProgress{
		Target:          r.Count,
		CompletedMapIDs: []int64{},
		Details:         map[string]int{},
	}
}

func (r *CompleteMapsRequirement) Advance(p Progress, ev EventData) bool {
	mp, ok := p.(*MapCountProgress)
	if !ok {
		return false
	}
	if containsID(mp.CompletedMapIDs, ev.MapID) {
		return false
	}
	mp.CompletedMapIDs = append(mp.CompletedMapIDs, ev.MapID)
	mp.Current++
	if ev.Difficulty != "" {
		if mp.Details == nil {
			mp.Details = map[string]int{}
		}
		mp.Details[strings.ToLower(ev.Difficulty)]++
	}
	return true
}

func (r *CompleteMapsRequirement) Revert(p Progress, ev EventData, remaining RemainingEvidence) {
	mp, ok := p.(*MapCountProgress)
	if !ok || !containsID(mp.CompletedMapIDs, ev.MapID) {
		return
	}
	// Another verified completion on the same map keeps the map counted.
	if len(remaining.Times) > 0 {
		return
	}
	mp.CompletedMapIDs = removeID(mp.CompletedMapIDs, ev.MapID)
	if mp.Current > 0 {
		mp.Current--
	}
	if ev.Difficulty != "" && mp.Details != nil {
		key := strings.ToLower(ev.Difficulty)
		if mp.Details[key] > 0 {
			mp.Details[key]--
		}
	}
}

func (r *CompleteMapsRequirement) Satisfied(p Progress) bool {
	mp, ok := p.(*MapCountProgress)
	return ok && mp.Current >= mp.Target
}

func (r *CompleteMapsRequirement) Fulfill(p Progress) {
	if mp, ok := p.(*MapCountProgress); ok {
		mp.Current = mp.Target
	}
}

func (r *CompleteMapsRequirement) DecodeProgress(raw json.RawMessage) (Progress, error) {
	return decodeProgress(raw, &MapCountProgress{Target: r.Count})
}

// ---------------------------------------------------------------------------
// earn_medals

// EarnMedalsRequirement asks for medals on a number of distinct maps,
// optionally restricted to a minimum medal type.
type EarnMedalsRequirement struct {
	Count     int    `json:"count"`
	MedalType string `json:"medal_type"`
}

type MedalEntry struct {
	MapID     int64  `json:"map_id"`
	MedalType string `json:"medal_type"`
}

type MedalProgress struct {
	Current       int          `json:"current"`
	Target        int          `json:"target"`
	CountedMapIDs []int64      `json:"counted_map_ids"`
	Medals        []MedalEntry `json:"medals"`
}

func (*MedalProgress) isProgress() {}

func (r *EarnMedalsRequirement) Kind() string { return RequirementEarnMedals }

func (r *EarnMedalsRequirement) Matches(eventType string, ev EventData) bool {
	return eventType == EventTypeCompletion && medalSatisfies(ev.Medal, r.MedalType)
}

func (r *EarnMedalsRequirement) NewProgress() Progress {
	return &MedalProgress{
		Target:        r.Count,
		CountedMapIDs: []int64{},
		Medals:        []MedalEntry{},
	}
}

func (r *EarnMedalsRequirement) Advance(p Progress, ev EventData) bool {
	mp, ok := p.(*MedalProgress)
	if !ok {
		return false
	}
	if containsID(mp.CountedMapIDs, ev.MapID) {
		return false
	}
	mp.CountedMapIDs = append(mp.CountedMapIDs, ev.MapID)
	mp.Medals = append(mp.Medals, MedalEntry{MapID: ev.MapID, MedalType: strings.ToLower(ev.Medal)})
	mp.Current++
	return true
}

func (r *EarnMedalsRequirement) Revert(p Progress, ev EventData, remaining RemainingEvidence) {
	mp, ok := p.(*MedalProgress)
	if !ok || !containsID(mp.CountedMapIDs, ev.MapID) {
		return
	}
	// A surviving medal on the map that still meets the filter keeps the
	// contribution; record the best of what remains.
	for _, m := range remaining.Medals {
		if medalSatisfies(m, r.MedalType) {
			for i := range mp.Medals {
				if mp.Medals[i].MapID == ev.MapID {
					mp.Medals[i].MedalType = strings.ToLower(bestMedal(remaining.Medals))
				}
			}
			return
		}
	}
	mp.CountedMapIDs = removeID(mp.CountedMapIDs, ev.MapID)
	kept := mp.Medals[:0]
	for _, m := range mp.Medals {
		if m.MapID != ev.MapID {
			kept = append(kept, m)
		}
	}
	mp.Medals = kept
	if mp.Current > 0 {
		mp.Current--
	}
}

func (r *EarnMedalsRequirement) Satisfied(p Progress) bool {
	mp, ok := p.(*MedalProgress)
	return ok && mp.Current >= mp.Target
}

func (r *EarnMedalsRequirement) Fulfill(p Progress) {
	if mp, ok := p.(*MedalProgress); ok {
		mp.Current = mp.Target
	}
}

func (r *EarnMedalsRequirement) DecodeProgress(raw json.RawMessage) (Progress, error) {
	return decodeProgress(raw, &MedalProgress{Target: r.Count})
}

// ---------------------------------------------------------------------------
// complete_difficulty_range

// CompleteDifficultyRangeRequirement asks for distinct completions within a
// single map difficulty.
type CompleteDifficultyRangeRequirement struct {
	MinCount   int    `json:"min_count"`
	Difficulty string `json:"difficulty"`
}

func (r *CompleteDifficultyRangeRequirement) Kind() string {
	return RequirementCompleteDifficultyRange
}

func (r *CompleteDifficultyRangeRequirement) Matches(eventType string, ev EventData) bool {
	return eventType == EventTypeCompletion && strings.EqualFold(r.Difficulty, ev.Difficulty)
}

func (r *CompleteDifficultyRangeRequirement) NewProgress() Progress {
	return &MapCountProgress{
		Target:          r.MinCount,
		CompletedMapIDs: []int64{},
	}
}

func (r *CompleteDifficultyRangeRequirement) Advance(p Progress, ev EventData) bool {
	mp, ok := p.(*MapCountProgress)
	if !ok {
		return false
	}
	if containsID(mp.CompletedMapIDs, ev.MapID) {
		return false
	}
	mp.CompletedMapIDs = append(mp.CompletedMapIDs, ev.MapID)
	mp.Current++
	return true
}

func (r *CompleteDifficultyRangeRequirement) Revert(p Progress, ev EventData, remaining RemainingEvidence) {
	mp, ok := p.(*MapCountProgress)
	if !ok || !containsID(mp.CompletedMapIDs, ev.MapID) {
		return
	}
	if len(remaining.Times) > 0 {
		return
	}
	mp.CompletedMapIDs = removeID(mp.CompletedMapIDs, ev.MapID)
	if mp.Current > 0 {
		mp.Current--
	}
}

func (r *CompleteDifficultyRangeRequirement) Satisfied(p Progress) bool {
	mp, ok := p.(*MapCountProgress)
	return ok && mp.Current >= r.MinCount
}

func (r *CompleteDifficultyRangeRequirement) Fulfill(p Progress) {
	if mp, ok := p.(*MapCountProgress); ok {
		mp.Current = r.MinCount
	}
}

func (r *CompleteDifficultyRangeRequirement) DecodeProgress(raw json.RawMessage) (Progress, error) {
	return decodeProgress(raw, &MapCountProgress{Target: r.MinCount})
}

// ---------------------------------------------------------------------------
// beat_time

// BeatTimeRequirement asks the user to beat a target time on one map. The
// target was derived at bounty-generation time (medal threshold, percentile
// or personal best).
type BeatTimeRequirement struct {
	MapID       int64   `json:"map_id"`
	TargetTime  float64 `json:"target_time"`
	TargetType  string  `json:"target_type"`
	CurrentBest float64 `json:"current_best,omitempty"`
}

// TimeProgress tracks the running best and most recent attempt on a single
// map. Both fields are nil until the first applicable completion arrives.
type TimeProgress struct {
	MapID       int64    `json:"map_id"`
	TargetTime  float64  `json:"target_time"`
	BestAttempt *float64 `json:"best_attempt"`
	LastAttempt *float64 `json:"last_attempt"`
}

func (*TimeProgress) isProgress() {}

func advanceTime(tp *TimeProgress, t float64) bool {
	tp.LastAttempt = &t
	if tp.BestAttempt == nil || t < *tp.BestAttempt {
		best := t
		tp.BestAttempt = &best
	}
	return true
}

func revertTime(tp *TimeProgress, remaining RemainingEvidence) {
	if len(remaining.Times) == 0 {
		tp.BestAttempt = nil
		tp.LastAttempt = nil
		return
	}
	best := minOf(remaining.Times)
	tp.BestAttempt = &best
	tp.LastAttempt = &best
}

func (r *BeatTimeRequirement) Kind() string { return RequirementBeatTime }

func (r *BeatTimeRequirement) Matches(eventType string, ev EventData) bool {
	return eventType == EventTypeCompletion && ev.MapID == r.MapID
}

func (r *BeatTimeRequirement) NewProgress() Progress {
	return &TimeProgress{MapID: r.MapID, TargetTime: r.TargetTime}
}

func (r *BeatTimeRequirement) Advance(p Progress, ev EventData) bool {
	tp, ok := p.(*TimeProgress)
	if !ok {
		return false
	}
	return advanceTime(tp, ev.Time)
}

func (r *BeatTimeRequirement) Revert(p Progress, ev EventData, remaining RemainingEvidence) {
	if tp, ok := p.(*TimeProgress); ok {
		revertTime(tp, remaining)
	}
}

func (r *BeatTimeRequirement) Satisfied(p Progress) bool {
	tp, ok := p.(*TimeProgress)
	return ok && tp.BestAttempt != nil && *tp.BestAttempt < r.TargetTime
}

func (r *BeatTimeRequirement) Fulfill(p Progress) {
	if tp, ok := p.(*TimeProgress); ok {
		best := r.TargetTime
		tp.BestAttempt = &best
		tp.LastAttempt = &best
	}
}

func (r *BeatTimeRequirement) DecodeProgress(raw json.RawMessage) (Progress, error) {
	return decodeProgress(raw, &TimeProgress{MapID: r.MapID, TargetTime: r.TargetTime})
}

// ---------------------------------------------------------------------------
// beat_rival

// BeatRivalRequirement asks the user to beat a specific rival's time on one
// map. Persisting the rival's identity lets notifications name them.
type BeatRivalRequirement struct {
	MapID       int64   `json:"map_id"`
	RivalUserID int64   `json:"rival_user_id"`
	RivalName   string  `json:"rival_name,omitempty"`
	RivalTime   float64 `json:"rival_time"`
	TargetTime  float64 `json:"target_time"`
}

func (r *BeatRivalRequirement) Kind() string { return RequirementBeatRival }

func (r *BeatRivalRequirement) Matches(eventType string, ev EventData) bool {
	return eventType == EventTypeCompletion && ev.MapID == r.MapID
}

func (r *BeatRivalRequirement) NewProgress() Progress {
	return &TimeProgress{MapID: r.MapID, TargetTime: r.TargetTime}
}

func (r *BeatRivalRequirement) Advance(p Progress, ev EventData) bool {
	tp, ok := p.(*TimeProgress)
	if !ok {
		return false
	}
	return advanceTime(tp, ev.Time)
}

func (r *BeatRivalRequirement) Revert(p Progress, ev EventData, remaining RemainingEvidence) {
	if tp, ok := p.(*TimeProgress); ok {
		revertTime(tp, remaining)
	}
}

func (r *BeatRivalRequirement) Satisfied(p Progress) bool {
	tp, ok := p.(*TimeProgress)
	return ok && tp.BestAttempt != nil && *tp.BestAttempt < r.TargetTime
}

func (r *BeatRivalRequirement) Fulfill(p Progress) {
	if tp, ok := p.(*TimeProgress); ok {
		best := r.TargetTime
		tp.BestAttempt = &best
		tp.LastAttempt = &best
	}
}

func (r *BeatRivalRequirement) DecodeProgress(raw json.RawMessage) (Progress, error) {
	return decodeProgress(raw, &TimeProgress{MapID: r.MapID, TargetTime: r.TargetTime})
}

// ---------------------------------------------------------------------------
// complete_map

// CompleteMapTarget is the fixed wire value of a complete_map target.
const CompleteMapTarget = "complete"

// CompleteMapRequirement asks for a single completion of one specific map.
type CompleteMapRequirement struct {
	MapID  int64  `json:"map_id"`
	Target string `json:"target"`
}

type CompleteMapProgress struct {
	Completed   bool   `json:"completed"`
	MedalEarned string `json:"medal_earned,omitempty"`
}

func (*CompleteMapProgress) isProgress() {}

func (r *CompleteMapRequirement) Kind() string { return RequirementCompleteMap }

func (r *CompleteMapRequirement) Matches(eventType string, ev EventData) bool {
	return eventType == EventTypeCompletion && ev.MapID == r.MapID
}

func (r *CompleteMapRequirement) NewProgress() Progress {
	return &CompleteMapProgress{}
}

func (r *CompleteMapRequirement) Advance(p Progress, ev EventData) bool {
	cp, ok := p.(*CompleteMapProgress)
	if !ok {
		return false
	}
	changed := false
	if !cp.Completed {
		cp.Completed = true
		changed = true
	}
	if ev.Medal != "" && medalRank(ev.Medal) > medalRank(cp.MedalEarned) {
		cp.MedalEarned = strings.ToLower(ev.Medal)
		changed = true
	}
	return changed
}

func (r *CompleteMapRequirement) Revert(p Progress, ev EventData, remaining RemainingEvidence) {
	cp, ok := p.(*CompleteMapProgress)
	if !ok {
		return
	}
	if len(remaining.Times) == 0 {
		cp.Completed = false
		cp.MedalEarned = ""
		return
	}
	cp.MedalEarned = strings.ToLower(bestMedal(remaining.Medals))
}

func (r *CompleteMapRequirement) Satisfied(p Progress) bool {
	cp, ok := p.(*CompleteMapProgress)
	return ok && cp.Completed
}

func (r *CompleteMapRequirement) Fulfill(p Progress) {
	if cp, ok := p.(*CompleteMapProgress); ok {
		cp.Completed = true
	}
}

func (r *CompleteMapRequirement) DecodeProgress(raw json.RawMessage) (Progress, error) {
	return decodeProgress(raw, &CompleteMapProgress{})
}

// ---------------------------------------------------------------------------

func decodeProgress[T Progress](raw json.RawMessage, zero T) (Progress, error) {
	if len(raw) == 0 {
		return zero, nil
	}
	if err := json.Unmarshal(raw, zero); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return zero, nil
}
