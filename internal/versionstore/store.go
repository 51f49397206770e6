// Package versionstore implements the Version Store (component G): an
// in-memory, copy-on-write genealogy of GraphConfig parameter sets, with
// durable snapshotting through a narrow, best-effort sink.
package versionstore

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
	"github.com/hhlabs/trading-agent/pkg/utils"
)

// mediumScoreThreshold is find_best_for's minimum eligible score, matching
// the Agent Loop's own "medium" threshold (§4.H) so a suggestion is never
// worse than what the agent would optimise toward anyway.
const mediumScoreThreshold = 50.0

// conditionDistanceWeight scales the market-conditions distance penalty in
// find_best_for's ranking formula.
const conditionDistanceWeight = 10.0

// Sink persists Versions durably; failures must never block the agent.
// Grounded on the spec's note that the relational layer is out of scope but
// the interface it plugs into is not — this stands in for that layer.
type Sink interface {
	Upsert(ctx context.Context, v types.AgentVersion) error
}

// NoopSink discards every record. Used for sinkless deployments and tests.
type NoopSink struct{}

func (NoopSink) Upsert(context.Context, types.AgentVersion) error { return nil }

// Store is a single-writer (the Agent), many-reader genealogy of Versions.
// Reads of the currently adopted Version are lock-free: adoption publishes
// a fully populated snapshot through an atomic.Pointer, matching §5's
// copy-on-write / atomic-swap requirement; the full list is still guarded
// by a mutex since it grows and is walked linearly, following the teacher's
// general preference (internal/strategy/strategy.go's StrategyRegistry) for
// an explicit mutex-guarded map over a generic concurrent container.
type Store struct {
	mu   sync.Mutex
	byID map[string]*types.AgentVersion

	current atomic.Pointer[types.AgentVersion]

	sink   Sink
	logger *zap.Logger
}

// New constructs an empty Store. sink may be NoopSink{}.
func New(sink Sink, logger *zap.Logger) *Store {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Store{
		byID:   make(map[string]*types.AgentVersion),
		sink:   sink,
		logger: logger.Named("version_store"),
	}
}

// Create appends a new Version derived from cfg, optionally tracing a
// parent, and persists it asynchronously through the sink. It does not
// adopt the Version; call Adopt separately.
func (s *Store) Create(cfg types.GraphConfig, parentID string) types.AgentVersion {
	v := types.AgentVersion{
		ID:        utils.GenerateVersionID(),
		Name:      cfg.Name,
		Config:    cfg,
		CreatedAt: time.Now(),
		ParentID:  parentID,
	}

	s.mu.Lock()
	s.byID[v.ID] = &v
	s.mu.Unlock()

	s.persistAsync(v)
	return v
}

// Current returns the currently adopted Version. The zero value (ID=="")
// means none has been adopted yet.
func (s *Store) Current() types.AgentVersion {
	p := s.current.Load()
	if p == nil {
		return types.AgentVersion{}
	}
	return *p
}

// Adopt marks v (by ID) as the currently active Version, demoting whatever
// was previously active, and publishes the new snapshot atomically.
func (s *Store) Adopt(id string) (types.AgentVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok {
		return types.AgentVersion{}, false
	}

	if prev := s.current.Load(); prev != nil {
		if demoted, ok := s.byID[prev.ID]; ok {
			demoted.IsActive = false
		}
	}
	v.IsActive = true
	snapshot := *v
	s.current.Store(&snapshot)

	s.persistAsync(snapshot)
	return snapshot, true
}

// Annotate records the outcome of a simulation against v, overwriting its
// score/winrate/market-conditions with the latest run (§3: "scores
// overwritten by the latest simulation using that version").
func (s *Store) Annotate(id string, score, winRate float64, conditions types.MarketConditions) (types.AgentVersion, bool) {
	s.mu.Lock()
	v, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return types.AgentVersion{}, false
	}
	v.Score = score
	v.WinRate = winRate
	v.TotalSimulations++
	v.MarketConditions = conditions
	updated := *v
	s.mu.Unlock()

	if cur := s.current.Load(); cur != nil && cur.ID == id {
		s.current.Store(&updated)
	}
	s.persistAsync(updated)
	return updated, true
}

// MarkProduction flags v as ready-for-live (IsProduction=true) once a short
// validation simulation confirms its winrate holds up, per §4.H step 3.
// Marking production status is purely an observability flag in the core: no
// order-execution path is reachable from it (§1 non-goal, §9 "go live"
// decision).
func (s *Store) MarkProduction(id string) (types.AgentVersion, bool) {
	s.mu.Lock()
	v, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return types.AgentVersion{}, false
	}
	v.IsProduction = true
	updated := *v
	s.mu.Unlock()

	if cur := s.current.Load(); cur != nil && cur.ID == id {
		s.current.Store(&updated)
	}
	s.persistAsync(updated)
	return updated, true
}

// List returns every known Version, unordered.
func (s *Store) List() []types.AgentVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AgentVersion, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, *v)
	}
	return out
}

// FindBestFor ranks every non-current Version scoring at least
// mediumScoreThreshold by score - conditionDistanceWeight * distance(conditions, v),
// returning the top one if any is eligible.
func (s *Store) FindBestFor(conditions types.MarketConditions) (types.AgentVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID := ""
	if cur := s.current.Load(); cur != nil {
		currentID = cur.ID
	}

	var best *types.AgentVersion
	var bestRank float64
	for _, v := range s.byID {
		if v.ID == currentID || v.Score < mediumScoreThreshold {
			continue
		}
		rank := v.Score - conditionDistanceWeight*conditionDistance(conditions, v.MarketConditions)
		if best == nil || rank > bestRank {
			c := *v
			best = &c
			bestRank = rank
		}
	}
	if best == nil {
		return types.AgentVersion{}, false
	}
	return *best, true
}

// conditionDistance is the mean absolute normalised difference over
// {rsi, volatility, trend, momentum}, each divided by 100.
func conditionDistance(a, b types.MarketConditions) float64 {
	d := math.Abs(a.RSI-b.RSI) + math.Abs(a.Volatility-b.Volatility) +
		math.Abs(a.Trend-b.Trend) + math.Abs(a.Momentum-b.Momentum)
	return d / 100 / 4
}

// persistAsync fires the sink write in its own goroutine; failures are
// logged, never propagated, since a durable-sink outage must not block the
// agent (§6).
func (s *Store) persistAsync(v types.AgentVersion) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.Upsert(ctx, v); err != nil {
			s.logger.Warn("version sink upsert failed", zap.String("version_id", v.ID), zap.Error(err))
		}
	}()
}
