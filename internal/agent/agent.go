// Package agent implements the Agent Loop (component H): the top-level FSM
// that orchestrates the Price Source, Indicator Kernel, Signal Evaluator,
// Paper Trader, Advisor Client and Version Store, deciding between
// re-simulating, optimising, searching history, or (as a no-op in the
// core) going live.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/internal/advisor"
	"github.com/hhlabs/trading-agent/internal/errs"
	"github.com/hhlabs/trading-agent/internal/events"
	"github.com/hhlabs/trading-agent/internal/price"
	"github.com/hhlabs/trading-agent/internal/trader"
	"github.com/hhlabs/trading-agent/internal/versionstore"
	"github.com/hhlabs/trading-agent/pkg/types"
)

// maxRecentResults bounds how many SimulationResults are kept for the
// optimise prompt's "recent_results"/"patterns" context (§4.H step 5).
const maxRecentResults = 10

// recentResultsForOptimize is how many of those are actually sent.
const recentResultsForOptimize = 5

// consecutiveFailureReset is the failure count at which the backoff counter
// resets and the agent simply continues, rather than terminating itself.
const consecutiveFailureReset = 5

// backoffBase and backoffCap implement the bounded exponential backoff
// 10*2^attempt, capped at 300s.
const backoffBase = 10 * time.Second
const backoffCap = 300 * time.Second

// Runtime is everything the Agent Loop needs to drive one symbol's
// simulation cycle. Grounded on the teacher's internal/autonomous/agent.go
// TradingAgent for its Start/Stop/mainLoop shape (mutex-guarded boolean
// state, a stopChan closed once, time.Ticker + select{ctx.Done(),
// stopChan, ticker.C}), generalised from its single flat loop into the
// nine-state hierarchical FSM this component implements; the
// optimise/search-history branch logic additionally follows
// original_source/.../trading_agent.py's _run_agent_cycle /
// _optimize_and_retry / _find_best_historical_version methods, without that
// file's module-level singleton.
type Runtime struct {
	cfg     types.AgentRuntimeConfig
	priceCfg types.PriceSourceConfig

	bus      *events.Bus
	store    *versionstore.Store
	advisor  *advisor.Client
	logger   *zap.Logger

	mu                  sync.RWMutex
	state               types.AgentState
	running             bool
	startedAt           time.Time
	consecutiveFailures int
	totalSimulationsRun int
	stopChan            chan struct{}
	currentTrader       *trader.Trader
	recentResults       []types.SimulationResult
}

// New constructs a Runtime in state IDLE.
func New(cfg types.AgentRuntimeConfig, priceCfg types.PriceSourceConfig, bus *events.Bus, store *versionstore.Store, advisorClient *advisor.Client, logger *zap.Logger) *Runtime {
	return &Runtime{
		cfg:      cfg,
		priceCfg: priceCfg,
		bus:      bus,
		store:    store,
		advisor:  advisorClient,
		logger:   logger.Named("agent"),
		state:    types.StateIdle,
	}
}

// Start launches the agent's main loop as one goroutine. Returns an error
// if already running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	r.running = true
	r.startedAt = time.Now()
	r.stopChan = make(chan struct{})
	r.mu.Unlock()

	go r.mainLoop(ctx)
	return nil
}

// Stop requests cooperative shutdown: any open Position is closed with
// agent_stopped and the agent transitions to IDLE. Safe to call if not
// running.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return fmt.Errorf("agent not running")
	}
	r.running = false
	close(r.stopChan)
	return nil
}

// Status projects the current AgentStatus for the HTTP surface.
func (r *Runtime) Status() types.AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := types.AgentStatus{
		State:               r.state,
		Running:             r.running,
		Symbol:              r.cfg.Symbol,
		TotalSimulationsRun: r.totalSimulationsRun,
		ConsecutiveFailures: r.consecutiveFailures,
		StartedAt:           r.startedAt,
	}
	if v := r.store.Current(); v.ID != "" {
		status.CurrentVersionID = v.ID
		status.CurrentVersionName = v.Name
	}
	if r.currentTrader != nil {
		status.Stats = r.currentTrader.Stats()
	}
	return status
}

// Orders returns every ClosedTrade from the current (or most recent)
// simulation, plus the currently open Position if any.
func (r *Runtime) Orders() ([]types.ClosedTrade, *types.Position) {
	r.mu.RLock()
	tr := r.currentTrader
	r.mu.RUnlock()
	if tr == nil {
		return nil, nil
	}
	return tr.Trades(), tr.Position()
}

// Simulations returns the bounded recent-results history.
func (r *Runtime) Simulations() []types.SimulationResult {
	return r.lastNResults(maxRecentResults)
}

// Versions returns every known Version from the Version Store.
func (r *Runtime) Versions() []types.AgentVersion {
	return r.store.List()
}

// Bus exposes the shared Event Bus for the HTTP surface's event endpoints.
func (r *Runtime) Bus() *events.Bus { return r.bus }

func (r *Runtime) setState(s types.AgentState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.bus.Info(types.EventStateChanged, "agent state changed", map[string]any{"state": string(s)})
}

// mainLoop implements steps 1-7 of §4.H's cycle. A cooperative cancellation
// check occurs at the top of each cycle; a bounded exponential backoff
// applies when a simulation aborts with an error.
func (r *Runtime) mainLoop(ctx context.Context) {
	if err := r.bootstrap(ctx); err != nil {
		r.logger.Error("bootstrap failed", zap.Error(err))
		r.setState(types.StateError)
		return
	}
	r.setState(types.StateRunningInitial)

	// cycleCtx is cancelled the instant Stop() closes stopChan, so a
	// simulation currently blocked inside tr.Run observes cancellation
	// between ticks rather than running to its full duration (§5
	// cancellation: "a running simulation observes cancellation between
	// ticks and closes its Position before exiting").
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.stopGracefully()
			return
		case <-r.stopChan:
			r.stopGracefully()
			return
		default:
		}

		if err := r.runCycle(cycleCtx); err != nil {
			r.handleCycleError(ctx, err)
			continue
		}
		r.mu.Lock()
		r.consecutiveFailures = 0
		r.mu.Unlock()
	}
}

// bootstrap keeps an already adopted version (idempotent) and otherwise
// creates and adopts v1_initial (§4.H step 1). It does not read prior
// versions back from the sink; versionstore.Sink only accepts writes.
func (r *Runtime) bootstrap(ctx context.Context) error {
	if r.store.Current().ID != "" {
		return nil
	}
	cfg := types.DefaultScalpingConfig()
	v := r.store.Create(cfg, "")
	if _, ok := r.store.Adopt(v.ID); !ok {
		return errs.NewStructural("version_adopted", fmt.Errorf("failed to adopt freshly created version"))
	}
	r.bus.Info(types.EventVersionCreated, "initial version created", map[string]any{"versionId": v.ID})
	return nil
}

// runCycle runs one pass of steps 2-6: an initial simulation, evaluation,
// and the optimise/short-sim/search-history branch it leads to.
func (r *Runtime) runCycle(ctx context.Context) error {
	current := r.store.Current()

	result, err := r.runSimulation(ctx, current.Config, r.cfg.InitialSimDuration)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		// Stop was requested mid-simulation; the Trader already closed its
		// Position with agent_stopped. Let mainLoop's outer select handle
		// the graceful shutdown rather than proceeding to evaluate.
		return nil
	}
	r.recordResult(current.ID, result)

	if reverted := r.revertOnScoreDrop(current, result); reverted {
		// The parent version was put back in charge; give the next cycle a
		// clean run under it rather than evaluating/optimising this regression.
		return nil
	}

	r.setState(types.StateEvaluating)
	decision := r.evaluateSimulation(ctx, result)

	switch decision {
	case decideRunShortSim:
		return r.runShortSim(ctx, current, result)
	case decideSearchHistory:
		return r.searchHistory(ctx, result)
	default: // decideOptimize
		return r.optimize(ctx, current, result)
	}
}

// revertOnScoreDrop guards against an optimisation that regressed: if
// current was produced from a parent whose last annotated score beat this
// run's by more than cfg.ScoreDropTolerance, the parent is re-adopted
// instead of carrying the regression forward into evaluate/optimise.
func (r *Runtime) revertOnScoreDrop(current types.AgentVersion, result types.SimulationResult) bool {
	if current.ParentID == "" || r.cfg.ScoreDropTolerance <= 0 {
		return false
	}
	var parent types.AgentVersion
	found := false
	for _, v := range r.store.List() {
		if v.ID == current.ParentID {
			parent = v
			found = true
			break
		}
	}
	if !found || parent.Score <= 0 {
		return false
	}
	if result.Score >= parent.Score-r.cfg.ScoreDropTolerance {
		return false
	}

	r.bus.Warning(types.EventInfo, "optimized version regressed past tolerance, reverting to parent", map[string]any{
		"versionId": current.ID, "parentId": parent.ID, "score": result.Score, "parentScore": parent.Score,
	})
	r.adoptVersion(parent)
	return true
}

type evaluationDecision int

const (
	decideOptimize evaluationDecision = iota
	decideRunShortSim
	decideSearchHistory
)

// evaluateSimulation asks EVALUATE_SIMULATION and combines its opinion with
// the high/medium score thresholds, per §4.H step 3.
func (r *Runtime) evaluateSimulation(ctx context.Context, result types.SimulationResult) evaluationDecision {
	resp := r.advisor.Think(ctx, types.NodeEvaluateSimulation, map[string]any{
		"score": result.Score, "winRate": result.WinRate, "pnlPercent": result.PnLPercent,
	})
	r.bus.Info(types.EventAdvisorCalled, "advisor consulted", map[string]any{
		"node": string(types.NodeEvaluateSimulation), "fallback": resp.Fallback,
	})

	action, _ := resp.Content["verdict"].(string)
	switch {
	case action == "run_short_sim" || result.Score >= r.cfg.HighScoreThreshold:
		return decideRunShortSim
	case action == "search_history" || result.Score < r.cfg.MediumScoreThreshold:
		return decideSearchHistory
	default:
		return decideOptimize
	}
}

// runShortSim runs the short_sim_duration validation simulation; a winrate
// at least as good as the initial run earns the version one further,
// longer validation_sim_duration confirmation pass before it is marked
// ready-for-live (a no-op beyond the event in the core, per §1's non-goal
// on real execution).
func (r *Runtime) runShortSim(ctx context.Context, current types.AgentVersion, initial types.SimulationResult) error {
	r.setState(types.StateRunningShort)
	result, err := r.runSimulation(ctx, current.Config, r.cfg.ShortSimDuration)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	r.recordResult(current.ID, result)

	if result.WinRate < initial.WinRate {
		return r.optimize(ctx, current, result)
	}

	confirmed := result
	if r.cfg.ValidationSimDuration > 0 {
		confirmed, err = r.runSimulation(ctx, current.Config, r.cfg.ValidationSimDuration)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		r.recordResult(current.ID, confirmed)
		if confirmed.WinRate < initial.WinRate {
			return r.optimize(ctx, current, confirmed)
		}
	}

	r.store.MarkProduction(current.ID)
	r.setState(types.StateLiveTrading)
	r.bus.Success(types.EventInfo, "version validated as ready for live", map[string]any{
		"versionId": current.ID, "winRate": confirmed.WinRate,
	})
	// §1 non-goal: no order-execution path is reachable from here. The
	// FSM and its events stay complete and observable; the loop simply
	// returns to re-simulating on the next cycle.
	r.setState(types.StateRunningInitial)
	return nil
}

// searchHistory asks SEARCH_HISTORY, adopts its suggestion if it names a
// known, matching version, else falls back to the Version Store's own
// distance-ranked lookup, else falls through to optimise (§4.H step 6).
func (r *Runtime) searchHistory(ctx context.Context, result types.SimulationResult) error {
	r.setState(types.StateSearchingHistory)
	resp := r.advisor.Think(ctx, types.NodeSearchHistory, map[string]any{
		"currentConditions": result.MarketConditions,
	})

	if id, ok := resp.Content["versionId"].(string); ok && id != "" {
		for _, v := range r.store.List() {
			if v.ID == id {
				r.adoptVersion(v)
				return nil
			}
		}
	}

	if best, ok := r.store.FindBestFor(result.MarketConditions); ok {
		r.adoptVersion(best)
		return nil
	}

	current := r.store.Current()
	return r.optimize(ctx, current, result)
}

// optimize asks OPTIMIZE_PARAMETERS, validates the reply via the advisor's
// own clamping, falls back to the Paper Trader's deterministic
// recommendation rules when the advisor has nothing usable, and adopts the
// resulting new version (§4.H step 5).
func (r *Runtime) optimize(ctx context.Context, current types.AgentVersion, result types.SimulationResult) error {
	r.setState(types.StateOptimizing)

	resp := r.advisor.Think(ctx, types.NodeOptimizeParameters, map[string]any{
		"recentResults": r.lastNResults(recentResultsForOptimize),
		"currentConfig": current.Config,
		"patterns":      r.rollingAggregates(),
	})
	r.bus.Info(types.EventAdvisorCalled, "advisor consulted", map[string]any{
		"node": string(types.NodeOptimizeParameters), "fallback": resp.Fallback,
	})

	newCfg := overlayConfig(current.Config, resp.Content)
	if resp.Fallback {
		newCfg = trader.Recommend(result)
	}
	newCfg.Version = current.Config.Version + 1
	newCfg.Name = fmt.Sprintf("v%d_brain_optimized", newCfg.Version)

	v := r.store.Create(newCfg, current.ID)
	r.adoptVersion(v)
	return nil
}

func (r *Runtime) adoptVersion(v types.AgentVersion) {
	adopted, ok := r.store.Adopt(v.ID)
	if !ok {
		return
	}
	r.bus.Success(types.EventVersionAdopted, "version adopted", map[string]any{
		"versionId": adopted.ID, "name": adopted.Name,
	})
}

// runSimulation constructs a fresh Price Source and Paper Trader and runs
// one simulation of duration seconds, annotating the adopted version with
// the outcome.
func (r *Runtime) runSimulation(ctx context.Context, cfg types.GraphConfig, duration time.Duration) (types.SimulationResult, error) {
	capital, err := decimal.NewFromString(r.cfg.InitialCapital)
	if err != nil {
		return types.SimulationResult{}, errs.NewConfiguration("initial_capital", err)
	}

	src := price.New(r.priceCfg, r.cfg.Symbol, r.logger)
	tr := trader.New(cfg, capital, src, r.bus, r.logger)

	r.mu.Lock()
	r.currentTrader = tr
	r.mu.Unlock()

	result, err := tr.Run(ctx, r.cfg.TickInterval, duration)
	if err != nil {
		return types.SimulationResult{}, err
	}

	r.mu.Lock()
	r.totalSimulationsRun++
	r.mu.Unlock()

	if cur := r.store.Current(); cur.Config.Version == cfg.Version {
		r.store.Annotate(cur.ID, result.Score, result.WinRate, result.MarketConditions)
	}
	return *result, nil
}

func (r *Runtime) recordResult(versionID string, result types.SimulationResult) {
	result.VersionID = versionID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentResults = append(r.recentResults, result)
	if len(r.recentResults) > maxRecentResults {
		r.recentResults = r.recentResults[len(r.recentResults)-maxRecentResults:]
	}
}

func (r *Runtime) lastNResults(n int) []types.SimulationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.recentResults) <= n {
		return append([]types.SimulationResult(nil), r.recentResults...)
	}
	return append([]types.SimulationResult(nil), r.recentResults[len(r.recentResults)-n:]...)
}

// rollingAggregates summarises the last maxRecentResults results for the
// optimise prompt's "patterns" context.
func (r *Runtime) rollingAggregates() map[string]any {
	results := r.lastNResults(maxRecentResults)
	if len(results) == 0 {
		return map[string]any{}
	}
	var scoreSum, winRateSum float64
	for _, res := range results {
		scoreSum += res.Score
		winRateSum += res.WinRate
	}
	n := float64(len(results))
	return map[string]any{
		"avgScore":   scoreSum / n,
		"avgWinRate": winRateSum / n,
		"sampleSize": len(results),
	}
}

// handleCycleError applies the bounded exponential backoff policy: sleep
// 10*2^attempt capped at 300s, and reset the counter (continuing, not
// terminating) after consecutiveFailureReset failures in a row.
func (r *Runtime) handleCycleError(ctx context.Context, err error) {
	r.bus.Error(types.EventError, "simulation cycle failed", map[string]any{"error": err.Error()})
	r.setState(types.StateError)

	r.mu.Lock()
	r.consecutiveFailures++
	attempt := r.consecutiveFailures
	if attempt >= consecutiveFailureReset {
		r.consecutiveFailures = 0
	}
	r.mu.Unlock()

	delay := backoffBase * time.Duration(1<<uint(attempt))
	if delay > backoffCap {
		delay = backoffCap
	}
	select {
	case <-ctx.Done():
	case <-r.stopChan:
	case <-time.After(delay):
	}
	r.setState(types.StateRunningInitial)
}

// stopGracefully transitions to IDLE. Any Position still open belongs to a
// simulation that either never started or already closed it itself via
// cycleCtx cancellation inside tr.Run (reason agent_stopped).
func (r *Runtime) stopGracefully() {
	r.setState(types.StateIdle)
}

// overlayConfig applies every field named in suggested onto a copy of
// base, ignoring unknown keys; suggested has already been through the
// advisor's own range clamping.
func overlayConfig(base types.GraphConfig, suggested map[string]any) types.GraphConfig {
	cfg := base
	setFloat := func(dst *float64, key string) {
		if v, ok := suggested[key].(float64); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := suggested[key].(float64); ok {
			*dst = int(v)
		}
	}

	setFloat(&cfg.RSIOversold, "rsiOversold")
	setFloat(&cfg.RSIOverbought, "rsiOverbought")
	setFloat(&cfg.StopLossPct, "stopLossPct")
	setFloat(&cfg.TakeProfitPct, "takeProfitPct")
	setFloat(&cfg.PositionSizePct, "positionSizePct")
	setFloat(&cfg.PriceChangeThreshold, "priceChangeThreshold")
	setFloat(&cfg.TrailingStopPct, "trailingStopPct")
	setInt(&cfg.MinTimeBetweenTrades, "minTimeBetweenTrades")
	setInt(&cfg.CooldownAfterLoss, "cooldownAfterLoss")

	return cfg
}
