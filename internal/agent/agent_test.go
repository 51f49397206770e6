package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/internal/advisor"
	"github.com/hhlabs/trading-agent/internal/events"
	"github.com/hhlabs/trading-agent/internal/versionstore"
	"github.com/hhlabs/trading-agent/pkg/types"
)

func newTestRuntime(t *testing.T, priceServerURL string) *Runtime {
	t.Helper()
	bus := events.New(zap.NewNop(), 100)
	store := versionstore.New(versionstore.NoopSink{}, zap.NewNop())
	advisorClient := advisor.New(types.AdvisorConfig{APIKeyEnv: "HHLABS_AGENT_TEST_UNSET_KEY", Timeout: time.Second}, zap.NewNop())

	cfg := types.AgentRuntimeConfig{
		Symbol:               "BTC-USD",
		InitialCapital:       "1000",
		InitialSimDuration:   40 * time.Millisecond,
		ShortSimDuration:     40 * time.Millisecond,
		TickInterval:         10 * time.Millisecond,
		HighScoreThreshold:   65,
		MediumScoreThreshold: 50,
	}
	priceCfg := types.PriceSourceConfig{BaseURL: priceServerURL, CacheTTL: time.Millisecond, Timeout: time.Second}

	return New(cfg, priceCfg, bus, store, advisorClient, zap.NewNop())
}

func fakePriceServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"amount": "100.00"}})
	}))
}

func TestStartTransitionsOutOfIdle(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.Status().State != types.StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("agent never left IDLE")
}

func TestStartTwiceFails(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Fatal("second Start() = nil error, want one (already running)")
	}
}

func TestStopWithoutStartFails(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	if err := r.Stop(); err == nil {
		t.Fatal("Stop() without Start() = nil error, want one")
	}
}

func TestStopReturnsToIdle(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.Status().State == types.StateIdle && !r.Status().Running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("agent never returned to IDLE after Stop()")
}

func TestBootstrapCreatesInitialVersionOnce(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	if err := r.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap() error = %v", err)
	}
	first := r.store.Current()
	if first.ID == "" {
		t.Fatal("bootstrap did not adopt an initial version")
	}

	if err := r.bootstrap(context.Background()); err != nil {
		t.Fatalf("second bootstrap() error = %v", err)
	}
	if r.store.Current().ID != first.ID {
		t.Fatal("bootstrap created a second initial version instead of staying idempotent")
	}
}

func TestEvaluateSimulationDecidesByThreshold(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	high := types.SimulationResult{Score: 90}
	if got := r.evaluateSimulation(context.Background(), high); got != decideRunShortSim {
		t.Fatalf("evaluateSimulation(score=90) = %v, want decideRunShortSim", got)
	}

	low := types.SimulationResult{Score: 10}
	if got := r.evaluateSimulation(context.Background(), low); got != decideSearchHistory {
		t.Fatalf("evaluateSimulation(score=10) = %v, want decideSearchHistory", got)
	}

	medium := types.SimulationResult{Score: 55}
	if got := r.evaluateSimulation(context.Background(), medium); got != decideOptimize {
		t.Fatalf("evaluateSimulation(score=55) = %v, want decideOptimize", got)
	}
}

func TestOverlayConfigAppliesOnlyPresentFields(t *testing.T) {
	base := types.DefaultScalpingConfig()
	suggested := map[string]any{"rsiOversold": 22.0}

	got := overlayConfig(base, suggested)
	if got.RSIOversold != 22.0 {
		t.Fatalf("RSIOversold = %v, want 22", got.RSIOversold)
	}
	if got.StopLossPct != base.StopLossPct {
		t.Fatalf("StopLossPct changed despite not being suggested: got %v, want %v", got.StopLossPct, base.StopLossPct)
	}
}

func TestRecordResultBoundsToMaxRecentResults(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)

	for i := 0; i < maxRecentResults+5; i++ {
		r.recordResult("v1", types.SimulationResult{Score: float64(i)})
	}

	got := r.lastNResults(maxRecentResults + 5)
	if len(got) != maxRecentResults {
		t.Fatalf("recentResults len = %d, want capped at %d", len(got), maxRecentResults)
	}
	if got[len(got)-1].Score != float64(maxRecentResults+4) {
		t.Fatalf("last recorded result score = %v, want the most recent", got[len(got)-1].Score)
	}
}

func TestRevertOnScoreDropReadoptsParent(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)
	r.cfg.ScoreDropTolerance = 10

	parent := r.store.Create(types.DefaultScalpingConfig(), "")
	r.store.Adopt(parent.ID)
	r.store.Annotate(parent.ID, 80, 70, types.MarketConditions{})

	child := r.store.Create(types.DefaultScalpingConfig(), parent.ID)
	r.store.Adopt(child.ID)

	reverted := r.revertOnScoreDrop(r.store.Current(), types.SimulationResult{Score: 50})
	if !reverted {
		t.Fatal("revertOnScoreDrop() = false, want true for a regression past tolerance")
	}
	if r.store.Current().ID != parent.ID {
		t.Fatalf("Current().ID after revert = %s, want parent %s", r.store.Current().ID, parent.ID)
	}
}

func TestRevertOnScoreDropIgnoresMinorRegression(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)
	r.cfg.ScoreDropTolerance = 10

	parent := r.store.Create(types.DefaultScalpingConfig(), "")
	r.store.Adopt(parent.ID)
	r.store.Annotate(parent.ID, 80, 70, types.MarketConditions{})

	child := r.store.Create(types.DefaultScalpingConfig(), parent.ID)
	r.store.Adopt(child.ID)

	reverted := r.revertOnScoreDrop(r.store.Current(), types.SimulationResult{Score: 75})
	if reverted {
		t.Fatal("revertOnScoreDrop() = true, want false for a regression within tolerance")
	}
	if r.store.Current().ID != child.ID {
		t.Fatalf("Current().ID after non-revert = %s, want child %s still adopted", r.store.Current().ID, child.ID)
	}
}

func TestHandleCycleErrorTransitionsThroughError(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)
	r.stopChan = make(chan struct{})
	close(r.stopChan) // short-circuits the backoff sleep immediately

	r.handleCycleError(context.Background(), context.Canceled)

	if r.consecutiveFailures != 1 {
		t.Fatalf("consecutiveFailures = %d, want 1", r.consecutiveFailures)
	}
	if r.state != types.StateRunningInitial {
		t.Fatalf("state after handleCycleError = %v, want RUNNING_INITIAL (retry)", r.state)
	}
}

func TestHandleCycleErrorResetsAfterFiveFailures(t *testing.T) {
	srv := fakePriceServer(t)
	defer srv.Close()
	r := newTestRuntime(t, srv.URL)
	r.stopChan = make(chan struct{})
	close(r.stopChan)

	for i := 0; i < consecutiveFailureReset; i++ {
		r.handleCycleError(context.Background(), context.Canceled)
	}
	if r.consecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures after %d failures = %d, want reset to 0", consecutiveFailureReset, r.consecutiveFailures)
	}
}
