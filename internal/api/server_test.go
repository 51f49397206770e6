package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/internal/events"
	"github.com/hhlabs/trading-agent/pkg/types"
)

// fakeRuntime implements AgentRuntime for HTTP-layer tests, independent of
// the real Agent Loop's simulation behaviour.
type fakeRuntime struct {
	startErr error
	stopErr  error
	status   types.AgentStatus
	trades   []types.ClosedTrade
	open     *types.Position
	sims     []types.SimulationResult
	versions []types.AgentVersion
	bus      *events.Bus
}

func (f *fakeRuntime) Start(context.Context) error                   { return f.startErr }
func (f *fakeRuntime) Stop() error                                   { return f.stopErr }
func (f *fakeRuntime) Status() types.AgentStatus                     { return f.status }
func (f *fakeRuntime) Orders() ([]types.ClosedTrade, *types.Position) { return f.trades, f.open }
func (f *fakeRuntime) Simulations() []types.SimulationResult         { return f.sims }
func (f *fakeRuntime) Versions() []types.AgentVersion                { return f.versions }
func (f *fakeRuntime) Bus() *events.Bus                              { return f.bus }

func newTestServer(t *testing.T, rt *fakeRuntime) *Server {
	t.Helper()
	if rt.bus == nil {
		rt.bus = events.New(zap.NewNop(), 50)
	}
	cfg := &types.ServerConfig{Host: "127.0.0.1", Port: 0, WebSocketPath: "/agent/events/stream"}
	reg := prometheus.NewRegistry()
	return NewServer(zap.NewNop(), cfg, rt, reg)
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t, &fakeRuntime{})
	rec := doRequest(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAgentStartSuccess(t *testing.T) {
	s := newTestServer(t, &fakeRuntime{})
	rec := doRequest(s, http.MethodPost, "/agent/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

type errAlreadyRunning struct{}

func (errAlreadyRunning) Error() string { return "already running" }

func TestAgentStartConflict(t *testing.T) {
	s := newTestServer(t, &fakeRuntime{startErr: errAlreadyRunning{}})
	rec := doRequest(s, http.MethodPost, "/agent/start")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAgentStatusReflectsRuntime(t *testing.T) {
	rt := &fakeRuntime{status: types.AgentStatus{State: types.StateRunningInitial, Running: true, Symbol: "BTC-USD"}}
	s := newTestServer(t, rt)

	rec := doRequest(s, http.MethodGet, "/agent/status")
	var got types.AgentStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.State != types.StateRunningInitial || got.Symbol != "BTC-USD" {
		t.Fatalf("status = %+v, want the fake's values", got)
	}
}

func TestAgentOrdersReturnsOpenAndClosed(t *testing.T) {
	open := &types.Position{ID: "pos-1"}
	rt := &fakeRuntime{trades: []types.ClosedTrade{{Position: types.Position{ID: "pos-0"}}}, open: open}
	s := newTestServer(t, rt)

	rec := doRequest(s, http.MethodGet, "/agent/orders")
	var got map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got["closed"]; !ok {
		t.Fatal("response missing 'closed' key")
	}
	if _, ok := got["open"]; !ok {
		t.Fatal("response missing 'open' key")
	}
}

func TestAgentEventsLatestRespectsCount(t *testing.T) {
	rt := &fakeRuntime{bus: events.New(zap.NewNop(), 50)}
	for i := 0; i < 10; i++ {
		rt.bus.Info(types.EventInfo, "tick", nil)
	}
	s := newTestServer(t, rt)

	rec := doRequest(s, http.MethodGet, "/agent/events/latest?count=3")
	var got []types.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(got))
	}
}

func TestAgentFullStatusComposesEverything(t *testing.T) {
	rt := &fakeRuntime{
		status:   types.AgentStatus{State: types.StateIdle},
		versions: []types.AgentVersion{{ID: "v1"}},
		sims:     []types.SimulationResult{{ID: "s1"}},
	}
	s := newTestServer(t, rt)

	rec := doRequest(s, http.MethodGet, "/agent/full-status")
	var got map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"status", "orders", "versions", "simulations", "events", "eventStats"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("full-status response missing %q", key)
		}
	}
}

func TestMetricsEndpointServesExposition(t *testing.T) {
	s := newTestServer(t, &fakeRuntime{})
	rec := doRequest(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
