// Package metrics defines the Prometheus collectors exposed on /metrics,
// grounded on the teacher's (thin) use of the same client library.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// Registry bundles every counter/gauge the laboratory exposes. One instance
// is constructed at startup in cmd/server and fed there through an Event Bus
// subscription and a status poll, rather than relying on the default global
// registry's package-level collectors.
type Registry struct {
	OrdersOpened  prometheus.Counter
	OrdersClosed  prometheus.Counter
	AdvisorCalls  *prometheus.CounterVec
	EventBusDrops prometheus.Counter

	CurrentEquity prometheus.Gauge
	Drawdown      prometheus.Gauge
	AgentState    *prometheus.GaugeVec
}

// New registers every collector against reg and returns the bundle.
func New(reg *prometheus.Registry) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		OrdersOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "lab_orders_opened_total",
			Help: "Positions opened by the paper trader.",
		}),
		OrdersClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lab_orders_closed_total",
			Help: "Positions closed by the paper trader.",
		}),
		AdvisorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_advisor_calls_total",
			Help: "Advisor calls, by node and outcome.",
		}, []string{"node", "outcome"}),
		EventBusDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "lab_event_bus_drops_total",
			Help: "Events evicted from the bounded event bus ring.",
		}),
		CurrentEquity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lab_current_equity",
			Help: "Current simulated equity.",
		}),
		Drawdown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lab_drawdown_pct",
			Help: "Current drawdown percentage from peak equity.",
		}),
		AgentState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lab_agent_state",
			Help: "1 for the agent's current state, 0 otherwise.",
		}, []string{"state"}),
	}
}

// ObserveStatus snapshots a status projection onto the equity/drawdown/state
// gauges, called on a short poll from cmd/server (pollMetrics) rather than
// wired into the agent's own hot path.
func (r *Registry) ObserveStatus(state string, equity, drawdownPct float64, allStates []string) {
	r.CurrentEquity.Set(equity)
	r.Drawdown.Set(drawdownPct)
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.AgentState.WithLabelValues(s).Set(v)
	}
}

// Observe increments the counters driven by a single Event Bus emission.
// Subscribed once at startup (see cmd/server), so every order/advisor
// counter stays current (drops arrive through ObserveDrop) without threading the registry through the Trader
// or Advisor Client's hot paths.
func (r *Registry) Observe(typ types.EventType, data map[string]any) {
	switch typ {
	case types.EventOrderCreated:
		r.OrdersOpened.Inc()
	case types.EventOrderClosed:
		r.OrdersClosed.Inc()
	case types.EventAdvisorCalled:
		node, _ := data["node"].(string)
		outcome := "ok"
		if fb, _ := data["fallback"].(bool); fb {
			outcome = "fallback"
		}
		r.AdvisorCalls.WithLabelValues(node, outcome).Inc()
	}
}

// ObserveDrop increments the event-bus eviction counter; called whenever the
// bus's own Stats().Dropped count advances.
func (r *Registry) ObserveDrop() {
	r.EventBusDrops.Inc()
}
