// Package indicators computes the pure, deterministic indicator snapshot
// (component B) over a rolling price window: RSI, EMAs, MACD sign,
// Bollinger bands, momentum, volatility, trend and the micro-move flags the
// scalping strategy needs. Every function here is a pure function of its
// inputs — no field here may read wall-clock time or any mutable package
// state — which is the guarantee the determinism tests (P7) rely on.
package indicators

// maxWindow caps the PriceWindow at the last 100 ticks (§3).
const maxWindow = 100

// rsiEpsilon stands in for a zero avg_loss in the RSI formula so RS stays
// finite; the resulting RSI is ~100, not exactly 100, and tests comparing
// against it must allow the 0.01 tolerance called out in the design notes.
const rsiEpsilon = 1e-4

// trendDeadZonePct is the normalised-slope dead zone below which trend
// direction is reported flat.
const trendDeadZonePct = 0.0001 // 0.01%

// Window is an ordered sequence of the last N prices, most recent last. It
// is restartable: a new simulation starts a fresh, empty Window.
type Window struct {
	prices []float64
}

// NewWindow returns an empty Window.
func NewWindow() *Window {
	return &Window{prices: make([]float64, 0, maxWindow)}
}

// Push appends a price, evicting the oldest once the window exceeds
// maxWindow entries.
func (w *Window) Push(price float64) {
	w.prices = append(w.prices, price)
	if len(w.prices) > maxWindow {
		w.prices = w.prices[len(w.prices)-maxWindow:]
	}
}

// Len returns the number of prices currently held.
func (w *Window) Len() int { return len(w.prices) }

// Last returns the most recent price, or 0 if the window is empty.
func (w *Window) Last() float64 {
	if len(w.prices) == 0 {
		return 0
	}
	return w.prices[len(w.prices)-1]
}

// Slice returns the underlying prices, oldest first. Callers must not
// mutate the returned slice.
func (w *Window) Slice() []float64 { return w.prices }

// withoutLast returns the window's prices without the final element, as a
// sub-slice sharing the window's storage rather than a copy.
func (w *Window) withoutLast() []float64 {
	if len(w.prices) == 0 {
		return nil
	}
	return w.prices[:len(w.prices)-1]
}
