// Package trader implements the Paper Trader (component D): the
// IDLE→RUNNING→CLOSING→DONE tick cycle that owns one simulation's Position,
// PriceWindow and SimulationStats.
package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/internal/errs"
	"github.com/hhlabs/trading-agent/internal/events"
	"github.com/hhlabs/trading-agent/internal/indicators"
	"github.com/hhlabs/trading-agent/internal/signal"
	"github.com/hhlabs/trading-agent/pkg/types"
	"github.com/hhlabs/trading-agent/pkg/utils"
)

// State is the Paper Trader's own lifecycle, distinct from the Agent Loop's.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateClosing State = "CLOSING"
	StateDone    State = "DONE"
)

// PriceSource is the contract the Paper Trader pulls ticks from (component
// A). Implemented by *price.Source in production, faked in tests.
type PriceSource interface {
	Current(ctx context.Context) (types.Tick, bool)
}

// Trader runs one simulation: a tick cycle pulling from a PriceSource,
// feeding the Indicator Kernel and Signal Evaluator, and applying the
// resulting decision to its single Position. Grounded on the teacher's
// internal/backtester/portfolio.go cash/position/drawdown bookkeeping
// (Buy/Sell/calculateEquity/GetDrawdown) generalised down from a multi-
// symbol ledger to a single long position, and on
// internal/backtester/engine.go's tick-loop shape (pull → indicator →
// signal → apply), adapted from a historical-bar iterator to a live
// polling loop.
type Trader struct {
	cfg    types.GraphConfig
	src    PriceSource
	bus    *events.Bus
	logger *zap.Logger

	state  State
	window *indicators.Window
	stats  types.SimulationStats
	pos    *types.Position
	trades []types.ClosedTrade
	bk     signal.Bookkeeping

	startPrice   decimal.Decimal
	lastInd      types.Indicators
	lastTickTime time.Time
}

// New constructs a Trader starting with initialCapital, ready to Run.
func New(cfg types.GraphConfig, initialCapital decimal.Decimal, src PriceSource, bus *events.Bus, logger *zap.Logger) *Trader {
	return &Trader{
		cfg:    cfg,
		src:    src,
		bus:    bus,
		logger: logger.Named("trader"),
		state:  StateIdle,
		window: indicators.NewWindow(),
		stats: types.SimulationStats{
			InitialCapital: initialCapital,
			CurrentCapital: initialCapital,
			PeakCapital:    initialCapital,
		},
	}
}

// State returns the Paper Trader's current lifecycle state.
func (t *Trader) State() State { return t.state }

// Run drives the tick cycle every tickInterval until duration elapses or ctx
// is cancelled, then closes any open Position and returns the final report.
// A structural error aborts the simulation early with a failed report.
func (t *Trader) Run(ctx context.Context, tickInterval, duration time.Duration) (*types.SimulationResult, error) {
	t.state = StateRunning
	t.bus.Info(types.EventStateChanged, "simulation started", map[string]any{"state": string(t.state)})

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(duration)

	for {
		select {
		case <-ctx.Done():
			return t.finish(ctx, time.Now(), true, "cancelled")
		case now := <-ticker.C:
			if now.After(deadline) {
				return t.finish(ctx, now, false, "")
			}
			if err := t.step(ctx, now); err != nil {
				var structural *errs.Structural
				if isStructural(err, &structural) {
					return t.fail(now, err)
				}
				// Transient: skip this tick, keep running.
				t.logger.Warn("tick skipped", zap.Error(err))
			}
		}
	}
}

func isStructural(err error, target **errs.Structural) bool {
	if s, ok := err.(*errs.Structural); ok {
		*target = s
		return true
	}
	return false
}

// step executes steps 1-7 of the tick cycle for one observed moment.
func (t *Trader) step(ctx context.Context, now time.Time) error {
	tick, ok := t.src.Current(ctx)
	if !ok {
		return errs.NewTransient("price_fetch", fmt.Errorf("no tick available"))
	}

	// P6: a tick whose timestamp is not strictly newer than the last one
	// observed is ignored outright (no indicator update, no signal eval) —
	// guards against the cached Tick the Price Source replays within its TTL
	// being processed twice.
	if !t.lastTickTime.IsZero() && !tick.Timestamp.After(t.lastTickTime) {
		return nil
	}
	t.lastTickTime = tick.Timestamp

	price := tick.Price
	if price.IsNegative() || price.IsZero() {
		return errs.NewStructural("price_positive", fmt.Errorf("non-positive price %s", price))
	}

	t.updatePriceExtrema(price)

	priceF, _ := price.Float64()
	t.window.Push(priceF)
	ind := indicators.Compute(t.window, t.cfg)
	t.lastInd = ind

	sig := signal.Evaluate(now, price, ind, t.pos, t.cfg, t.bk)
	t.stats.SignalCount++

	switch {
	case sig != nil && sig.Kind == types.SignalBuy && t.pos == nil:
		t.openPosition(now, price, sig)
	case sig != nil && sig.Kind == types.SignalSell && t.pos != nil:
		t.closePosition(now, price, exitReasonFor(sig))
	case t.pos != nil:
		t.applyTrailingStop(price)
		if price.LessThanOrEqual(t.pos.StopLoss) {
			t.closePosition(now, price, types.ExitStopLoss)
		} else if price.GreaterThanOrEqual(t.pos.TakeProfit) {
			t.closePosition(now, price, types.ExitTakeProfit)
		}
	}

	return nil
}

func exitReasonFor(sig *types.Signal) types.ExitReason {
	if len(sig.StrategyTags) == 1 && sig.StrategyTags[0] == "time_exit" {
		return types.ExitTimeExit
	}
	return types.ExitSignal
}

func (t *Trader) updatePriceExtrema(price decimal.Decimal) {
	if t.stats.PriceStart.IsZero() {
		t.stats.PriceStart = price
		t.stats.PriceHigh = price
		t.stats.PriceLow = price
		t.startPrice = price
	}
	t.stats.PriceEnd = price
	if price.GreaterThan(t.stats.PriceHigh) {
		t.stats.PriceHigh = price
	}
	if price.LessThan(t.stats.PriceLow) {
		t.stats.PriceLow = price
	}
}

// openPosition sizes a long at position_size_pct of current capital and sets
// stop-loss/take-profit using the micro_ or coarse parameters depending on
// the active strategy tag.
func (t *Trader) openPosition(now time.Time, price decimal.Decimal, sig *types.Signal) {
	sizePct := decimal.NewFromFloat(t.cfg.PositionSizePct).Div(decimal.NewFromInt(100))
	notional := t.stats.CurrentCapital.Mul(sizePct)
	qty := notional.Div(price)

	stopLossPct, takeProfitPct := t.cfg.StopLossPct, t.cfg.TakeProfitPct
	if t.cfg.StrategyTag == types.StrategyScalping {
		stopLossPct, takeProfitPct = t.cfg.MicroStopLoss, t.cfg.MicroProfitTarget
	}

	stopLoss := price.Mul(decimal.NewFromFloat(1 - stopLossPct/100))
	takeProfit := price.Mul(decimal.NewFromFloat(1 + takeProfitPct/100))

	t.pos = &types.Position{
		ID:           utils.GenerateOrderID(),
		EntryPrice:   price,
		EntryTime:    now,
		Qty:          qty,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		HighestPrice: price,
		LowestPrice:  price,
		StrategyTags: sig.StrategyTags,
	}

	t.bus.Info(types.EventOrderCreated, "position opened", map[string]any{
		"id":         t.pos.ID,
		"entryPrice": price.String(),
		"qty":        qty.String(),
		"reason":     sig.Reason,
	})
}

// applyTrailingStop raises highest_price and trails the stop up to
// max(stop_loss, price*(1-trailing_stop_pct/100)); it never lowers the stop.
func (t *Trader) applyTrailingStop(price decimal.Decimal) {
	if price.GreaterThan(t.pos.HighestPrice) {
		t.pos.HighestPrice = price
	}
	if price.LessThan(t.pos.LowestPrice) {
		t.pos.LowestPrice = price
	}
	trailed := price.Mul(decimal.NewFromFloat(1 - t.cfg.TrailingStopPct/100))
	if trailed.GreaterThan(t.pos.StopLoss) {
		t.pos.StopLoss = trailed
	}
}

// closePosition realises pnl, updates capital/drawdown bookkeeping and
// records trade timing for the gating rules.
func (t *Trader) closePosition(now time.Time, price decimal.Decimal, reason types.ExitReason) {
	pos := *t.pos
	pnl := price.Sub(pos.EntryPrice).Mul(pos.Qty)
	pnlPercent := 0.0
	if !pos.EntryPrice.IsZero() {
		pct, _ := price.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100)).Float64()
		pnlPercent = pct
	}

	trade := types.ClosedTrade{
		Position:   pos,
		ExitPrice:  price,
		ExitTime:   now,
		ExitReason: reason,
		PnL:        pnl,
		PnLPercent: pnlPercent,
	}
	t.trades = append(t.trades, trade)

	t.stats.CurrentCapital = t.stats.CurrentCapital.Add(pnl)
	t.stats.TotalPnL = t.stats.TotalPnL.Add(pnl)
	t.stats.TradesExecuted++
	// P4: winning_trades + losing_trades == trades_executed — a draw (pnl
	// exactly zero) counts as losing, it is never dropped from both buckets.
	if pnl.IsPositive() {
		t.stats.WinningTrades++
		if pnl.GreaterThan(t.stats.BestTrade) {
			t.stats.BestTrade = pnl
		}
	} else {
		t.stats.LosingTrades++
		if t.stats.WorstTrade.IsZero() || pnl.LessThan(t.stats.WorstTrade) {
			t.stats.WorstTrade = pnl
		}
		t.bk.LastLossTime = now
	}
	if t.stats.CurrentCapital.GreaterThan(t.stats.PeakCapital) {
		t.stats.PeakCapital = t.stats.CurrentCapital
	}
	t.stats.CurrentDrawdownPct = drawdownPct(t.stats.PeakCapital, t.stats.CurrentCapital)
	if t.stats.CurrentDrawdownPct > t.stats.MaxDrawdownPct {
		t.stats.MaxDrawdownPct = t.stats.CurrentDrawdownPct
	}

	t.bk.LastTradeTime = now
	t.pos = nil

	t.bus.Info(types.EventOrderClosed, "position closed", map[string]any{
		"id":         pos.ID,
		"exitPrice":  price.String(),
		"pnl":        pnl.String(),
		"pnlPercent": pnlPercent,
		"reason":     string(reason),
	})
}

func drawdownPct(peak, current decimal.Decimal) float64 {
	if peak.IsZero() {
		return 0
	}
	pct, _ := peak.Sub(current).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
	if pct < 0 {
		return 0
	}
	return pct
}

// finish closes any still-open Position at simulation_end (unless cancelled,
// in which case agent_stopped), transitions through CLOSING to DONE, and
// builds the report.
func (t *Trader) finish(ctx context.Context, now time.Time, cancelled bool, _ string) (*types.SimulationResult, error) {
	t.state = StateClosing
	if t.pos != nil {
		reason := types.ExitSimulationEnd
		if cancelled {
			reason = types.ExitAgentStopped
		}
		price := t.stats.PriceEnd
		if tick, ok := t.src.Current(ctx); ok {
			price = tick.Price
		}
		t.closePosition(now, price, reason)
	}
	t.state = StateDone

	result := t.buildResult()
	t.bus.Info(types.EventSimulationDone, "simulation finished", map[string]any{
		"score": result.Score, "winRate": result.WinRate, "pnlPercent": result.PnLPercent,
	})
	return result, nil
}

// fail aborts the simulation on a structural error and returns a failed
// report; the Agent treats this as "simulation failed".
func (t *Trader) fail(now time.Time, cause error) (*types.SimulationResult, error) {
	t.state = StateDone
	t.bus.Error(types.EventError, "simulation aborted", map[string]any{"error": cause.Error()})
	result := t.buildResult()
	result.Failed = true
	result.FailureReason = cause.Error()
	return result, cause
}

func (t *Trader) buildResult() *types.SimulationResult {
	winRate := t.stats.WinRate()
	pnlPercent := t.stats.PnLPercent()
	bh := buyAndHoldPct(t.stats.PriceStart, t.stats.PriceEnd)

	return &types.SimulationResult{
		ID:              utils.GenerateSimulationID(),
		TotalOrders:     t.stats.TradesExecuted,
		WinningOrders:   t.stats.WinningTrades,
		LosingOrders:    t.stats.LosingTrades,
		WinRate:         winRate,
		Score:           types.ComputeScore(winRate, pnlPercent),
		PnL:             t.stats.TotalPnL,
		PnLPercent:      pnlPercent,
		BuyAndHoldPct:   bh,
		MaxDrawdownPct:  t.stats.MaxDrawdownPct,
		Config:          t.cfg,
		Orders:          t.trades,
		MarketConditions: types.MarketConditions{
			RSI:        t.lastInd.RSI,
			Volatility: t.lastInd.VolatilityPct,
			Trend:      float64(t.lastInd.TrendDirection),
			Momentum:   t.lastInd.Momentum[t.cfg.MomentumPeriod],
		},
		CreatedAt: time.Now(),
	}
}

func buyAndHoldPct(start, end decimal.Decimal) float64 {
	if start.IsZero() {
		return 0
	}
	pct, _ := end.Sub(start).Div(start).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Stats returns a copy of the current SimulationStats for the HTTP surface.
func (t *Trader) Stats() types.SimulationStats { return t.stats }

// Position returns the currently open Position, or nil.
func (t *Trader) Position() *types.Position { return t.pos }

// Trades returns every ClosedTrade realised so far this simulation.
func (t *Trader) Trades() []types.ClosedTrade {
	return append([]types.ClosedTrade(nil), t.trades...)
}
