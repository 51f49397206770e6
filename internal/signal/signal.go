// Package signal implements the Signal Evaluator (component C): it turns an
// Indicators snapshot plus the current Position (if any) into a BUY, SELL or
// HOLD decision, honouring trade-timing gates before any score is computed.
package signal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// Bookkeeping carries the timing state the gates consult, owned by the
// caller (the Paper Trader) across ticks.
type Bookkeeping struct {
	LastTradeTime time.Time
	LastLossTime  time.Time
}

// minScoreConfidenceDivisor is the denominator in confidence = min(score/8, 1).
const minScoreConfidenceDivisor = 8.0

// Evaluate applies the gating rules and, if none fire, the weighted scoring
// table, returning nil for HOLD. now is passed explicitly rather than read
// from time.Now so the evaluator stays a pure function of its inputs.
func Evaluate(now time.Time, price decimal.Decimal, ind types.Indicators, pos *types.Position, cfg types.GraphConfig, bk Bookkeeping) *types.Signal {
	if sig, gated := checkTimeGates(now, price, pos, cfg, bk); gated {
		return sig
	}

	if pos == nil {
		return evaluateBuy(now, price, ind, cfg)
	}
	return evaluateSell(now, price, ind, pos, cfg)
}

// checkTimeGates implements the three gating rules in order; the forced
// time-exit takes absolute precedence over every other rule when a Position
// is open, per the design's tie-break note. gated reports that a gate
// decided the outcome: the forced SELL, or a nil signal (HOLD) for the
// min-time-between-trades and cooldown-after-loss gates.
func checkTimeGates(now time.Time, price decimal.Decimal, pos *types.Position, cfg types.GraphConfig, bk Bookkeeping) (sig *types.Signal, gated bool) {
	if pos != nil {
		maxDuration := time.Duration(cfg.MaxPositionDuration) * time.Second
		if now.Sub(pos.EntryTime) > maxDuration {
			return &types.Signal{
				Timestamp:    now,
				Kind:         types.SignalSell,
				Price:        price,
				Confidence:   0.5,
				Score:        0,
				Reason:       "time_exit",
				StrategyTags: []string{"time_exit"},
			}, true
		}
	}

	minBetween := time.Duration(cfg.MinTimeBetweenTrades) * time.Second
	if !bk.LastTradeTime.IsZero() && now.Sub(bk.LastTradeTime) < minBetween {
		return nil, true
	}

	cooldown := time.Duration(cfg.CooldownAfterLoss) * time.Second
	if !bk.LastLossTime.IsZero() && now.Sub(bk.LastLossTime) < cooldown {
		return nil, true
	}

	return nil, false
}

// contribution is one fired scoring rule, carrying its weighted amount and
// the tag recorded for it.
type contribution struct {
	tag    string
	amount float64
}

func evaluateBuy(now time.Time, price decimal.Decimal, ind types.Indicators, cfg types.GraphConfig) *types.Signal {
	var contribs []contribution

	if ind.RSI <= cfg.RSIOversold {
		contribs = append(contribs, contribution{"rsi_oversold_cross", cfg.WeightRSI * 2.0})
	} else if ind.RSI < 45 {
		contribs = append(contribs, contribution{"rsi_mild_low", cfg.WeightRSI * 0.5})
	}

	if ind.EMACross > 0 {
		contribs = append(contribs, contribution{"ema_bullish_cross", cfg.WeightEMA * 2.5})
	} else if ind.EMAFast > ind.EMASlow {
		contribs = append(contribs, contribution{"ema_diff_small_positive", cfg.WeightEMA * 1.0})
	}

	if ind.MACDSign > 0 {
		contribs = append(contribs, contribution{"macd_positive", cfg.WeightMACD * 1.5})
	}

	if ind.BBTouchLower {
		contribs = append(contribs, contribution{"bb_touch_lower", cfg.WeightBB * 2.0})
	} else if ind.BBPosition < -0.5 {
		contribs = append(contribs, contribution{"bb_position_low", cfg.WeightBB * 1.0})
	}

	if mom, ok := primaryMomentum(ind.Momentum, cfg.MomentumPeriod); ok {
		if mom >= cfg.PriceChangeThreshold {
			contribs = append(contribs, contribution{"momentum_strong", cfg.WeightMomentum * 2.0})
		} else if mom > 0 {
			contribs = append(contribs, contribution{"momentum_mild_positive", cfg.WeightMomentum * 0.5})
		}
	}

	if ind.ReversalUp {
		contribs = append(contribs, contribution{"reversal_up", cfg.WeightPriceAction * 1.5})
	}

	if cfg.StrategyTag == types.StrategyScalping && ind.MicroMoveUp {
		contribs = append(contribs, contribution{"scalp_micro_move_up", cfg.WeightPriceAction * 2.0})
	}

	score := sumScore(contribs)
	if score < cfg.MinBuyScore {
		return nil
	}
	return buildSignal(now, types.SignalBuy, price, score, ind, contribs)
}

func evaluateSell(now time.Time, price decimal.Decimal, ind types.Indicators, pos *types.Position, cfg types.GraphConfig) *types.Signal {
	var contribs []contribution

	if ind.RSI >= cfg.RSIOverbought {
		contribs = append(contribs, contribution{"rsi_overbought_cross", cfg.WeightRSI * 2.0})
	} else if ind.RSI > 55 {
		contribs = append(contribs, contribution{"rsi_mild_high", cfg.WeightRSI * 0.5})
	}

	if ind.EMACross < 0 {
		contribs = append(contribs, contribution{"ema_bearish_cross", cfg.WeightEMA * 2.5})
	} else if ind.EMAFast < ind.EMASlow {
		contribs = append(contribs, contribution{"ema_diff_negative", cfg.WeightEMA * 1.0})
	}

	if ind.MACDSign < 0 {
		contribs = append(contribs, contribution{"macd_negative", cfg.WeightMACD * 1.5})
	}

	if ind.BBTouchUpper {
		contribs = append(contribs, contribution{"bb_touch_upper", cfg.WeightBB * 2.0})
	} else if ind.BBPosition > 0.5 {
		contribs = append(contribs, contribution{"bb_position_high", cfg.WeightBB * 1.0})
	}

	if mom, ok := primaryMomentum(ind.Momentum, cfg.MomentumPeriod); ok {
		if mom <= -cfg.PriceChangeThreshold {
			contribs = append(contribs, contribution{"momentum_strong_negative", cfg.WeightMomentum * 2.0})
		}
	}

	if ind.ReversalDown {
		contribs = append(contribs, contribution{"reversal_down", cfg.WeightPriceAction * 1.5})
	}

	pnlPercent := positionPnLPercent(price, pos)
	forced := false

	if cfg.StrategyTag == types.StrategyScalping {
		if ind.MicroMoveDown {
			contribs = append(contribs, contribution{"scalp_micro_move_down", cfg.WeightPriceAction * 1.5})
		}
		if pnlPercent >= cfg.MicroProfitTarget {
			contribs = append(contribs, contribution{"scalp_micro_profit_target", 3.0})
		}
		if pnlPercent <= -cfg.MicroStopLoss {
			// Forces an exit regardless of the configured min_sell_score; the
			// 5.0 is this row's contribution to the reported score.
			contribs = append(contribs, contribution{"scalp_micro_stop_loss", 5.0})
			forced = true
		}
	} else if pnlPercent > 0.7*cfg.TakeProfitPct {
		contribs = append(contribs, contribution{"non_scalp_partial_take_profit", cfg.WeightPriceAction * 1.5})
	}

	score := sumScore(contribs)
	if score < cfg.MinSellScore && !forced {
		return nil
	}
	return buildSignal(now, types.SignalSell, price, score, ind, contribs)
}

// primaryMomentum picks the momentum reading for the configured period, the
// horizon the scoring table's single "momentum" row is defined against.
func primaryMomentum(mom map[int]float64, period int) (float64, bool) {
	v, ok := mom[period]
	return v, ok
}

// positionPnLPercent is the unrealised P&L of pos at the current price, as a
// percentage of entry price.
func positionPnLPercent(price decimal.Decimal, pos *types.Position) float64 {
	entry, _ := pos.EntryPrice.Float64()
	cur, _ := price.Float64()
	if entry == 0 {
		return 0
	}
	return (cur - entry) / entry * 100
}

func sumScore(contribs []contribution) float64 {
	var total float64
	for _, c := range contribs {
		total += c.amount
	}
	return total
}

func buildSignal(now time.Time, kind types.SignalKind, price decimal.Decimal, score float64, ind types.Indicators, contribs []contribution) *types.Signal {
	tags := make([]string, 0, len(contribs))
	for _, c := range contribs {
		tags = append(tags, c.tag)
	}
	confidence := score / minScoreConfidenceDivisor
	if confidence > 1 {
		confidence = 1
	}
	return &types.Signal{
		Timestamp:    now,
		Kind:         kind,
		Price:        price,
		Confidence:   confidence,
		Score:        score,
		Reason:       reasonFromTags(tags),
		StrategyTags: tags,
		Indicators:   ind,
	}
}

func reasonFromTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return fmt.Sprintf("%d trigger(s): %v", len(tags), tags)
}
