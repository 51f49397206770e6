package trader

import "github.com/hhlabs/trading-agent/pkg/types"

// Recommend derives a candidate v2 GraphConfig from result using the five
// deterministic rules that serve as the Advisor's fallback when it is
// unavailable (§4.D). Rules are independent and compose: more than one may
// fire for the same result.
func Recommend(result types.SimulationResult) types.GraphConfig {
	cfg := result.Config

	if result.TotalOrders == 0 {
		cfg.RSIOversold = minFloat(cfg.RSIOversold+5, 40)
		cfg.PriceChangeThreshold *= 0.7
	}

	// Guarded on TotalOrders > 0: with zero trades WinRate defaults to 0,
	// which would also satisfy "< 0.4" and cancel out the loosening rule
	// above for a run that never got a single trade to judge.
	if result.TotalOrders > 0 && result.WinRate/100 < 0.4 {
		cfg.RSIOversold = maxFloat(cfg.RSIOversold-5, 20)
		cfg.PriceChangeThreshold *= 1.3
	}

	if result.MaxDrawdownPct > 5 {
		cfg.PositionSizePct = maxFloat(cfg.PositionSizePct*0.7, 5)
		cfg.StopLossPct = maxFloat(cfg.StopLossPct*0.8, 1)
	}

	if result.TotalOrders > 10 {
		cfg.MinTimeBetweenTrades = int(float64(cfg.MinTimeBetweenTrades) * 1.5)
	}

	if result.PnLPercent < result.BuyAndHoldPct-1 {
		cfg.TakeProfitPct *= 1.2
	}

	return cfg
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
