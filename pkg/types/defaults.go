package types

// DefaultScalpingConfig returns the baseline parameter sheet used to create
// v1_initial. Values are carried over from the scalping defaults in the
// original Python GraphConfig dataclass.
func DefaultScalpingConfig() GraphConfig {
	return GraphConfig{
		Version:     1,
		Name:        "v1_initial",
		Description: "baseline scalping configuration",
		StrategyTag: StrategyScalping,

		RSIPeriod:      14,
		EMAFastPeriod:  5,
		EMASlowPeriod:  12,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		BBPeriod:       20,
		BBStdDev:       2.0,
		MomentumPeriod: 6,

		RSIOversold:   30.0,
		RSIOverbought: 70.0,

		PriceChangeThreshold:  0.5,
		VolumeSpikeMultiplier: 1.5,
		MicroProfitTarget:     0.15,
		MicroStopLoss:         0.1,
		TickScalpThreshold:    0.05,

		PositionSizePct: 10.0,
		StopLossPct:     2.0,
		TakeProfitPct:   5.0,
		TrailingStopPct: 1.5,
		MaxPositions:    1,

		MinTimeBetweenTrades: 60,
		CooldownAfterLoss:    120,
		MaxPositionDuration:  300,

		WeightRSI:         1.0,
		WeightEMA:         1.0,
		WeightMACD:        1.0,
		WeightBB:          1.0,
		WeightMomentum:    1.0,
		WeightPriceAction: 1.0,

		MinBuyScore:  2.5,
		MinSellScore: 2.5,
	}
}

// AdvisorParamRange documents a clamping range for one numeric GraphConfig
// field the advisor is permitted to suggest a change for.
type AdvisorParamRange struct {
	Min, Max float64
}

// AdvisorParamRanges is the documented contract of §4.F: every numeric
// parameter an OPTIMIZE_PARAMETERS reply touches is clamped into its range
// here before being accepted into a new GraphConfig.
var AdvisorParamRanges = map[string]AdvisorParamRange{
	"rsiOversold":          {25, 45},
	"rsiOverbought":        {55, 80},
	"stopLossPct":          {0.1, 2.0},
	"takeProfitPct":        {0.5, 10.0},
	"positionSizePct":      {5, 25},
	"minTimeBetweenTrades": {1, 60},
	"priceChangeThreshold": {0.1, 3.0},
	"trailingStopPct":      {0.1, 5.0},
	"cooldownAfterLoss":    {10, 600},
}

// Clamp returns v restricted to [r.Min, r.Max].
func (r AdvisorParamRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}
