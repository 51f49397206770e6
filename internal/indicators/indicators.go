package indicators

import (
	"math"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// Compute derives the full Indicators snapshot for the current state of w
// under cfg. It is a pure function: the same window contents and config
// always produce the same output, which is what the determinism tests rely
// on (no indicator here may consult time.Now or any package-level state).
func Compute(w *Window, cfg types.GraphConfig) types.Indicators {
	prices := w.Slice()

	ind := types.Indicators{
		RSI:     rsi(prices, cfg.RSIPeriod),
		EMAFast: ema(prices, cfg.EMAFastPeriod),
		EMASlow: ema(prices, cfg.EMASlowPeriod),
	}
	ind.EMACross = emaCross(prices, cfg.EMAFastPeriod, cfg.EMASlowPeriod)
	ind.MACDSign = macdSign(prices, cfg.MACDFast, cfg.MACDSlow)

	upper, middle, lower := bollinger(prices, cfg.BBPeriod, cfg.BBStdDev)
	ind.BBUpper, ind.BBMiddle, ind.BBLower = upper, middle, lower
	ind.BBPosition = bbPosition(w.Last(), upper, lower)
	ind.BBTouchLower = lower > 0 && w.Last() <= lower
	ind.BBTouchUpper = upper > 0 && w.Last() >= upper

	ind.Momentum = momentum(prices, cfg.MomentumPeriod)

	ind.VolatilityPct = volatilityPct(prices)
	ind.ATRPct = atrPct(prices)

	ind.TrendDirection = trendDirection(prices)
	ind.ReversalUp, ind.ReversalDown = reversal(prices, ind.TrendDirection)

	ind.MicroMoveUp, ind.MicroMoveDown = microMove(prices, cfg.TickScalpThreshold)

	return ind
}

// rsi computes RSI from the simple averages of gains and losses over the
// last period differences of prices, in float64. With fewer than period+1
// points, RSI is reported neutral (50). A zero avg_loss is floored at
// rsiEpsilon so RS stays finite.
func rsi(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}

	start := len(prices) - (period + 1)
	window := prices[start:]

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	// The seed window above already ends at the newest price, so this loop
	// starts at len(prices) and adds no observations.
	if len(prices) > period+1 {
		for i := start + period + 1; i < len(prices); i++ {
			delta := prices[i] - prices[i-1]
			gain, loss := 0.0, 0.0
			if delta > 0 {
				gain = delta
			} else {
				loss = -delta
			}
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		}
	}

	if avgLoss == 0 {
		avgLoss = rsiEpsilon
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ema computes an exponential moving average seeded by the simple average of
// the first period prices, then folded forward with multiplier 2/(period+1).
// With fewer than period points it falls back to the running mean of
// whatever is available.
func ema(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if period <= 0 || len(prices) < period {
		return mean(prices)
	}

	multiplier := 2.0 / float64(period+1)
	value := mean(prices[:period])
	for _, p := range prices[period:] {
		value = (p-value)*multiplier + value
	}
	return value
}

// emaCross reports a crossing *event*, not a steady-state sign: the fast/slow
// EMAs are computed once on the full window and once with the most recent
// price removed (prev), and the result is +1 only when prev_fast <=
// prev_slow && cur_fast > cur_slow (a bullish cross), -1 symmetrically for a
// bearish cross, 0 otherwise — including every tick where fast has already
// been above (or below) slow for more than one tick.
func emaCross(prices []float64, fastPeriod, slowPeriod int) int {
	curFast := ema(prices, fastPeriod)
	curSlow := ema(prices, slowPeriod)
	if len(prices) == 0 {
		return 0
	}
	prevFast := ema(prices[:len(prices)-1], fastPeriod)
	prevSlow := ema(prices[:len(prices)-1], slowPeriod)

	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		return 1
	case prevFast >= prevSlow && curFast < curSlow:
		return -1
	default:
		return 0
	}
}

// macdSign reports the sign of the MACD line (fastEMA - slowEMA) using the
// MACD-specific fast/slow periods, independently of the EMA-cross periods.
func macdSign(prices []float64, fastPeriod, slowPeriod int) int {
	fast := ema(prices, fastPeriod)
	slow := ema(prices, slowPeriod)
	return sign(fast - slow)
}

// bollinger computes the simple-moving-average middle band and the
// stdDevMultiplier-wide upper/lower bands over the last period prices. All
// three are 0 when fewer than period points are available.
func bollinger(prices []float64, period int, stdDevMultiplier float64) (upper, middle, lower float64) {
	if period <= 0 || len(prices) < period {
		return 0, 0, 0
	}
	window := prices[len(prices)-period:]
	middle = mean(window)
	sd := stdDev(window, middle)
	upper = middle + stdDevMultiplier*sd
	lower = middle - stdDevMultiplier*sd
	return upper, middle, lower
}

// bbPosition maps price into [-1,1] between lower and upper, 0 at the
// midline: ((price-lower)/(upper-lower))*2-1, clamped. 0 when the band has
// zero width (no data yet).
func bbPosition(price, upper, lower float64) float64 {
	width := upper - lower
	if width <= 0 {
		return 0
	}
	pos := (price-lower)/width*2 - 1
	if pos < -1 {
		return -1
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// momentum computes percentage price change over each of the horizons
// 1, 3, and the configured momentumPeriod (deduplicated), keyed by horizon.
func momentum(prices []float64, momentumPeriod int) map[int]float64 {
	horizons := []int{1, 3}
	if momentumPeriod > 0 {
		horizons = append(horizons, momentumPeriod)
	}
	out := make(map[int]float64, len(horizons))
	seen := make(map[int]bool)
	for _, h := range horizons {
		if seen[h] || h <= 0 || len(prices) <= h {
			continue
		}
		seen[h] = true
		past := prices[len(prices)-1-h]
		if past == 0 {
			out[h] = 0
			continue
		}
		out[h] = (prices[len(prices)-1] - past) / past * 100
	}
	return out
}

// volatilityPct reports the coefficient of variation (stddev/mean * 100)
// over the last 10 prices (all of them when fewer), 0 when fewer than two
// are available.
func volatilityPct(prices []float64) float64 {
	window := lastN(prices, 10)
	if len(window) < 2 {
		return 0
	}
	m := mean(window)
	if m == 0 {
		return 0
	}
	return stdDev(window, m) / m * 100
}

// atrPct approximates an average-true-range percentage using the mean
// absolute tick-to-tick price change over the last 10 changes (the last 11
// prices), expressed as a
// percentage of the most recent price. A stand-in for the candle-based ATR
// since this kernel only ever sees a tick stream, not OHLC bars.
func atrPct(prices []float64) float64 {
	window := lastN(prices, 11)
	if len(window) < 2 {
		return 0
	}
	var sumAbs float64
	for i := 1; i < len(window); i++ {
		sumAbs += math.Abs(window[i] - window[i-1])
	}
	meanAbs := sumAbs / float64(len(window)-1)
	last := window[len(window)-1]
	if last == 0 {
		return 0
	}
	return meanAbs / last * 100
}

// trendDirection fits a simple linear regression over the last 10 prices and
// reports the sign of its slope, normalised by the mean price; slopes below
// trendDeadZonePct are reported flat.
func trendDirection(prices []float64) int {
	window := lastN(prices, 10)
	if len(window) < 2 {
		return 0
	}
	slope := linearSlope(window)
	m := mean(window)
	if m == 0 {
		return 0
	}
	normalized := slope / m
	if math.Abs(normalized) < trendDeadZonePct {
		return 0
	}
	return sign(normalized)
}

// reversal flags a short-term reversal: the last price move runs opposite to
// the prevailing trend direction.
func reversal(prices []float64, trend int) (up, down bool) {
	if len(prices) < 2 || trend == 0 {
		return false, false
	}
	delta := prices[len(prices)-1] - prices[len(prices)-2]
	if trend < 0 && delta > 0 {
		up = true
	}
	if trend > 0 && delta < 0 {
		down = true
	}
	return up, down
}

// microMove flags whether the most recent tick-to-tick percentage change
// meets the scalping threshold, split by direction.
func microMove(prices []float64, threshold float64) (up, down bool) {
	if len(prices) < 2 {
		return false, false
	}
	prev := prices[len(prices)-2]
	last := prices[len(prices)-1]
	if prev == 0 {
		return false, false
	}
	changePct := (last - prev) / prev * 100
	if changePct >= threshold {
		return true, false
	}
	if changePct <= -threshold {
		return false, true
	}
	return false, false
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// linearSlope returns the slope of the least-squares line fit to xs against
// indices 0..len(xs)-1.
func linearSlope(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range xs {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
