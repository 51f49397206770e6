package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hhlabs/trading-agent/pkg/types"
)

func baseConfig() types.GraphConfig {
	return types.DefaultScalpingConfig()
}

func TestEvaluateHoldWithinMinTimeBetweenTrades(t *testing.T) {
	cfg := baseConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bk := Bookkeeping{LastTradeTime: now.Add(-5 * time.Second)}

	ind := types.Indicators{RSI: 20, EMACross: 1}
	got := Evaluate(now, decimal.NewFromInt(100), ind, nil, cfg, bk)
	if got != nil {
		t.Fatalf("Evaluate within min_time_between_trades = %+v, want nil (HOLD)", got)
	}
}

func TestEvaluateHoldDuringCooldownAfterLoss(t *testing.T) {
	cfg := baseConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bk := Bookkeeping{LastLossTime: now.Add(-10 * time.Second)}

	ind := types.Indicators{RSI: 20, EMACross: 1}
	got := Evaluate(now, decimal.NewFromInt(100), ind, nil, cfg, bk)
	if got != nil {
		t.Fatalf("Evaluate during cooldown_after_loss = %+v, want nil (HOLD)", got)
	}
}

func TestEvaluateForcedTimeExitTakesPrecedence(t *testing.T) {
	cfg := baseConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pos := &types.Position{
		EntryPrice: decimal.NewFromInt(100),
		EntryTime:  now.Add(-time.Duration(cfg.MaxPositionDuration+1) * time.Second),
	}

	got := Evaluate(now, decimal.NewFromInt(100), types.Indicators{}, pos, cfg, Bookkeeping{})
	if got == nil {
		t.Fatal("Evaluate past max_position_duration = nil, want forced SELL")
	}
	if got.Kind != types.SignalSell {
		t.Fatalf("Kind = %v, want SELL", got.Kind)
	}
	if got.Confidence != 0.5 {
		t.Fatalf("forced time exit confidence = %v, want 0.5", got.Confidence)
	}
	if len(got.StrategyTags) == 0 || got.StrategyTags[0] != "time_exit" {
		t.Fatalf("forced time exit strategy_tags = %v, want [time_exit]", got.StrategyTags)
	}
}

func TestEvaluateBuyRequiresMinScore(t *testing.T) {
	cfg := baseConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	weak := types.Indicators{RSI: 50}
	if got := Evaluate(now, decimal.NewFromInt(100), weak, nil, cfg, Bookkeeping{}); got != nil {
		t.Fatalf("Evaluate with no triggers = %+v, want nil (HOLD)", got)
	}

	strong := types.Indicators{
		RSI:          cfg.RSIOversold,
		EMACross:     1,
		MACDSign:     1,
		BBTouchLower: true,
		Momentum:     map[int]float64{cfg.MomentumPeriod: cfg.PriceChangeThreshold + 1},
	}
	got := Evaluate(now, decimal.NewFromInt(100), strong, nil, cfg, Bookkeeping{})
	if got == nil {
		t.Fatal("Evaluate with every BUY trigger firing = nil, want BUY")
	}
	if got.Kind != types.SignalBuy {
		t.Fatalf("Kind = %v, want BUY", got.Kind)
	}
	if got.Score < cfg.MinBuyScore {
		t.Fatalf("Score = %v, want >= MinBuyScore %v", got.Score, cfg.MinBuyScore)
	}
}

func TestEvaluateConfidenceClampedToOne(t *testing.T) {
	cfg := baseConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	maxed := types.Indicators{
		RSI:          cfg.RSIOversold,
		EMACross:     1,
		MACDSign:     1,
		BBTouchLower: true,
		Momentum:     map[int]float64{cfg.MomentumPeriod: cfg.PriceChangeThreshold + 5},
		ReversalUp:   true,
		MicroMoveUp:  true,
	}
	got := Evaluate(now, decimal.NewFromInt(100), maxed, nil, cfg, Bookkeeping{})
	if got == nil {
		t.Fatal("Evaluate with every trigger firing = nil, want BUY")
	}
	if got.Confidence > 1 {
		t.Fatalf("Confidence = %v, want <= 1", got.Confidence)
	}
}

func TestEvaluateMicroStopLossForcesSell(t *testing.T) {
	cfg := baseConfig()
	cfg.MinSellScore = 100 // raise the bar so only the forced-exit contribution can clear it
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := decimal.NewFromInt(100)
	pos := &types.Position{EntryPrice: entry, EntryTime: now}

	losingPrice := decimal.NewFromFloat(100 * (1 - cfg.MicroStopLoss/100 - 0.01))
	got := Evaluate(now, losingPrice, types.Indicators{}, pos, cfg, Bookkeeping{})
	if got == nil {
		t.Fatal("Evaluate past micro_stop_loss = nil, want forced SELL")
	}
	if got.Kind != types.SignalSell {
		t.Fatalf("Kind = %v, want SELL", got.Kind)
	}
}

func TestEvaluateHoldWhenBelowMinSellScore(t *testing.T) {
	cfg := baseConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pos := &types.Position{EntryPrice: decimal.NewFromInt(100), EntryTime: now}

	got := Evaluate(now, decimal.NewFromInt(100), types.Indicators{}, pos, cfg, Bookkeeping{})
	if got != nil {
		t.Fatalf("Evaluate with no SELL triggers = %+v, want nil (HOLD)", got)
	}
}
