// Package types provides the shared data model for the trading laboratory:
// ticks, positions, simulation results, versions and the event envelope that
// every other package builds on.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SignalKind represents the outcome of a signal evaluation.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// StrategyTag names a scoring family a config leans on; GRAPH_SCALPING is the
// baseline strategy used to create v1_initial.
type StrategyTag string

const (
	StrategyScalping      StrategyTag = "GRAPH_SCALPING"
	StrategyConservative  StrategyTag = "GRAPH_CONSERVATIVE"
	StrategyMomentum      StrategyTag = "GRAPH_MOMENTUM"
	StrategyMeanReversion StrategyTag = "GRAPH_MEAN_REVERSION"
)

// ExitReason records why a Position was closed.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitTimeExit      ExitReason = "time_exit"
	ExitSignal        ExitReason = "signal"
	ExitSimulationEnd ExitReason = "simulation_end"
	ExitAgentStopped  ExitReason = "agent_stopped"
)

// Tick is one observed price sample. Price is the bid, conservative for a
// long-only strategy. Immutable once observed.
type Tick struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
}

// Indicators is a snapshot produced from a PriceWindow at one point in time.
// Every field is a pure function of the window and the GraphConfig that
// produced it; percentages and oscillator values stay float64 since they are
// statistical, not monetary, quantities.
type Indicators struct {
	RSI              float64 `json:"rsi"`
	EMAFast          float64 `json:"emaFast"`
	EMASlow          float64 `json:"emaSlow"`
	EMACross         int     `json:"emaCross"` // -1, 0, +1
	MACDSign         int     `json:"macdSign"`
	BBUpper          float64 `json:"bbUpper"`
	BBMiddle         float64 `json:"bbMiddle"`
	BBLower          float64 `json:"bbLower"`
	BBPosition       float64 `json:"bbPosition"`
	BBTouchLower     bool    `json:"bbTouchLower"`
	BBTouchUpper     bool    `json:"bbTouchUpper"`
	Momentum         map[int]float64 `json:"momentum"`
	VolatilityPct    float64 `json:"volatilityPct"`
	ATRPct           float64 `json:"atrPct"`
	TrendDirection   int     `json:"trendDirection"` // -1, 0, +1
	ReversalUp       bool    `json:"reversalUp"`
	ReversalDown     bool    `json:"reversalDown"`
	MicroMoveUp      bool    `json:"microMoveUp"`
	MicroMoveDown    bool    `json:"microMoveDown"`
}

// Signal is a decision derived from the indicator state. HOLD is represented
// by a nil *Signal at call sites, not by a zero-value Signal.
type Signal struct {
	Timestamp     time.Time       `json:"timestamp"`
	Kind          SignalKind      `json:"kind"`
	Price         decimal.Decimal `json:"price"`
	Confidence    float64         `json:"confidence"`
	Score         float64         `json:"score"`
	Reason        string          `json:"reason"`
	StrategyTags  []string        `json:"strategyTags"`
	Indicators    Indicators      `json:"indicators"`
}

// Position is the single open long holding a PaperTrader may carry.
type Position struct {
	ID           string          `json:"id"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	EntryTime    time.Time       `json:"entryTime"`
	Qty          decimal.Decimal `json:"qty"`
	StopLoss     decimal.Decimal `json:"stopLoss"`
	TakeProfit   decimal.Decimal `json:"takeProfit"`
	HighestPrice decimal.Decimal `json:"highestPrice"`
	LowestPrice  decimal.Decimal `json:"lowestPrice"`
	StrategyTags []string        `json:"strategyTags"`
}

// ClosedTrade is an immutable Position extended with the outcome of closing
// it.
type ClosedTrade struct {
	Position
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	ExitTime   time.Time       `json:"exitTime"`
	ExitReason ExitReason      `json:"exitReason"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPercent float64         `json:"pnlPercent"`
}

// SimulationStats tracks the running state of one PaperTrader run.
type SimulationStats struct {
	InitialCapital   decimal.Decimal `json:"initialCapital"`
	CurrentCapital   decimal.Decimal `json:"currentCapital"`
	PeakCapital      decimal.Decimal `json:"peakCapital"`
	SignalCount      int             `json:"signalCount"`
	TradesExecuted   int             `json:"tradesExecuted"`
	WinningTrades    int             `json:"winningTrades"`
	LosingTrades     int             `json:"losingTrades"`
	TotalPnL         decimal.Decimal `json:"totalPnl"`
	BestTrade        decimal.Decimal `json:"bestTrade"`
	WorstTrade       decimal.Decimal `json:"worstTrade"`
	MaxDrawdownPct   float64         `json:"maxDrawdownPct"`
	CurrentDrawdownPct float64       `json:"currentDrawdownPct"`
	PriceStart       decimal.Decimal `json:"priceStart"`
	PriceEnd         decimal.Decimal `json:"priceEnd"`
	PriceHigh        decimal.Decimal `json:"priceHigh"`
	PriceLow         decimal.Decimal `json:"priceLow"`
}

// WinRate returns winning / trades_executed as a percentage (0-100), 0 if no
// trades have closed.
func (s *SimulationStats) WinRate() float64 {
	if s.TradesExecuted == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.TradesExecuted) * 100
}

// PnLPercent returns total P&L as a percentage of initial capital.
func (s *SimulationStats) PnLPercent() float64 {
	if s.InitialCapital.IsZero() {
		return 0
	}
	pct, _ := s.TotalPnL.Div(s.InitialCapital).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// GraphConfig is the full parameter sheet driving the indicator kernel,
// signal evaluator and paper trader. Immutable once adopted for a
// simulation: every mutation produces a new GraphConfig value rather than
// editing one in place.
type GraphConfig struct {
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	StrategyTag StrategyTag `json:"strategyTag"`

	// Indicator periods.
	RSIPeriod     int `json:"rsiPeriod"`
	EMAFastPeriod int `json:"emaFastPeriod"`
	EMASlowPeriod int `json:"emaSlowPeriod"`
	MACDFast      int `json:"macdFast"`
	MACDSlow      int `json:"macdSlow"`
	MACDSignal    int `json:"macdSignal"`
	BBPeriod      int `json:"bbPeriod"`
	BBStdDev      float64 `json:"bbStdDev"`
	MomentumPeriod int    `json:"momentumPeriod"`

	// Oscillator thresholds.
	RSIOversold   float64 `json:"rsiOversold"`
	RSIOverbought float64 `json:"rsiOverbought"`

	// Price-action / scalping thresholds.
	PriceChangeThreshold float64 `json:"priceChangeThreshold"`
	VolumeSpikeMultiplier float64 `json:"volumeSpikeMultiplier"`
	MicroProfitTarget    float64 `json:"microProfitTarget"`
	MicroStopLoss        float64 `json:"microStopLoss"`
	TickScalpThreshold   float64 `json:"tickScalpThreshold"`

	// Risk management.
	PositionSizePct  float64 `json:"positionSizePct"`
	StopLossPct      float64 `json:"stopLossPct"`
	TakeProfitPct    float64 `json:"takeProfitPct"`
	TrailingStopPct  float64 `json:"trailingStopPct"`
	MaxPositions     int     `json:"maxPositions"`

	// Timing, in seconds.
	MinTimeBetweenTrades int `json:"minTimeBetweenTrades"`
	CooldownAfterLoss    int `json:"cooldownAfterLoss"`
	MaxPositionDuration  int `json:"maxPositionDuration"`

	// Scoring weights, all default 1.0.
	WeightRSI         float64 `json:"weightRsi"`
	WeightEMA         float64 `json:"weightEma"`
	WeightMACD        float64 `json:"weightMacd"`
	WeightBB          float64 `json:"weightBb"`
	WeightMomentum    float64 `json:"weightMomentum"`
	WeightPriceAction float64 `json:"weightPriceAction"`

	// Score thresholds.
	MinBuyScore  float64 `json:"minBuyScore"`
	MinSellScore float64 `json:"minSellScore"`
}

// MarketConditions is the normalised market fingerprint used by
// find_best_for's distance metric and stored alongside versions and results.
type MarketConditions struct {
	RSI        float64 `json:"rsi"`
	Volatility float64 `json:"volatility"`
	Trend      float64 `json:"trend"`
	Momentum   float64 `json:"momentum"`
}

// SimulationResult is the report a PaperTrader hands back at the end of one
// run. Score = winrate + clamp(pnlPercent*2, -inf, 10).
type SimulationResult struct {
	ID              string           `json:"id"`
	VersionID       string           `json:"versionId"`
	DurationSeconds int              `json:"durationSeconds"`
	TotalOrders     int              `json:"totalOrders"`
	WinningOrders   int              `json:"winningOrders"`
	LosingOrders    int              `json:"losingOrders"`
	WinRate         float64          `json:"winRate"`
	Score           float64          `json:"score"`
	PnL             decimal.Decimal  `json:"pnl"`
	PnLPercent      float64          `json:"pnlPercent"`
	BuyAndHoldPct   float64          `json:"buyAndHoldPct"`
	MaxDrawdownPct  float64          `json:"maxDrawdownPct"`
	Config          GraphConfig      `json:"config"`
	Orders          []ClosedTrade    `json:"orders"`
	MarketConditions MarketConditions `json:"marketConditions"`
	CreatedAt       time.Time        `json:"createdAt"`
	Failed          bool             `json:"failed"`
	FailureReason   string           `json:"failureReason,omitempty"`
}

// ComputeScore applies the spec's fixed score formula.
func ComputeScore(winRate, pnlPercent float64) float64 {
	bonus := pnlPercent * 2
	if bonus > 10 {
		bonus = 10
	}
	return winRate + bonus
}

// AgentVersion is a named, immutable parameter set with its latest scoring.
// Versions form a forest via ParentID; at most one is Active.
type AgentVersion struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Config            GraphConfig      `json:"config"`
	Score             float64          `json:"score"`
	WinRate           float64          `json:"winRate"`
	TotalSimulations  int              `json:"totalSimulations"`
	IsActive          bool             `json:"isActive"`
	IsProduction      bool             `json:"isProduction"`
	CreatedAt         time.Time        `json:"createdAt"`
	MarketConditions  MarketConditions `json:"marketConditions"`
	ParentID          string           `json:"parentId,omitempty"`
}

// EventType enumerates the fixed set of event kinds the bus carries.
type EventType string

const (
	EventStateChanged   EventType = "STATE_CHANGED"
	EventVersionCreated EventType = "VERSION_CREATED"
	EventVersionAdopted EventType = "VERSION_ADOPTED"
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderClosed    EventType = "ORDER_CLOSED"
	EventSimulationDone EventType = "SIMULATION_DONE"
	EventAdvisorCalled  EventType = "ADVISOR_CALLED"
	EventError          EventType = "ERROR"
	EventWarning        EventType = "WARNING"
	EventInfo           EventType = "INFO"
)

// Severity classifies an Event for filtering and UI colouring.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Event is one entry in the bounded event bus ring.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// AgentState enumerates the Agent Loop's top-level FSM states.
type AgentState string

const (
	StateIdle             AgentState = "IDLE"
	StateRunningInitial    AgentState = "RUNNING_INITIAL"
	StateRunningShort      AgentState = "RUNNING_SHORT"
	StateEvaluating        AgentState = "EVALUATING"
	StateOptimizing        AgentState = "OPTIMIZING"
	StateSearchingHistory  AgentState = "SEARCHING_HISTORY"
	StateLiveTrading       AgentState = "LIVE_TRADING"
	StatePaused            AgentState = "PAUSED"
	StateError             AgentState = "ERROR"
)

// AgentStatus is the derived read projection exposed over HTTP.
type AgentStatus struct {
	State               AgentState       `json:"state"`
	Running             bool             `json:"running"`
	Symbol              string           `json:"symbol"`
	CurrentVersionID     string           `json:"currentVersionId"`
	CurrentVersionName   string           `json:"currentVersionName"`
	TotalSimulationsRun  int              `json:"totalSimulationsRun"`
	ConsecutiveFailures  int              `json:"consecutiveFailures"`
	SimulationElapsedSec float64          `json:"simulationElapsedSec"`
	SimulationDurationSec float64         `json:"simulationDurationSec"`
	Stats               SimulationStats  `json:"stats"`
	StartedAt           time.Time        `json:"startedAt,omitempty"`
}

// AdvisorNode enumerates the fixed decision nodes the advisor can be asked
// to evaluate.
type AdvisorNode string

const (
	NodeEvaluateMarket     AdvisorNode = "evaluate_market"
	NodeEvaluateSimulation AdvisorNode = "evaluate_simulation"
	NodeOptimizeParameters AdvisorNode = "optimize_parameters"
	NodeSearchHistory      AdvisorNode = "search_history"
	NodeDecideNextStep     AdvisorNode = "decide_next_step"
	NodeAnalyzeFailure     AdvisorNode = "analyze_failure"
	NodeGenerateStrategy   AdvisorNode = "generate_strategy"
)

// AdvisorRequest carries the JSON-serialisable context the agent fills a
// node's prompt template with.
type AdvisorRequest struct {
	Node    AdvisorNode    `json:"node"`
	Context map[string]any `json:"context"`
}

// AdvisorResponse is what think() returns, whether from a live call or the
// deterministic fallback.
type AdvisorResponse struct {
	Success    bool           `json:"success"`
	Content    map[string]any `json:"content"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence"`
	TokensUsed int            `json:"tokensUsed"`
	Fallback   bool           `json:"fallback"`
}
