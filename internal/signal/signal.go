// Package signal reduces an indicator analysis plus auxiliary facts to a
// confidence-scored trading direction.
//
// Scoring is a weighted sum of independent factors per side, each side
// clamped to [0,100]. Age and liquidity are hard gates, not weights.
package signal

import (
	"time"

	"signalengine/internal/model"
)

// Direction is the decided trading direction.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Reason explains why a signal was forced or reported as Hold.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonAgeOutOfWindow        Reason = "age_out_of_window"
	ReasonLiquidityInsufficient Reason = "liquidity_insufficient"
	ReasonBelowThreshold        Reason = "below_threshold"
	ReasonBudgetExhausted       Reason = "budget_exhausted"
)

// Factor names.
const (
	FactorMomentum         = "momentum"
	FactorBuySellRatio     = "buy_sell_ratio"
	FactorRSIOversold      = "rsi_oversold"
	FactorRSIOverbought    = "rsi_overbought"
	FactorSMAGoldenCross   = "sma_golden_cross"
	FactorSMADeathCross    = "sma_death_cross"
	FactorEMAGoldenCross   = "ema_golden_cross"
	FactorEMADeathCross    = "ema_death_cross"
	FactorBollingerRebound = "bollinger_lower_rebound"
	FactorBollingerReject  = "bollinger_upper_rejection"
	FactorMACDBullish      = "macd_bullish_cross"
	FactorMACDBearish      = "macd_bearish_cross"
	FactorAgeGate          = string(ReasonAgeOutOfWindow)
	FactorLiquidityGate    = string(ReasonLiquidityInsufficient)
)

// Factor is one named partial score.
type Factor struct {
	Name   string    `json:"name"`
	Side   Direction `json:"side"` // Buy, Sell, or Hold for gates
	Score  float64   `json:"score"`
	Detail string    `json:"detail,omitempty"`
}

// Signal is the outcome of one evaluation.
type Signal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // [0,100], retained even when suppressed
	BuyScore   float64   `json:"buy_score"`
	SellScore  float64   `json:"sell_score"`
	Factors    []Factor  `json:"factors"`

	// Suppressed is set when a non-Hold lean was turned into Hold.
	Suppressed Reason `json:"suppressed,omitempty"`
	// Lean is the direction the scores pointed to before gates and thresholds.
	Lean Direction `json:"lean"`
}

// Actionable reports whether the signal should be acted upon.
func (s Signal) Actionable() bool {
	return s.Direction == Buy || s.Direction == Sell
}

// Facts are the non-indicator inputs to an evaluation.
type Facts struct {
	BuyCount  int64
	SellCount int64
	Age       time.Duration     // since the asset was first observed
	Curve     *model.CurveFacts // nil when the collaborator has no reading
}
