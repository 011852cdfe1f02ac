// Package risk turns a signal's confidence and the asset's volatility into a
// position size and an exit schedule, and tracks the resulting positions.
package risk

import (
	"errors"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// SizingConfig configures a Sizer.
type SizingConfig struct {
	BaseSize            float64 // budget units at full confidence and zero volatility
	MinConfidence       float64 // below this confidence the size is zero
	PortfolioValue      float64 // total portfolio, in budget units
	MaxPortfolioRiskPct float64 // max share of the portfolio per position, percent
	VolatilityPenalty   float64 // size is divided by (1 + volatility × penalty)
}

// DefaultSizingConfig returns conservative defaults.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		BaseSize:            1.0,
		MinConfidence:       65,
		PortfolioValue:      10,
		MaxPortfolioRiskPct: 20,
		VolatilityPenalty:   5,
	}
}

// Sizing is the outcome of a sizing decision.
type Sizing struct {
	Requested decimal.Decimal `json:"requested"`
	Size      decimal.Decimal `json:"size"`
	Clamped   bool            `json:"clamped"` // budget covered only part of the request
	Blocked   bool            `json:"blocked"` // no buy may proceed
	Err       error           `json:"-"`       // ErrBudgetExhausted or ErrZeroAllocation when blocked
}

// ErrZeroAllocation means confidence/volatility sizing produced nothing to buy.
var ErrZeroAllocation = errors.New("zero allocation")

// Sizer computes buy sizes and reserves them from the daily budget.
type Sizer struct {
	cfg    SizingConfig
	budget *DailyBudget
}

// NewSizer creates a Sizer drawing from budget.
func NewSizer(cfg SizingConfig, budget *DailyBudget) *Sizer {
	return &Sizer{cfg: cfg, budget: budget}
}

// Budget returns the shared daily budget.
func (s *Sizer) Budget() *DailyBudget { return s.budget }

// ConfidenceScale maps confidence to [0,1]: 0 below MinConfidence, then
// linear from 0.5 at MinConfidence to 1 at 100. Monotonic non-decreasing.
func (s *Sizer) ConfidenceScale(confidence float64) float64 {
	if confidence < s.cfg.MinConfidence {
		return 0
	}
	span := 100 - s.cfg.MinConfidence
	if span <= 0 {
		return 1
	}
	return 0.5 + 0.5*lo.Clamp((confidence-s.cfg.MinConfidence)/span, 0, 1)
}

// Target returns the unreserved size for the given confidence and volatility
// (Bollinger band width), after the portfolio risk cap.
func (s *Sizer) Target(confidence, volatility float64) float64 {
	size := s.cfg.BaseSize * s.ConfidenceScale(confidence)
	if volatility > 0 && s.cfg.VolatilityPenalty > 0 {
		size /= 1 + volatility*s.cfg.VolatilityPenalty
	}
	if limit := s.cfg.PortfolioValue * s.cfg.MaxPortfolioRiskPct / 100; limit > 0 {
		size = min(size, limit)
	}
	return max(size, 0)
}

// Size computes the target size and reserves it from the daily budget in one
// indivisible step, clamping to what remains.
func (s *Sizer) Size(confidence, volatility float64) Sizing {
	want := decimal.NewFromFloat(s.Target(confidence, volatility)).Round(8)
	out := Sizing{Requested: want, Size: decimal.Zero}
	if !want.IsPositive() {
		out.Blocked, out.Err = true, ErrZeroAllocation
		return out
	}

	granted, err := s.budget.Reserve(want)
	if err != nil {
		out.Blocked, out.Err = true, err
		return out
	}
	out.Size = granted
	out.Clamped = granted.LessThan(want)
	return out
}
