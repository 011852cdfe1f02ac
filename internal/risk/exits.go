package risk

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// Tier is one partial take-profit level.
type Tier struct {
	Pct      float64 `json:"pct"`      // gain over entry that triggers the tier
	Fraction float64 `json:"fraction"` // share of the remaining position to sell, (0,1]
}

// Checkpoint tightens the stop distance once a position has been held for After.
type Checkpoint struct {
	After  time.Duration `json:"after"`
	Factor float64       `json:"factor"` // multiplier on the stop distance, (0,1]
}

// ExitConfig configures an ExitPlanner.
type ExitConfig struct {
	StopLossPct     float64
	TakeProfitPct   float64
	Tiers           []Tier // empty: single tier at TakeProfitPct selling everything
	TrailingStopPct float64
	MinStopPct      float64 // stops never tighten below this distance

	// Risk score = clamp(volatility / ReferenceVolatility, 0, 1); all
	// percentages are multiplied by (1 − TightenFactor × risk).
	ReferenceVolatility float64
	TightenFactor       float64

	Checkpoints []Checkpoint
}

// DefaultExitConfig returns the stock exit schedule.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		StopLossPct:   10,
		TakeProfitPct: 20,
		Tiers: []Tier{
			{Pct: 20, Fraction: 0.5},
			{Pct: 40, Fraction: 0.5},
			{Pct: 80, Fraction: 1},
		},
		TrailingStopPct:     8,
		MinStopPct:          2,
		ReferenceVolatility: 0.2,
		TightenFactor:       0.5,
		Checkpoints: []Checkpoint{
			{After: 10 * time.Minute, Factor: 0.8},
			{After: 30 * time.Minute, Factor: 0.6},
			{After: time.Hour, Factor: 0.4},
		},
	}
}

// ExitPlan is the exit schedule for one position.
type ExitPlan struct {
	RiskScore       float64      `json:"risk_score"`
	StopLossPct     float64      `json:"stop_loss_pct"`
	TrailingStopPct float64      `json:"trailing_stop_pct"`
	TakeProfit      []Tier       `json:"take_profit"`
	MinStopPct      float64      `json:"min_stop_pct"`
	Checkpoints     []Checkpoint `json:"checkpoints"`
}

// ExitPlanner derives exit plans from volatility.
type ExitPlanner struct {
	cfg ExitConfig
}

// NewExitPlanner creates an ExitPlanner.
func NewExitPlanner(cfg ExitConfig) *ExitPlanner {
	return &ExitPlanner{cfg: cfg}
}

// RiskScore maps volatility to [0,1].
func (p *ExitPlanner) RiskScore(volatility float64) float64 {
	if p.cfg.ReferenceVolatility <= 0 || volatility <= 0 {
		return 0
	}
	return lo.Clamp(volatility/p.cfg.ReferenceVolatility, 0, 1)
}

// Plan builds the exit plan for an entry at the given volatility. Riskier
// assets get proportionally tighter stops and nearer take-profit tiers.
func (p *ExitPlanner) Plan(volatility float64) ExitPlan {
	risk := p.RiskScore(volatility)
	tighten := 1 - lo.Clamp(p.cfg.TightenFactor, 0, 1)*risk

	tiers := p.cfg.Tiers
	if len(tiers) == 0 {
		tiers = []Tier{{Pct: p.cfg.TakeProfitPct, Fraction: 1}}
	}
	scaled := lo.Map(tiers, func(t Tier, _ int) Tier {
		return Tier{Pct: t.Pct * tighten, Fraction: lo.Clamp(t.Fraction, 0, 1)}
	})
	sort.SliceStable(scaled, func(i, j int) bool { return scaled[i].Pct < scaled[j].Pct })

	checkpoints := append([]Checkpoint(nil), p.cfg.Checkpoints...)
	sort.SliceStable(checkpoints, func(i, j int) bool { return checkpoints[i].After < checkpoints[j].After })

	floor := p.cfg.MinStopPct
	return ExitPlan{
		RiskScore:       risk,
		StopLossPct:     max(floor, p.cfg.StopLossPct*tighten),
		TrailingStopPct: max(floor, p.cfg.TrailingStopPct*tighten),
		TakeProfit:      scaled,
		MinStopPct:      floor,
		Checkpoints:     checkpoints,
	}
}

// StopDistance returns base tightened by every checkpoint already passed
// after holding for held. It is monotonically non-increasing in held and
// never below the plan's MinStopPct (unless base itself is smaller).
func (e ExitPlan) StopDistance(base float64, held time.Duration) float64 {
	factor := 1.0
	for _, cp := range e.Checkpoints {
		if held < cp.After {
			break
		}
		factor = min(factor, lo.Clamp(cp.Factor, 0, 1))
	}
	d := base * factor
	return max(d, min(base, e.MinStopPct))
}
