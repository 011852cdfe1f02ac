package risk

// RiskParameters is handed to the execution collaborator with each buy.
type RiskParameters struct {
	PositionSize         float64 `json:"position_size"`
	StopLossPct          float64 `json:"stop_loss_pct"`
	TakeProfit           []Tier  `json:"take_profit"`
	TrailingStopPct      float64 `json:"trailing_stop_pct"`
	DailyBudgetRemaining float64 `json:"daily_budget_remaining"`
	RiskScore            float64 `json:"risk_score"`
	Clamped              bool    `json:"clamped,omitempty"`
}

// Calculator combines sizing and exit planning.
type Calculator struct {
	sizer   *Sizer
	planner *ExitPlanner
}

// NewCalculator creates a Calculator that draws from budget.
func NewCalculator(sizing SizingConfig, exits ExitConfig, budget *DailyBudget) *Calculator {
	return &Calculator{
		sizer:   NewSizer(sizing, budget),
		planner: NewExitPlanner(exits),
	}
}

// Budget returns the shared daily budget.
func (c *Calculator) Budget() *DailyBudget { return c.sizer.Budget() }

// Evaluate sizes a buy and plans its exits. When sizing is blocked the
// returned parameters have a zero size and the error is ErrBudgetExhausted
// or ErrZeroAllocation; the budget is untouched in that case.
func (c *Calculator) Evaluate(confidence, volatility float64) (RiskParameters, ExitPlan, error) {
	sz := c.sizer.Size(confidence, volatility)
	remaining := c.sizer.Budget().Remaining().InexactFloat64()
	if sz.Blocked {
		return RiskParameters{DailyBudgetRemaining: remaining}, ExitPlan{}, sz.Err
	}

	plan := c.planner.Plan(volatility)
	return RiskParameters{
		PositionSize:         sz.Size.InexactFloat64(),
		StopLossPct:          plan.StopLossPct,
		TakeProfit:           plan.TakeProfit,
		TrailingStopPct:      plan.TrailingStopPct,
		DailyBudgetRemaining: remaining,
		RiskScore:            plan.RiskScore,
		Clamped:              sz.Clamped,
	}, plan, nil
}
