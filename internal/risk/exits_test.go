package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitPlanner_TightensWithVolatility(t *testing.T) {
	p := NewExitPlanner(DefaultExitConfig())

	calm := p.Plan(0)
	wild := p.Plan(0.2)
	wilder := p.Plan(1.0)

	assert.Equal(t, 0.0, calm.RiskScore)
	assert.Equal(t, 10.0, calm.StopLossPct)
	assert.Equal(t, 8.0, calm.TrailingStopPct)
	require.Len(t, calm.TakeProfit, 3)
	assert.Equal(t, 20.0, calm.TakeProfit[0].Pct)

	assert.Equal(t, 1.0, wild.RiskScore)
	assert.Equal(t, 5.0, wild.StopLossPct)
	assert.Equal(t, 4.0, wild.TrailingStopPct)
	assert.Equal(t, 10.0, wild.TakeProfit[0].Pct)

	assert.Equal(t, wild, wilder, "risk score saturates at 1")
}

func TestExitPlanner_SingleTierFallback(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.Tiers = nil
	plan := NewExitPlanner(cfg).Plan(0)
	assert.Equal(t, []Tier{{Pct: 20, Fraction: 1}}, plan.TakeProfit)
}

func TestExitPlanner_MinStopFloor(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.StopLossPct = 3
	cfg.TightenFactor = 0.9
	plan := NewExitPlanner(cfg).Plan(1)
	assert.Equal(t, 2.0, plan.StopLossPct)
}

func TestExitPlan_StopDistanceNonIncreasing(t *testing.T) {
	plan := NewExitPlanner(DefaultExitConfig()).Plan(0)

	prev := plan.StopDistance(10, 0)
	assert.Equal(t, 10.0, prev)
	for held := time.Duration(0); held <= 3*time.Hour; held += 30 * time.Second {
		d := plan.StopDistance(10, held)
		require.LessOrEqual(t, d, prev, "held %s", held)
		require.GreaterOrEqual(t, d, plan.MinStopPct)
		prev = d
	}
	assert.Equal(t, 8.0, plan.StopDistance(10, 10*time.Minute))
	assert.Equal(t, 6.0, plan.StopDistance(10, 45*time.Minute))
	assert.Equal(t, 4.0, plan.StopDistance(10, 2*time.Hour))
}

func TestExitPlan_StopDistanceIgnoresLooseningCheckpoint(t *testing.T) {
	plan := ExitPlan{Checkpoints: []Checkpoint{
		{After: time.Minute, Factor: 0.5},
		{After: 2 * time.Minute, Factor: 0.9},
	}}
	assert.Equal(t, 5.0, plan.StopDistance(10, 3*time.Minute))
}
