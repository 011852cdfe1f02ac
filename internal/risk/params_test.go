package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator_Evaluate(t *testing.T) {
	c := NewCalculator(DefaultSizingConfig(), DefaultExitConfig(), NewDailyBudget(2.0))

	params, plan, err := c.Evaluate(100, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, params.PositionSize)
	assert.Equal(t, 1.0, params.DailyBudgetRemaining)
	assert.Equal(t, 10.0, params.StopLossPct)
	assert.Equal(t, plan.TakeProfit, params.TakeProfit)

	_, _, err = c.Evaluate(100, 0)
	require.NoError(t, err)

	params, _, err = c.Evaluate(100, 0)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Zero(t, params.PositionSize)
	assert.Zero(t, params.DailyBudgetRemaining)
}
