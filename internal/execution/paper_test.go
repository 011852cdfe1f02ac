package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperExecutor_Slippage(t *testing.T) {
	p := NewPaperExecutor(100) // 1%
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	buy, err := p.Submit(context.Background(), Order{AssetID: "A", Side: SideBuy, Size: 1, Price: 2})
	require.NoError(t, err)
	assert.InDelta(t, 2.02, buy.FillPrice, 1e-12)
	assert.NotEmpty(t, buy.Order.ID)
	assert.Equal(t, at, buy.FilledAt)

	sell, err := p.Submit(context.Background(), Order{ID: "x", AssetID: "A", Side: SideSell, Size: 1, Price: 2})
	require.NoError(t, err)
	assert.InDelta(t, 1.98, sell.FillPrice, 1e-12)
	assert.Equal(t, "x", sell.Order.ID)

	fills := p.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, SideBuy, fills[0].Order.Side)
}

func TestPaperExecutor_Rejects(t *testing.T) {
	p := NewPaperExecutor(0)
	_, err := p.Submit(context.Background(), Order{AssetID: "A", Side: SideBuy, Size: 0, Price: 1})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Submit(ctx, Order{AssetID: "A", Side: SideBuy, Size: 1, Price: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Fills())
}
