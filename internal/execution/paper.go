package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidOrder is returned for orders that cannot be filled.
var ErrInvalidOrder = errors.New("invalid order")

// PaperExecutor simulates order execution without real venue calls.
type PaperExecutor struct {
	mu    sync.RWMutex
	fills []Fill

	slippageBps float64 // basis points of slippage (e.g., 50 = 0.5%)
	now         func() time.Time
	log         *slog.Logger
}

// NewPaperExecutor creates a paper executor with the given slippage.
func NewPaperExecutor(slippageBps float64) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]Fill, 0, 256),
		slippageBps: slippageBps,
		now:         time.Now,
		log:         slog.Default().With(slog.String("component", "paper")),
	}
}

// Submit fills o immediately at its reference price adjusted for slippage:
// buys fill higher, sells lower.
func (p *PaperExecutor) Submit(ctx context.Context, o Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if o.AssetID == "" || !(o.Size > 0) || !(o.Price > 0) {
		return Fill{}, ErrInvalidOrder
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	slip := o.Price * p.slippageBps / 10000
	price := o.Price + slip
	if o.Side == SideSell {
		price = o.Price - slip
	}

	f := Fill{Order: o, FillPrice: price, Slippage: slip, FilledAt: p.now()}

	p.mu.Lock()
	p.fills = append(p.fills, f)
	p.mu.Unlock()

	p.log.Info("paper fill",
		slog.String("asset", o.AssetID),
		slog.String("side", string(o.Side)),
		slog.Float64("size", o.Size),
		slog.Float64("price", price),
		slog.String("reason", o.Reason),
		slog.String("order", o.ID))
	return f, nil
}

// Fills returns a copy of all fills in submission order.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
