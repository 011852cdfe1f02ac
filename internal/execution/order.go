// Package execution is the boundary to the order-submission collaborator.
//
// The engine hands every entry and exit to an Executor. Real broker or DEX
// integrations live outside this module; PaperExecutor simulates fills for
// dry runs and replays.
package execution

import (
	"context"
	"time"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is one instruction to the execution collaborator.
type Order struct {
	ID      string    `json:"id"`
	AssetID string    `json:"asset_id"`
	Side    Side      `json:"side"`
	Size    float64   `json:"size"`  // budget units for buys, position units for sells
	Price   float64   `json:"price"` // reference price at decision time
	Reason  string    `json:"reason"`
	TraceID string    `json:"trace_id,omitempty"`
	At      time.Time `json:"at"`
}

// Executor submits orders. Implementations must not block indefinitely.
type Executor interface {
	Submit(ctx context.Context, o Order) (Fill, error)
}

// Fill is the collaborator's acknowledgement of an order.
type Fill struct {
	Order     Order     `json:"order"`
	FillPrice float64   `json:"fill_price"`
	Slippage  float64   `json:"slippage"`
	FilledAt  time.Time `json:"filled_at"`
}
