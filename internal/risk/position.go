package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a position lifecycle state.
type State string

const (
	StateNoPosition  State = "NO_POSITION"
	StateEntered     State = "ENTERED"
	StatePartialExit State = "PARTIAL_EXIT"
	StateClosed      State = "CLOSED"
)

// Open reports whether the state holds a live position.
func (s State) Open() bool {
	return s == StateEntered || s == StatePartialExit
}

// ExitReason tells why (part of) a position was sold.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitSellSignal   ExitReason = "sell_signal"
	ExitManual       ExitReason = "manual"
)

var (
	// ErrInvalidTransition is returned for lifecycle moves the state machine forbids.
	ErrInvalidTransition = errors.New("invalid position transition")
	// ErrNotOpen is returned when updating a position that is not open.
	ErrNotOpen = errors.New("position not open")
)

// Exit is one (partial) sale.
type Exit struct {
	Reason ExitReason `json:"reason"`
	Price  float64    `json:"price"`
	Size   float64    `json:"size"`
	Tier   int        `json:"tier,omitempty"` // 1-based take-profit tier
	At     time.Time  `json:"at"`
}

// sizeEpsilon treats float residue after partial exits as zero.
const sizeEpsilon = 1e-12

// Position is a long position in one asset. All methods are safe for
// concurrent use.
type Position struct {
	mu sync.Mutex

	id        string
	assetID   string
	state     State
	entry     float64
	initial   float64
	remaining float64
	plan      ExitPlan
	openedAt  time.Time
	highWater float64
	stop      float64 // effective stop level; only ever rises
	trailing  float64 // trailing stop level; only ever rises
	nextTier  int
	exits     []Exit
	closedAt  time.Time
}

// NewPosition creates a position in StateNoPosition.
func NewPosition(assetID string) *Position {
	return &Position{assetID: assetID, state: StateNoPosition}
}

// Open moves NoPosition → Entered.
func (p *Position) Open(entry, size float64, plan ExitPlan, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateNoPosition {
		return fmt.Errorf("%w: open from %s", ErrInvalidTransition, p.state)
	}
	if !(entry > 0) || !(size > 0) {
		return fmt.Errorf("%w: entry %v size %v", ErrInvalidTransition, entry, size)
	}

	p.id = uuid.NewString()
	p.state = StateEntered
	p.entry = entry
	p.initial = size
	p.remaining = size
	p.plan = plan
	p.openedAt = now
	p.highWater = entry
	p.trailing = 0
	p.stop = 0
	p.refreshStops(now)
	return nil
}

// OnPrice feeds a price update and returns the exits it triggered.
// A stop cross closes the whole remainder; otherwise every take-profit tier
// the price has reached sells its fraction of what remains.
func (p *Position) OnPrice(price float64, now time.Time) ([]Exit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.Open() {
		return nil, ErrNotOpen
	}
	if price > p.highWater {
		p.highWater = price
	}
	p.refreshStops(now)

	if price <= p.stop {
		reason := ExitStopLoss
		if p.trailing > p.fixedStop(now) {
			reason = ExitTrailingStop
		}
		return []Exit{p.closeLocked(reason, price, now)}, nil
	}

	var out []Exit
	for p.nextTier < len(p.plan.TakeProfit) {
		tier := p.plan.TakeProfit[p.nextTier]
		if price < p.entry*(1+tier.Pct/100) {
			break
		}
		p.nextTier++
		qty := p.remaining * tier.Fraction
		if p.remaining-qty <= sizeEpsilon {
			e := p.closeLocked(ExitTakeProfit, price, now)
			e.Tier = p.nextTier
			p.exits[len(p.exits)-1].Tier = p.nextTier
			return append(out, e), nil
		}
		p.remaining -= qty
		p.state = StatePartialExit
		e := Exit{Reason: ExitTakeProfit, Price: price, Size: qty, Tier: p.nextTier, At: now}
		p.exits = append(p.exits, e)
		out = append(out, e)
	}
	return out, nil
}

// Close sells the remainder, moving Entered|PartialExit → Closed.
func (p *Position) Close(reason ExitReason, price float64, now time.Time) (Exit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Open() {
		return Exit{}, fmt.Errorf("%w: close from %s", ErrInvalidTransition, p.state)
	}
	return p.closeLocked(reason, price, now), nil
}

func (p *Position) closeLocked(reason ExitReason, price float64, now time.Time) Exit {
	e := Exit{Reason: reason, Price: price, Size: p.remaining, At: now}
	p.exits = append(p.exits, e)
	p.remaining = 0
	p.state = StateClosed
	p.closedAt = now
	return e
}

func (p *Position) fixedStop(now time.Time) float64 {
	held := now.Sub(p.openedAt)
	return p.entry * (1 - p.plan.StopDistance(p.plan.StopLossPct, held)/100)
}

// refreshStops ratchets the trailing and effective stop levels upward.
func (p *Position) refreshStops(now time.Time) {
	// The trailing stop only engages once the position is in profit.
	if p.highWater > p.entry {
		held := now.Sub(p.openedAt)
		trail := p.highWater * (1 - p.plan.StopDistance(p.plan.TrailingStopPct, held)/100)
		p.trailing = max(p.trailing, trail)
	}
	p.stop = max(p.stop, p.fixedStop(now), p.trailing)
}

// Snapshot is a read-only view of a position.
type Snapshot struct {
	ID           string    `json:"id"`
	AssetID      string    `json:"asset_id"`
	State        State     `json:"state"`
	Entry        float64   `json:"entry"`
	InitialSize  float64   `json:"initial_size"`
	Remaining    float64   `json:"remaining"`
	HighWater    float64   `json:"high_water"`
	StopLevel    float64   `json:"stop_level"`
	TrailingStop float64   `json:"trailing_stop"`
	NextTier     int       `json:"next_tier"`
	Exits        []Exit    `json:"exits,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at,omitempty"`
	Plan         ExitPlan  `json:"plan"`
}

// Snapshot copies the position state.
func (p *Position) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		ID:           p.id,
		AssetID:      p.assetID,
		State:        p.state,
		Entry:        p.entry,
		InitialSize:  p.initial,
		Remaining:    p.remaining,
		HighWater:    p.highWater,
		StopLevel:    p.stop,
		TrailingStop: p.trailing,
		NextTier:     p.nextTier,
		Exits:        append([]Exit(nil), p.exits...),
		OpenedAt:     p.openedAt,
		ClosedAt:     p.closedAt,
		Plan:         p.plan,
	}
}

// State returns the lifecycle state.
func (p *Position) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
