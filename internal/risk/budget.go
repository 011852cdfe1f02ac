package risk

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrBudgetExhausted is returned when no daily buy budget remains.
	ErrBudgetExhausted = errors.New("daily buy budget exhausted")
	// ErrInvalidAmount is returned for non-positive reservation requests.
	ErrInvalidAmount = errors.New("reservation amount must be positive")
)

// DailyBudget is the process-wide buy budget. It is reset to its maximum at
// the first use on each new calendar day (in loc) and otherwise only ever
// decreases.
type DailyBudget struct {
	mu        sync.Mutex
	max       decimal.Decimal
	remaining decimal.Decimal
	day       civilDay
	loc       *time.Location
	now       func() time.Time
}

type civilDay struct {
	y int
	m time.Month
	d int
}

func dayOf(t time.Time, loc *time.Location) civilDay {
	y, m, d := t.In(loc).Date()
	return civilDay{y, m, d}
}

// BudgetOption customises a DailyBudget.
type BudgetOption func(*DailyBudget)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) BudgetOption {
	return func(b *DailyBudget) { b.now = now }
}

// WithLocation sets the time zone whose midnight triggers the reset.
func WithLocation(loc *time.Location) BudgetOption {
	return func(b *DailyBudget) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// NewDailyBudget creates a budget with max units per day.
func NewDailyBudget(max float64, opts ...BudgetOption) *DailyBudget {
	b := &DailyBudget{
		max: decimal.NewFromFloat(max),
		loc: time.UTC,
		now: time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	b.remaining = b.max
	b.day = dayOf(b.now(), b.loc)
	return b
}

// Reserve atomically checks the remaining budget, clamps want to it and
// decrements. It returns the granted amount, which is less than want when the
// budget only partially covers it, or ErrBudgetExhausted when nothing is left.
func (b *DailyBudget) Reserve(want decimal.Decimal) (decimal.Decimal, error) {
	if !want.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if !b.remaining.IsPositive() {
		return decimal.Zero, ErrBudgetExhausted
	}
	granted := decimal.Min(want, b.remaining)
	b.remaining = b.remaining.Sub(granted)
	return granted, nil
}

// Remaining returns the budget left today.
func (b *DailyBudget) Remaining() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.remaining
}

// Max returns the configured daily maximum.
func (b *DailyBudget) Max() decimal.Decimal { return b.max }

// rollover resets the budget when the calendar day changed. Caller holds mu.
func (b *DailyBudget) rollover() {
	today := dayOf(b.now(), b.loc)
	if today != b.day {
		b.day = today
		b.remaining = b.max
	}
}
