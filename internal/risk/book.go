package risk

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrPositionOpen is returned when opening an asset that already has a live position.
var ErrPositionOpen = errors.New("position already open")

// Book tracks the current position per asset. A closed position stays in the
// book until the asset is re-entered or removed.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Open starts a fresh position for assetID, replacing a closed one.
func (b *Book) Open(assetID string, entry, size float64, plan ExitPlan, now time.Time) (*Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.positions[assetID]; ok && cur.State().Open() {
		return nil, ErrPositionOpen
	}
	p := NewPosition(assetID)
	if err := p.Open(entry, size, plan, now); err != nil {
		return nil, err
	}
	b.positions[assetID] = p
	return p, nil
}

// Active returns the live position for assetID, if any.
func (b *Book) Active(assetID string) (*Position, bool) {
	b.mu.RLock()
	p, ok := b.positions[assetID]
	b.mu.RUnlock()
	if !ok || !p.State().Open() {
		return nil, false
	}
	return p, true
}

// Get returns the latest position for assetID in any state.
func (b *Book) Get(assetID string) (*Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[assetID]
	return p, ok
}

// Remove forgets assetID.
func (b *Book) Remove(assetID string) {
	b.mu.Lock()
	delete(b.positions, assetID)
	b.mu.Unlock()
}

// Counts returns the number of positions per state.
func (b *Book) Counts() map[State]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := map[State]int{StateEntered: 0, StatePartialExit: 0, StateClosed: 0}
	for _, p := range b.positions {
		out[p.State()]++
	}
	return out
}

// Snapshots returns copies of all positions ordered by asset id.
func (b *Book) Snapshots() []Snapshot {
	b.mu.RLock()
	ps := make([]*Position, 0, len(b.positions))
	for _, p := range b.positions {
		ps = append(ps, p)
	}
	b.mu.RUnlock()

	out := make([]Snapshot, len(ps))
	for i, p := range ps {
		out[i] = p.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
