// Package series keeps a bounded, rate-limited history of observations per asset.
//
// Writers and readers only ever hold a per-asset lock for a single ring push or
// a single copy; everything downstream works on the copied slice.
package series

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"signalengine/internal/model"
	"signalengine/internal/ringbuf"
)

const (
	DefaultCapacity = 100
	DefaultInterval = 15 * time.Second
)

// Outcome is the result of a Record call.
type Outcome int

const (
	OutcomeRecorded    Outcome = iota // appended (possibly evicting the oldest entry)
	OutcomeRateLimited                // arrived before the interval elapsed, dropped
	OutcomeRejected                   // failed validation, dropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Config configures a Store.
type Config struct {
	Capacity int           // max observations kept per asset
	Interval time.Duration // min spacing between recorded observations
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for rejected observations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithEvictHook registers a callback invoked (outside any lock) whenever a
// push evicts the oldest observation of an asset.
func WithEvictHook(fn func(assetID string)) Option {
	return func(s *Store) { s.onEvict = fn }
}

type assetSeries struct {
	mu        sync.Mutex
	ring      *ringbuf.Ring[model.Observation]
	firstSeen time.Time
	evicted   bool // set once dropped from the store; writers retry
}

// Store holds one ring per asset.
type Store struct {
	cfg Config
	log *slog.Logger

	onEvict func(assetID string)

	mu     sync.RWMutex // guards the map only
	series map[string]*assetSeries
}

// NewStore creates a Store; zero config fields fall back to the defaults.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	s := &Store{
		cfg:    cfg,
		log:    slog.Default(),
		series: make(map[string]*assetSeries, 64),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "series"))
	return s
}

// Config returns the effective store configuration.
func (s *Store) Config() Config { return s.cfg }

// Record appends obs to its asset's series if it is valid and at least one
// interval has elapsed since the last recorded observation.
// Only OutcomeRejected carries a non-nil error (wrapping model.ErrInvalidObservation).
func (s *Store) Record(obs model.Observation) (Outcome, error) {
	if err := obs.Validate(); err != nil {
		s.log.Warn("rejected observation", slog.String("asset", obs.AssetID), slog.String("err", err.Error()))
		return OutcomeRejected, err
	}

	as := s.getOrCreate(obs.AssetID)
	as.mu.Lock()
	for as.evicted {
		as.mu.Unlock()
		as = s.getOrCreate(obs.AssetID)
		as.mu.Lock()
	}
	if last, ok := as.ring.Last(); ok {
		// Negative elapsed (out-of-order sample) also lands here so the
		// series stays non-decreasing in time.
		if obs.ObservedAt.Sub(last.ObservedAt) < s.cfg.Interval {
			as.mu.Unlock()
			s.log.Debug("rate limited", slog.String("asset", obs.AssetID))
			return OutcomeRateLimited, nil
		}
	} else if as.firstSeen.IsZero() {
		as.firstSeen = obs.ObservedAt
	}
	_, evicted := as.ring.Push(obs)
	as.mu.Unlock()

	if evicted && s.onEvict != nil {
		s.onEvict(obs.AssetID)
	}
	return OutcomeRecorded, nil
}

// Snapshot returns a copy of the asset's series, oldest first.
// Unknown assets yield an empty (non-nil) slice.
func (s *Store) Snapshot(assetID string) []model.Observation {
	as := s.get(assetID)
	if as == nil {
		return []model.Observation{}
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.ring.Snapshot()
}

// Len returns the number of observations held for assetID.
func (s *Store) Len(assetID string) int {
	as := s.get(assetID)
	if as == nil {
		return 0
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.ring.Len()
}

// FirstSeen returns the timestamp of the first observation ever recorded for
// the asset since it was last evicted. It survives FIFO eviction.
func (s *Store) FirstSeen(assetID string) (time.Time, bool) {
	as := s.get(assetID)
	if as == nil {
		return time.Time{}, false
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.firstSeen, !as.firstSeen.IsZero()
}

// Evict drops the asset's entire history. A concurrent Record either lands
// before the eviction (and is dropped with it) or starts a fresh series.
func (s *Store) Evict(assetID string) {
	s.mu.Lock()
	as := s.series[assetID]
	delete(s.series, assetID)
	s.mu.Unlock()
	if as != nil {
		as.mu.Lock()
		as.evicted = true
		as.mu.Unlock()
	}
}

// Assets returns the tracked asset ids in sorted order.
func (s *Store) Assets() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) get(assetID string) *assetSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[assetID]
}

func (s *Store) getOrCreate(assetID string) *assetSeries {
	if as := s.get(assetID); as != nil {
		return as
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.series[assetID]
	if !ok {
		as = &assetSeries{ring: ringbuf.New[model.Observation](s.cfg.Capacity)}
		s.series[assetID] = as
	}
	return as
}
