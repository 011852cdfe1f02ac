// Package collector samples tracked assets on a fixed schedule and feeds the
// series store. It also accepts pushed observations from streaming feeds.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/series"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultConcurrency  = 8
)

// Config configures a Collector.
type Config struct {
	Interval     time.Duration // sweep period; defaults to the store interval
	FetchTimeout time.Duration // per-fetch deadline
	Concurrency  int           // fetches in flight per sweep
}

// Sweep summarises one CollectOnce pass.
type Sweep struct {
	Recorded    int
	RateLimited int
	Rejected    int
	Failed      int
}

// Collector owns the set of tracked assets.
type Collector struct {
	source  model.ObservationSource
	store   *series.Store
	journal model.ObservationJournal
	cfg     Config
	prom    *metrics.Metrics
	log     *slog.Logger

	mu     sync.RWMutex
	assets map[string]struct{}
}

// Option customises a Collector.
type Option func(*Collector)

// WithJournal persists every recorded observation.
func WithJournal(j model.ObservationJournal) Option {
	return func(c *Collector) { c.journal = j }
}

// WithMetrics counts outcomes and fetch failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.prom = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// New creates a Collector. source may be nil for push-only use via Ingest.
func New(source model.ObservationSource, store *series.Store, cfg Config, opts ...Option) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = store.Config().Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	c := &Collector{
		source: source,
		store:  store,
		cfg:    cfg,
		log:    slog.Default(),
		assets: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(slog.String("component", "collector"))
	return c
}

// Track adds an asset to the sweep. Returns false if it was already tracked.
func (c *Collector) Track(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assets[assetID]; ok {
		return false
	}
	c.assets[assetID] = struct{}{}
	c.setTrackedGauge()
	c.log.Info("tracking asset", slog.String("asset", assetID))
	return true
}

// Untrack removes an asset from the sweep; with evict its series is dropped too.
func (c *Collector) Untrack(assetID string, evict bool) {
	c.mu.Lock()
	delete(c.assets, assetID)
	c.setTrackedGauge()
	c.mu.Unlock()

	if evict {
		c.store.Evict(assetID)
	}
	c.log.Info("untracked asset", slog.String("asset", assetID), slog.Bool("evicted", evict))
}

// Tracked returns the tracked asset ids in ascending order.
func (c *Collector) Tracked() []string {
	c.mu.RLock()
	ids := lo.Keys(c.assets)
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (c *Collector) setTrackedGauge() {
	if c.prom != nil {
		c.prom.TrackedAsset.Set(float64(len(c.assets)))
	}
}

// Run sweeps all tracked assets immediately and then every interval until
// ctx is cancelled. Cancellation is safe at any point.
func (c *Collector) Run(ctx context.Context) error {
	if c.source == nil {
		return errors.New("collector: no observation source")
	}
	c.log.Info("collector started", slog.Duration("interval", c.cfg.Interval))

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		sw := c.CollectOnce(ctx)
		c.log.Debug("sweep complete",
			slog.Int("recorded", sw.Recorded),
			slog.Int("rate_limited", sw.RateLimited),
			slog.Int("rejected", sw.Rejected),
			slog.Int("failed", sw.Failed))

		select {
		case <-ctx.Done():
			c.log.Info("collector stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// CollectOnce fetches every tracked asset once and records the results.
// Fetches run without holding any lock.
func (c *Collector) CollectOnce(ctx context.Context) Sweep {
	ids := c.Tracked()

	var (
		mu  sync.Mutex
		sw  Sweep
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.cfg.Concurrency)
	)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(assetID string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := c.collect(ctx, assetID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errFetch):
				sw.Failed++
			case outcome == series.OutcomeRecorded:
				sw.Recorded++
			case outcome == series.OutcomeRateLimited:
				sw.RateLimited++
			case outcome == series.OutcomeRejected:
				sw.Rejected++
			}
		}(id)
	}
	wg.Wait()
	return sw
}

// errFetch marks a source failure, as opposed to a rejected observation.
var errFetch = errors.New("fetch failed")

func (c *Collector) collect(ctx context.Context, assetID string) (series.Outcome, error) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	obs, err := c.source.Fetch(fctx, assetID)
	cancel()
	if err != nil {
		if c.prom != nil {
			c.prom.FetchErrors.Inc()
		}
		c.log.Warn("fetch failed", slog.String("asset", assetID), slog.Any("error", err))
		return series.OutcomeRejected, fmt.Errorf("%w: %s: %v", errFetch, assetID, err)
	}
	if obs.AssetID == "" {
		obs.AssetID = assetID
	}
	return c.Ingest(ctx, obs)
}

// Ingest records a pushed observation through the same path as a sweep.
// Recorded observations are appended to the journal when one is configured;
// a journal failure is logged and does not change the outcome.
func (c *Collector) Ingest(ctx context.Context, obs model.Observation) (series.Outcome, error) {
	outcome, err := c.store.Record(obs)
	if c.prom != nil {
		c.prom.Observations.WithLabelValues(outcome.String()).Inc()
	}
	if outcome != series.OutcomeRecorded || c.journal == nil {
		return outcome, err
	}
	if jerr := c.journal.Append(ctx, obs); jerr != nil {
		c.log.Error("journal append failed", slog.String("asset", obs.AssetID), slog.Any("error", jerr))
	}
	return outcome, nil
}
