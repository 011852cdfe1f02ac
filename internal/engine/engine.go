// Package engine wires the series store, indicator engine, signal generator
// and risk calculator into one evaluation cycle per asset, and hands the
// outcome to the execution collaborator and the decision publisher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalengine/internal/execution"
	"signalengine/internal/indicator"
	"signalengine/internal/logger"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/risk"
	"signalengine/internal/series"
	"signalengine/internal/signal"
)

// ErrNoData is returned when an asset has no recorded observations.
var ErrNoData = errors.New("no observations")

// Publisher receives every decision.
type Publisher interface {
	Publish(ctx context.Context, assetID string, v any) error
}

// Publishers fans a decision out to several publishers. Every publisher is
// tried; failures are joined.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, assetID string, v any) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, assetID, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AssetLister supplies the assets evaluated by Run.
type AssetLister interface {
	Tracked() []string
}

// Config configures an Engine.
type Config struct {
	Interval     time.Duration // Run evaluation period
	CurveTimeout time.Duration // deadline for one curve reading
	EvictOnClose bool          // drop the asset's series once its position closes
}

// Decision is the outcome of one evaluation cycle for one asset.
type Decision struct {
	AssetID    string               `json:"asset_id"`
	TraceID    string               `json:"trace_id"`
	Price      float64              `json:"price"`
	Points     int                  `json:"points"`
	Signal     signal.Signal        `json:"signal"`
	Indicators indicator.Snapshot   `json:"indicators"`
	Risk       *risk.RiskParameters `json:"risk,omitempty"`
	Exits      []risk.Exit          `json:"exits,omitempty"`
	Position   *risk.Snapshot       `json:"position,omitempty"`
	State      risk.State           `json:"state"`
	Suppressed signal.Reason        `json:"suppressed,omitempty"`
	At         time.Time            `json:"at"`
}

// Engine evaluates assets. Evaluate is safe for concurrent use across
// assets; evaluations of the same asset are serialized.
type Engine struct {
	store  *series.Store
	params indicator.Params
	gen    *signal.Generator
	calc   *risk.Calculator
	book   *risk.Book
	cfg    Config

	curves   model.CurveSource
	exec     execution.Executor
	pub      Publisher
	prom     *metrics.Metrics
	log      *slog.Logger
	assetMus sync.Map // assetID → *sync.Mutex
}

// Option customises an Engine.
type Option func(*Engine)

// WithCurveSource supplies liquidity readings to Run.
func WithCurveSource(cs model.CurveSource) Option { return func(e *Engine) { e.curves = cs } }

// WithExecutor submits entries and exits.
func WithExecutor(x execution.Executor) Option { return func(e *Engine) { e.exec = x } }

// WithPublisher publishes every decision.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

// WithMetrics records signal, risk and latency metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.prom = m } }

// WithBook shares a position book.
func WithBook(b *risk.Book) Option { return func(e *Engine) { e.book = b } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine.
func New(store *series.Store, params indicator.Params, gen *signal.Generator, calc *risk.Calculator, cfg Config, opts ...Option) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = store.Config().Interval
	}
	if cfg.CurveTimeout <= 0 {
		cfg.CurveTimeout = 5 * time.Second
	}
	e := &Engine{
		store:  store,
		params: params,
		gen:    gen,
		calc:   calc,
		book:   risk.NewBook(),
		cfg:    cfg,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(slog.String("component", "engine"))
	return e
}

// Book returns the position book.
func (e *Engine) Book() *risk.Book { return e.book }

// lockAsset serialises evaluations of one asset. An entry removed by
// forgetAsset or pruneLocks while a caller waited on it is retried, so two
// callers never hold different mutexes for the same asset.
func (e *Engine) lockAsset(assetID string) func() {
	for {
		v, _ := e.assetMus.LoadOrStore(assetID, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		if cur, ok := e.assetMus.Load(assetID); ok && cur == v {
			return mu.Unlock
		}
		mu.Unlock()
	}
}

// forgetAsset drops the asset's mutex. The caller holds it.
func (e *Engine) forgetAsset(assetID string) {
	e.assetMus.Delete(assetID)
}

// pruneLocks drops mutexes of assets the store no longer holds, such as
// those evicted when the collector stops tracking them.
func (e *Engine) pruneLocks() {
	e.assetMus.Range(func(k, v any) bool {
		assetID := k.(string)
		if e.store.Len(assetID) > 0 {
			return true
		}
		mu := v.(*sync.Mutex)
		if !mu.TryLock() {
			return true
		}
		if e.store.Len(assetID) == 0 {
			e.assetMus.Delete(assetID)
		}
		mu.Unlock()
		return true
	})
}

// Evaluate runs one cycle for assetID at now. curve may be nil when no
// liquidity reading is available, which blocks Buy.
//
// With an open position the latest price drives its exits and an actionable
// Sell closes it. Without one, an actionable Buy is sized against the daily
// budget and opens a position; an exhausted budget turns the Buy into Hold
// with reason budget_exhausted.
func (e *Engine) Evaluate(ctx context.Context, assetID string, curve *model.CurveFacts, now time.Time) (Decision, error) {
	unlock := e.lockAsset(assetID)
	defer unlock()

	obs := e.store.Snapshot(assetID)
	if len(obs) == 0 {
		return Decision{}, fmt.Errorf("%w: %s", ErrNoData, assetID)
	}

	traceID := logger.GenerateTraceID(assetID, now)
	ctx = logger.WithTraceID(ctx, traceID)
	log := e.log.With(logger.LogWithTrace(ctx)...).With(slog.String("asset", assetID))

	start := time.Now()
	a := indicator.Analyze(indicator.Prices(obs), e.params)
	if e.prom != nil {
		e.prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	}

	last := obs[len(obs)-1]
	facts := signal.Facts{BuyCount: last.BuyCount, SellCount: last.SellCount, Curve: curve}
	if first, ok := e.store.FirstSeen(assetID); ok {
		facts.Age = now.Sub(first)
	}
	sig := e.gen.Evaluate(a, facts)

	d := Decision{
		AssetID:    assetID,
		TraceID:    traceID,
		Price:      last.Price,
		Points:     len(obs),
		Signal:     sig,
		Indicators: a.Current,
		Suppressed: sig.Suppressed,
		State:      risk.StateNoPosition,
		At:         now,
	}

	if pos, ok := e.book.Active(assetID); ok {
		e.manage(ctx, log, pos, &d, now)
	} else if sig.Direction == signal.Buy {
		e.enter(ctx, log, a.Current.Volatility(), &d, now)
	}

	if pos, ok := e.book.Get(assetID); ok {
		snap := pos.Snapshot()
		d.Position = &snap
		d.State = snap.State
	}

	e.record(d)
	if e.pub != nil {
		if err := e.pub.Publish(ctx, assetID, d); err != nil {
			log.Warn("publish failed", slog.Any("error", err))
		}
	}
	log.Debug("evaluated",
		slog.String("direction", string(d.Signal.Direction)),
		slog.Float64("confidence", d.Signal.Confidence),
		slog.String("state", string(d.State)))
	return d, nil
}

// manage applies the latest price and signal to an open position.
func (e *Engine) manage(ctx context.Context, log *slog.Logger, pos *risk.Position, d *Decision, now time.Time) {
	exits, err := pos.OnPrice(d.Price, now)
	if err != nil {
		log.Error("position update failed", slog.Any("error", err))
		return
	}
	if d.Signal.Direction == signal.Sell && pos.State().Open() {
		ex, err := pos.Close(risk.ExitSellSignal, d.Price, now)
		if err == nil {
			exits = append(exits, ex)
		}
	}
	d.Exits = exits

	for _, ex := range exits {
		e.submit(ctx, log, execution.Order{
			AssetID: d.AssetID,
			Side:    execution.SideSell,
			Size:    ex.Size,
			Price:   ex.Price,
			Reason:  string(ex.Reason),
			TraceID: d.TraceID,
			At:      now,
		})
		if e.prom != nil {
			e.prom.Exits.WithLabelValues(string(ex.Reason)).Inc()
		}
	}

	if pos.State() == risk.StateClosed {
		log.Info("position closed", slog.Int("exits", len(pos.Snapshot().Exits)))
		if e.cfg.EvictOnClose {
			e.store.Evict(d.AssetID)
			e.forgetAsset(d.AssetID)
		}
	}
}

// enter sizes and opens a position for an actionable Buy.
func (e *Engine) enter(ctx context.Context, log *slog.Logger, volatility float64, d *Decision, now time.Time) {
	params, plan, err := e.calc.Evaluate(d.Signal.Confidence, volatility)
	if err != nil {
		reason := signal.ReasonBelowThreshold
		if errors.Is(err, risk.ErrBudgetExhausted) {
			reason = signal.ReasonBudgetExhausted
		}
		log.Info("buy blocked", slog.String("reason", string(reason)), slog.Any("error", err))
		d.Signal.Direction = signal.Hold
		d.Signal.Suppressed = reason
		d.Suppressed = reason
		return
	}
	d.Risk = &params

	if _, err := e.book.Open(d.AssetID, d.Price, params.PositionSize, plan, now); err != nil {
		log.Error("open position failed", slog.Any("error", err))
		return
	}
	log.Info("position opened",
		slog.Float64("size", params.PositionSize),
		slog.Float64("stop_loss_pct", params.StopLossPct),
		slog.Bool("clamped", params.Clamped))

	e.submit(ctx, log, execution.Order{
		AssetID: d.AssetID,
		Side:    execution.SideBuy,
		Size:    params.PositionSize,
		Price:   d.Price,
		Reason:  "signal",
		TraceID: d.TraceID,
		At:      now,
	})
}

func (e *Engine) submit(ctx context.Context, log *slog.Logger, o execution.Order) {
	if e.exec == nil {
		return
	}
	if _, err := e.exec.Submit(ctx, o); err != nil {
		log.Error("order submission failed", slog.String("side", string(o.Side)), slog.Any("error", err))
	}
}

func (e *Engine) record(d Decision) {
	if e.prom == nil {
		return
	}
	e.prom.Signals.WithLabelValues(string(d.Signal.Direction)).Inc()
	if d.Suppressed != signal.ReasonNone {
		e.prom.Suppressed.WithLabelValues(string(d.Suppressed)).Inc()
	}
	e.prom.BudgetRemaining.Set(e.calc.Budget().Remaining().InexactFloat64())
	for state, n := range e.book.Counts() {
		e.prom.Positions.WithLabelValues(string(state)).Set(float64(n))
	}
}

// Run evaluates every listed asset each interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, assets AssetLister) error {
	e.log.Info("engine started", slog.Duration("interval", e.cfg.Interval))
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.EvaluateAll(ctx, assets.Tracked(), time.Now())
			e.pruneLocks()
		}
	}
}

// EvaluateAll evaluates ids concurrently and returns the decisions made,
// in no particular order. Assets without data are skipped.
func (e *Engine) EvaluateAll(ctx context.Context, ids []string, now time.Time) []Decision {
	var (
		mu  sync.Mutex
		out = make([]Decision, 0, len(ids))
		wg  sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(assetID string) {
			defer wg.Done()
			d, err := e.Evaluate(ctx, assetID, e.curve(ctx, assetID), now)
			if err != nil {
				if !errors.Is(err, ErrNoData) {
					e.log.Error("evaluate failed", slog.String("asset", assetID), slog.Any("error", err))
				}
				return
			}
			mu.Lock()
			out = append(out, d)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

func (e *Engine) curve(ctx context.Context, assetID string) *model.CurveFacts {
	if e.curves == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CurveTimeout)
	defer cancel()
	c, err := e.curves.Curve(cctx, assetID)
	if err != nil {
		e.log.Warn("curve reading failed", slog.String("asset", assetID), slog.Any("error", err))
		return nil
	}
	return c
}
