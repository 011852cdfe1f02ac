package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Series store
	Observations *prometheus.CounterVec // labels: outcome
	Evictions    prometheus.Counter
	FetchErrors  prometheus.Counter
	TrackedAsset prometheus.Gauge

	// Indicator + signal
	IndicatorComputeDur prometheus.Histogram
	Signals             *prometheus.CounterVec // labels: direction
	Suppressed          *prometheus.CounterVec // labels: reason

	// Risk
	BudgetRemaining prometheus.Gauge
	Positions       *prometheus.GaugeVec   // labels: state
	Exits           *prometheus.CounterVec // labels: reason

	// Persistence
	JournalCommitDur       prometheus.Histogram
	PublishDur             prometheus.Histogram
	PublishCircuitState    prometheus.Gauge // 0=closed, 1=open, 2=half-open
	PublishCircuitTrips    prometheus.Counter
	PublishDroppedDecision prometheus.Counter

	// Feed
	FeedReconnects prometheus.Counter

	// Gateway
	GatewayClients prometheus.Gauge
	GatewayDropped prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_observations_total",
			Help: "Observations offered to the series store, by outcome",
		}, []string{"outcome"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_series_evictions_total",
			Help: "Oldest observations dropped because a series was at capacity",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_fetch_errors_total",
			Help: "Observation fetches that failed or timed out",
		}),
		TrackedAsset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_tracked_assets",
			Help: "Assets currently tracked by the collector",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_indicator_compute_seconds",
			Help:    "Time to compute the indicator analysis for one asset",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_total",
			Help: "Signals generated, by direction",
		}, []string{"direction"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_suppressed_total",
			Help: "Signals forced to HOLD or blocked, by reason",
		}, []string{"reason"}),

		BudgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_daily_budget_remaining",
			Help: "Remaining daily buy budget",
		}),
		Positions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_positions",
			Help: "Positions in the book, by lifecycle state",
		}, []string{"state"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_exits_total",
			Help: "Position exits, by reason",
		}, []string{"reason"}),

		JournalCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_journal_commit_seconds",
			Help:    "SQLite observation journal batch commit duration",
			Buckets: prometheus.DefBuckets,
		}),
		PublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_publish_seconds",
			Help:    "Redis decision publish duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		PublishCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_publish_circuit_breaker_state",
			Help: "Redis publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		PublishCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_publish_circuit_breaker_trips_total",
			Help: "Times the Redis publisher circuit breaker tripped open",
		}),
		PublishDroppedDecision: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_publish_dropped_total",
			Help: "Decisions not published because the circuit breaker was open",
		}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_feed_reconnects_total",
			Help: "WebSocket observation feed reconnections",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_gateway_clients",
			Help: "Connected decision stream WebSocket clients",
		}),
		GatewayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_gateway_dropped_total",
			Help: "Envelopes dropped because a client send buffer was full",
		}),
	}

	reg.MustRegister(
		m.Observations,
		m.Evictions,
		m.FetchErrors,
		m.TrackedAsset,
		m.IndicatorComputeDur,
		m.Signals,
		m.Suppressed,
		m.BudgetRemaining,
		m.Positions,
		m.Exits,
		m.JournalCommitDur,
		m.PublishDur,
		m.PublishCircuitState,
		m.PublishCircuitTrips,
		m.PublishDroppedDecision,
		m.FeedReconnects,
		m.GatewayClients,
		m.GatewayDropped,
	)

	return m
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", slog.String("component", "metrics"), slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
