package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/collector"
	"signalengine/internal/engine"
	"signalengine/internal/execution"
	"signalengine/internal/gateway"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/risk"
	"signalengine/internal/series"
	sigsignal "signalengine/internal/signal"
	"signalengine/internal/store/redis"
	"signalengine/internal/store/sqlite"
)

func runCmd() *cobra.Command {
	var (
		curve       curveFlags
		slippageBps float64
		noJournal   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect observations and evaluate tracked assets continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup("sigengine")
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, curve, slippageBps, noJournal)
		},
	}
	curve.register(cmd)
	cmd.Flags().Float64Var(&slippageBps, "slippage-bps", 0, "Paper execution slippage in basis points")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "Do not persist observations to SQLite")
	return cmd
}

func run(parent context.Context, cfg *config.Config, curve curveFlags, slippageBps float64, noJournal bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var source model.ObservationSource
	if cfg.PollURL != "" {
		src, err := collector.NewHTTPSource(cfg.PollURL, nil)
		if err != nil {
			return err
		}
		source = src
	}

	m := metrics.New(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.Serve(ctx, cfg.MetricsAddr, nil); err != nil {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	// ── Persistence ──
	var (
		colOpts     = []collector.Option{collector.WithMetrics(m)}
		journalDone chan struct{}
	)
	if !noJournal {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		journal, err := sqlite.Open(cfg.SQLitePath, sqlite.WithMetrics(m))
		if err != nil {
			return err
		}
		defer journal.Close()

		obsCh := make(chan model.Observation, 1024)
		journalDone = make(chan struct{})
		go func() {
			defer close(journalDone)
			journal.Run(ctx, obsCh)
		}()
		colOpts = append(colOpts, collector.WithJournal(sqlite.Queue(obsCh)))
	}

	// shutdown stops every goroutine; Journal.Run drains queued
	// observations before returning.
	shutdown := func() {
		stop()
		wg.Wait()
		if journalDone != nil {
			<-journalDone
		}
	}

	// ── Decision outputs ──
	hub := gateway.NewHub(gateway.WithMetrics(m))
	publishers := engine.Publishers{hub}
	pub, err := redis.New(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, redis.WithMetrics(m))
	if err != nil {
		slog.Warn("redis unavailable, decisions only go to the gateway", slog.Any("error", err))
	} else {
		defer pub.Close()
		publishers = append(publishers, pub)
	}

	// ── Pipeline ──
	store := series.NewStore(cfg.SeriesConfig(), series.WithEvictHook(func(string) { m.Evictions.Inc() }))
	budget := risk.NewDailyBudget(cfg.DailyBuyBudget, risk.WithLocation(cfg.Location()))
	calc := risk.NewCalculator(cfg.SizingConfig(), cfg.ExitConfig(), budget)
	gen := sigsignal.NewGenerator(cfg.SignalConfig())

	eng := engine.New(store, cfg.IndicatorParams(), gen, calc,
		engine.Config{EvictOnClose: cfg.EvictOnClose},
		engine.WithExecutor(execution.NewPaperExecutor(slippageBps)),
		engine.WithPublisher(publishers),
		engine.WithMetrics(m),
		engine.WithCurveSource(staticCurve{f: curve.facts()}),
	)

	if cfg.GatewayAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gateway.Serve(ctx, cfg.GatewayAddr, hub, eng.Book()); err != nil {
				slog.Error("gateway server failed", slog.Any("error", err))
			}
		}()
	}

	col := collector.New(source, store, collector.Config{FetchTimeout: cfg.FetchTimeout}, colOpts...)
	for _, id := range cfg.TrackAssets {
		col.Track(id)
	}

	// Polling and the push feed may run side by side; the store drops
	// observations that arrive inside one interval.
	if source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := col.Run(ctx); err != nil {
				slog.Error("collector stopped", slog.Any("error", err))
			}
		}()
	}

	if cfg.FeedURL == "" {
		if source == nil {
			slog.Warn("neither FEED_URL nor POLL_URL set, no observations will arrive")
		}
	} else {
		feed, err := collector.NewWSFeed(collector.FeedConfig{
			URL:               cfg.FeedURL,
			TrackOnFirstSight: len(cfg.TrackAssets) == 0,
		}, col, m)
		if err != nil {
			shutdown()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil {
				slog.Error("feed stopped", slog.Any("error", err))
			}
		}()
	}

	slog.Info("sigengine running",
		slog.Int("tracked", len(col.Tracked())),
		slog.Bool("polling", source != nil),
		slog.Bool("curve", curve.facts() != nil))

	err = eng.Run(ctx, col)
	shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
