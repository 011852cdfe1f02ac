package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/engine"
	"signalengine/internal/execution"
	"signalengine/internal/model"
	"signalengine/internal/risk"
	"signalengine/internal/series"
	sigsignal "signalengine/internal/signal"
	"signalengine/internal/store/sqlite"
)

func replayCmd() *cobra.Command {
	var (
		dbPath string
		assets []string
		since  string
		all    bool
		curve  curveFlags
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run the engine over journaled observations",
		Long: `replay reads observations from the SQLite journal in time order, feeds
them into a fresh series store and evaluates the asset at each
observation's timestamp. Decisions are written to stdout as JSON lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup("sigengine-replay")
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.SQLitePath
			}
			var from time.Time
			if since != "" {
				if from, err = time.Parse(time.RFC3339, since); err != nil {
					return fmt.Errorf("--since: %w", err)
				}
			}
			return replay(cmd.Context(), cfg, replayOptions{
				db:     dbPath,
				assets: assets,
				since:  from,
				all:    all,
				curve:  curve,
				out:    cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite journal path (defaults to SQLITE_PATH)")
	cmd.Flags().StringSliceVar(&assets, "asset", nil, "Assets to replay (default: every journaled asset)")
	cmd.Flags().StringVar(&since, "since", "", "Only replay observations at or after this RFC3339 time")
	cmd.Flags().BoolVar(&all, "all", false, "Print HOLD decisions too")
	curve.register(cmd)
	return cmd
}

type replayOptions struct {
	db     string
	assets []string
	since  time.Time
	all    bool
	curve  curveFlags
	out    io.Writer
}

func replay(ctx context.Context, cfg *config.Config, opts replayOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	journal, err := sqlite.Open(opts.db)
	if err != nil {
		return err
	}
	defer journal.Close()

	ids := opts.assets
	if len(ids) == 0 {
		if ids, err = journal.Assets(ctx); err != nil {
			return err
		}
	}

	// Assets are interleaved in time order so the shared daily budget is
	// spent as it was live.
	var obs []model.Observation
	for _, id := range ids {
		got, err := journal.Read(ctx, id, opts.since)
		if err != nil {
			return err
		}
		obs = append(obs, got...)
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].ObservedAt.Before(obs[j].ObservedAt) })

	// The budget follows the journaled clock, not the wall clock, so day
	// boundaries reset it where they fell.
	var clock time.Time
	store := series.NewStore(cfg.SeriesConfig())
	budget := risk.NewDailyBudget(cfg.DailyBuyBudget,
		risk.WithLocation(cfg.Location()),
		risk.WithClock(func() time.Time { return clock }))
	calc := risk.NewCalculator(cfg.SizingConfig(), cfg.ExitConfig(), budget)
	eng := engine.New(store, cfg.IndicatorParams(), sigsignal.NewGenerator(cfg.SignalConfig()), calc,
		engine.Config{EvictOnClose: cfg.EvictOnClose},
		engine.WithExecutor(execution.NewPaperExecutor(0)))

	enc := json.NewEncoder(opts.out)
	facts := opts.curve.facts()
	var evaluated, printed int
	for _, o := range obs {
		if outcome, err := store.Record(o); err != nil || outcome != series.OutcomeRecorded {
			continue
		}
		clock = o.ObservedAt
		d, err := eng.Evaluate(ctx, o.AssetID, facts, o.ObservedAt)
		if err != nil {
			return fmt.Errorf("evaluate %s at %s: %w", o.AssetID, o.ObservedAt.Format(time.RFC3339), err)
		}
		evaluated++
		if !opts.all && !d.Signal.Actionable() && len(d.Exits) == 0 {
			continue
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
		printed++
	}

	slog.Info("replay complete",
		slog.Int("assets", len(ids)),
		slog.Int("evaluated", evaluated),
		slog.Int("printed", printed),
		slog.String("budget_remaining", budget.Remaining().String()))
	return nil
}
