package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signalengine/internal/feedsim"
	"signalengine/internal/logger"
)

func simulateCmd() *cobra.Command {
	var (
		cfg      feedsim.Config
		addr     string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated observation feed over WebSocket",
		Long: `simulate random-walks a price per asset and streams one observation
record per asset each interval on ws://<addr>/ws. Point FEED_URL at it to
drive "sigengine run" without a real price tracker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init("sigengine-sim", logger.ParseLevel(logLevel))
			sim, err := feedsim.New(cfg)
			if err != nil {
				return err
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sim.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9001", "Listen address")
	cmd.Flags().StringSliceVar(&cfg.Assets, "asset", []string{"SIM1"}, "Simulated asset ids")
	cmd.Flags().DurationVar(&cfg.Interval, "interval", 15*time.Second, "Time between observations per asset")
	cmd.Flags().Float64Var(&cfg.StartPrice, "start-price", 0.001, "Initial price")
	cmd.Flags().Float64Var(&cfg.Drift, "drift", 0, "Mean relative price change per step")
	cmd.Flags().Float64Var(&cfg.Volatility, "volatility", 0.01, "Relative price stddev per step")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 = time based)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
