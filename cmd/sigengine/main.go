// sigengine tracks asset observations, computes indicators and emits
// buy/sell/hold decisions with risk parameters.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/logger"
	"signalengine/internal/model"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sigengine",
		Short: "Streaming time-series signal engine",
		Long: `sigengine records periodic observations per asset, derives technical
indicators from them and turns those into scored BUY/SELL/HOLD decisions
with position sizing and exit plans.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sigengine v%s\n", version)
		},
	}
}

// setup loads configuration and installs the JSON logger.
func setup(service string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(service, logger.ParseLevel(cfg.LogLevel))
	slog.Info("config loaded",
		slog.Int("capacity", cfg.MaxTimeSeriesPoints),
		slog.Int("interval_secs", cfg.TimeSeriesIntervalSecs),
		slog.Float64("daily_budget", cfg.DailyBuyBudget),
		slog.Float64("min_buy_confidence", cfg.MinBuyConfidence),
		slog.Float64("min_sell_confidence", cfg.MinSellConfidence))
	return cfg, nil
}

// curveFlags describe a fixed liquidity reading used when no curve
// collaborator is attached.
type curveFlags struct {
	depth     float64
	steepness float64
	impact    float64
}

func (c *curveFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&c.depth, "liquidity-depth", 0, "Fixed liquidity depth reported for every asset (0 = no curve reading, buys blocked)")
	cmd.Flags().Float64Var(&c.steepness, "curve-steepness", 0, "Fixed bonding-curve steepness reported for every asset")
	cmd.Flags().Float64Var(&c.impact, "price-impact", 0, "Fixed price impact percent reported for every asset")
}

// facts returns nil when no reading was configured.
func (c curveFlags) facts() *model.CurveFacts {
	if c.depth <= 0 && c.steepness <= 0 {
		return nil
	}
	return &model.CurveFacts{
		LiquidityDepth: c.depth,
		Steepness:      c.steepness,
		PriceImpactPct: c.impact,
	}
}

// staticCurve reports the same reading for every asset.
type staticCurve struct{ f *model.CurveFacts }

func (s staticCurve) Curve(context.Context, string) (*model.CurveFacts, error) {
	if s.f == nil {
		return nil, nil
	}
	f := *s.f
	return &f, nil
}
