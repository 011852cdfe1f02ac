package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/risk"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 65.0, cfg.MinBuyConfidence)
	assert.Equal(t, 70.0, cfg.MinSellConfidence)
	assert.Equal(t, 2.0, cfg.DailyBuyBudget)
	assert.Equal(t, 100, cfg.MaxTimeSeriesPoints)
	assert.Equal(t, 15, cfg.TimeSeriesIntervalSecs)
	assert.Equal(t, 20.0, cfg.TakeProfitPercent)
	assert.Equal(t, 10.0, cfg.StopLossPercent)
	assert.Equal(t, 25.0, cfg.Weights.BuySellRatio)
	assert.Equal(t, []int{5, 10, 20, 50}, cfg.MAPeriods)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)

	sc := cfg.SeriesConfig()
	assert.Equal(t, 100, sc.Capacity)
	assert.Equal(t, 15*time.Second, sc.Interval)

	ec := cfg.ExitConfig()
	assert.Equal(t, []risk.Tier{{Pct: 20, Fraction: 0.5}, {Pct: 40, Fraction: 0.5}, {Pct: 80, Fraction: 1}}, ec.Tiers)
	require.Len(t, ec.Checkpoints, 3)
	assert.Equal(t, time.Hour, ec.Checkpoints[2].After)
	assert.Equal(t, 0.4, ec.Checkpoints[2].Factor)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MIN_BUY_CONFIDENCE", "80")
	t.Setenv("DAILY_BUY_BUDGET", "5.5")
	t.Setenv("TIME_SERIES_INTERVAL_SECS", "30")
	t.Setenv("WEIGHT_RSI", "12")
	t.Setenv("TAKE_PROFIT_TIERS", "10:0.25, 30:1")
	t.Setenv("MAX_ASSET_AGE_SECS", "0")
	t.Setenv("TRACK_ASSETS", "AAA,BBB")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 80.0, cfg.MinBuyConfidence)
	assert.Equal(t, 5.5, cfg.DailyBuyBudget)
	assert.Equal(t, []string{"AAA", "BBB"}, cfg.TrackAssets)

	sig := cfg.SignalConfig()
	assert.Equal(t, 80.0, sig.MinBuyConfidence)
	assert.Equal(t, 12.0, sig.Weights.RSI)
	assert.Equal(t, time.Duration(0), sig.Age.Max)

	assert.Equal(t, 30*time.Second, cfg.SeriesConfig().Interval)
	assert.Equal(t, 80.0, cfg.SizingConfig().MinConfidence)
	assert.Equal(t, []risk.Tier{{Pct: 10, Fraction: 0.25}, {Pct: 30, Fraction: 1}}, cfg.ExitConfig().Tiers)
}

func TestFromEnv_BadTier(t *testing.T) {
	t.Setenv("TAKE_PROFIT_TIERS", "10-0.5")
	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	base, err := FromEnv()
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"confidence above 100", func(c *Config) { c.MinBuyConfidence = 101 }},
		{"zero capacity", func(c *Config) { c.MaxTimeSeriesPoints = 0 }},
		{"zero interval", func(c *Config) { c.TimeSeriesIntervalSecs = 0 }},
		{"negative budget", func(c *Config) { c.DailyBuyBudget = -1 }},
		{"tier fraction above 1", func(c *Config) { c.TakeProfitTiers = Tiers{{Pct: 10, Fraction: 1.5}} }},
		{"checkpoint factor zero", func(c *Config) { c.StopCheckpoints = Checkpoints{{After: time.Minute, Factor: 0}} }},
		{"cross periods inverted", func(c *Config) { c.CrossFast, c.CrossSlow = 20, 5 }},
		{"cross period not computed", func(c *Config) { c.CrossSlow = 30 }},
		{"age window inverted", func(c *Config) { c.MinAssetAgeSecs, c.MaxAssetAgeSecs = 100, 10 }},
		{"unknown zone", func(c *Config) { c.BudgetTZ = "Mars/Olympus" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	assert.NoError(t, base.Validate())
}

func TestCheckpointsDecode(t *testing.T) {
	var c Checkpoints
	require.NoError(t, c.Decode("90s:0.9,2m:0.5"))
	assert.Equal(t, Checkpoints{{After: 90 * time.Second, Factor: 0.9}, {After: 2 * time.Minute, Factor: 0.5}}, c)

	assert.Error(t, c.Decode("soon:0.5"))
	assert.Error(t, c.Decode("1m"))
}
