package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"signalengine/internal/indicator"
	"signalengine/internal/risk"
	"signalengine/internal/series"
	"signalengine/internal/signal"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Thresholds and budget
	MinBuyConfidence  float64 `envconfig:"MIN_BUY_CONFIDENCE" default:"65"`
	MinSellConfidence float64 `envconfig:"MIN_SELL_CONFIDENCE" default:"70"`
	DailyBuyBudget    float64 `envconfig:"DAILY_BUY_BUDGET" default:"2.0"`
	BudgetTZ          string  `envconfig:"BUDGET_TZ" default:"UTC"`

	// Series store
	MaxTimeSeriesPoints    int `envconfig:"MAX_TIME_SERIES_POINTS" default:"100"`
	TimeSeriesIntervalSecs int `envconfig:"TIME_SERIES_INTERVAL_SECS" default:"15"`

	// Exits
	TakeProfitPercent   float64     `envconfig:"TAKE_PROFIT_PERCENT" default:"20"`
	StopLossPercent     float64     `envconfig:"STOP_LOSS_PERCENT" default:"10"`
	TrailingStopPercent float64     `envconfig:"TRAILING_STOP_PERCENT" default:"8"`
	MinStopPercent      float64     `envconfig:"MIN_STOP_PERCENT" default:"2"`
	TakeProfitTiers     Tiers       `envconfig:"TAKE_PROFIT_TIERS" default:"20:0.5,40:0.5,80:1"`
	StopCheckpoints     Checkpoints `envconfig:"STOP_CHECKPOINTS" default:"10m:0.8,30m:0.6,1h:0.4"`
	ReferenceVolatility float64     `envconfig:"REFERENCE_VOLATILITY" default:"0.2"`
	TightenFactor       float64     `envconfig:"TIGHTEN_FACTOR" default:"0.5"`
	EvictOnClose        bool        `envconfig:"EVICT_ON_CLOSE" default:"true"`

	// Signal factor weights
	Weights WeightConfig

	// Sizing
	BasePositionSize    float64 `envconfig:"BASE_POSITION_SIZE" default:"1.0"`
	PortfolioValue      float64 `envconfig:"PORTFOLIO_VALUE" default:"10"`
	MaxPortfolioRiskPct float64 `envconfig:"MAX_PORTFOLIO_RISK_PCT" default:"20"`
	VolatilityPenalty   float64 `envconfig:"VOLATILITY_PENALTY" default:"5"`

	// Signal gates
	MinAssetAgeSecs   int     `envconfig:"MIN_ASSET_AGE_SECS" default:"0"`
	MaxAssetAgeSecs   int     `envconfig:"MAX_ASSET_AGE_SECS" default:"3600"`
	MinLiquidityDepth float64 `envconfig:"MIN_LIQUIDITY_DEPTH" default:"1"`
	MinCurveSteepness float64 `envconfig:"MIN_CURVE_STEEPNESS" default:"0"`
	MaxPriceImpactPct float64 `envconfig:"MAX_PRICE_IMPACT_PCT" default:"5"`
	BuySellRatio      float64 `envconfig:"BUY_SELL_RATIO_THRESHOLD" default:"1.5"`
	RSIOversold       float64 `envconfig:"RSI_OVERSOLD" default:"30"`
	RSIOverbought     float64 `envconfig:"RSI_OVERBOUGHT" default:"70"`

	// Indicator periods
	MAPeriods       []int   `envconfig:"MA_PERIODS" default:"5,10,20,50"`
	CrossFast       int     `envconfig:"CROSS_FAST_PERIOD" default:"5"`
	CrossSlow       int     `envconfig:"CROSS_SLOW_PERIOD" default:"20"`
	RSIPeriod       int     `envconfig:"RSI_PERIOD" default:"14"`
	MACDFast        int     `envconfig:"MACD_FAST" default:"12"`
	MACDSlow        int     `envconfig:"MACD_SLOW" default:"26"`
	MACDSignal      int     `envconfig:"MACD_SIGNAL" default:"9"`
	BollingerPeriod int     `envconfig:"BOLLINGER_PERIOD" default:"20"`
	BollingerK      float64 `envconfig:"BOLLINGER_K" default:"2"`
	MomentumPeriod  int     `envconfig:"MOMENTUM_PERIOD" default:"10"`

	// Collector
	TrackAssets  []string      `envconfig:"TRACK_ASSETS"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"5s"`

	// Infrastructure
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/observations.db"`
	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`
	GatewayAddr   string `envconfig:"GATEWAY_ADDR" default:":8080"`
	FeedURL       string `envconfig:"FEED_URL"`
	PollURL       string `envconfig:"POLL_URL"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
}

// WeightConfig holds the maximum contribution of each signal factor.
type WeightConfig struct {
	Momentum         float64 `envconfig:"WEIGHT_MOMENTUM" default:"20"`
	BuySellRatio     float64 `envconfig:"WEIGHT_BUY_SELL_RATIO" default:"25"`
	RSI              float64 `envconfig:"WEIGHT_RSI" default:"20"`
	SMACross         float64 `envconfig:"WEIGHT_SMA_CROSS" default:"20"`
	EMACross         float64 `envconfig:"WEIGHT_EMA_CROSS" default:"15"`
	BollingerRebound float64 `envconfig:"WEIGHT_BOLLINGER" default:"20"`
	MACDCross        float64 `envconfig:"WEIGHT_MACD" default:"10"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	pct := func(name string, v float64) {
		if v < 0 || v > 100 {
			bad("%s must be within [0,100], got %v", name, v)
		}
	}
	pct("MIN_BUY_CONFIDENCE", c.MinBuyConfidence)
	pct("MIN_SELL_CONFIDENCE", c.MinSellConfidence)
	pct("MAX_PORTFOLIO_RISK_PCT", c.MaxPortfolioRiskPct)
	pct("RSI_OVERSOLD", c.RSIOversold)
	pct("RSI_OVERBOUGHT", c.RSIOverbought)

	if c.DailyBuyBudget < 0 {
		bad("DAILY_BUY_BUDGET must be >= 0, got %v", c.DailyBuyBudget)
	}
	if c.MaxTimeSeriesPoints <= 0 {
		bad("MAX_TIME_SERIES_POINTS must be > 0, got %d", c.MaxTimeSeriesPoints)
	}
	if c.TimeSeriesIntervalSecs <= 0 {
		bad("TIME_SERIES_INTERVAL_SECS must be > 0, got %d", c.TimeSeriesIntervalSecs)
	}
	if c.StopLossPercent <= 0 || c.StopLossPercent >= 100 {
		bad("STOP_LOSS_PERCENT must be within (0,100), got %v", c.StopLossPercent)
	}
	if c.TakeProfitPercent <= 0 {
		bad("TAKE_PROFIT_PERCENT must be > 0, got %v", c.TakeProfitPercent)
	}
	if c.MaxAssetAgeSecs > 0 && c.MaxAssetAgeSecs < c.MinAssetAgeSecs {
		bad("MAX_ASSET_AGE_SECS %d below MIN_ASSET_AGE_SECS %d", c.MaxAssetAgeSecs, c.MinAssetAgeSecs)
	}
	if c.CrossFast >= c.CrossSlow {
		bad("CROSS_FAST_PERIOD %d must be below CROSS_SLOW_PERIOD %d", c.CrossFast, c.CrossSlow)
	}
	if !containsInt(c.MAPeriods, c.CrossFast) || !containsInt(c.MAPeriods, c.CrossSlow) {
		bad("MA_PERIODS %v must include cross periods %d and %d", c.MAPeriods, c.CrossFast, c.CrossSlow)
	}
	for _, t := range c.TakeProfitTiers {
		if t.Pct <= 0 || t.Fraction <= 0 || t.Fraction > 1 {
			bad("take-profit tier %v:%v out of range", t.Pct, t.Fraction)
		}
	}
	for _, cp := range c.StopCheckpoints {
		if cp.After <= 0 || cp.Factor <= 0 || cp.Factor > 1 {
			bad("stop checkpoint %s:%v out of range", cp.After, cp.Factor)
		}
	}
	if _, err := time.LoadLocation(c.BudgetTZ); err != nil {
		bad("BUDGET_TZ %q: %v", c.BudgetTZ, err)
	}
	return errors.Join(errs...)
}

// Location returns the time zone in which the daily budget resets.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BudgetTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SeriesConfig builds the series store configuration.
func (c *Config) SeriesConfig() series.Config {
	return series.Config{
		Capacity: c.MaxTimeSeriesPoints,
		Interval: time.Duration(c.TimeSeriesIntervalSecs) * time.Second,
	}
}

// IndicatorParams builds the indicator periods.
func (c *Config) IndicatorParams() indicator.Params {
	return indicator.Params{
		MAPeriods:       append([]int(nil), c.MAPeriods...),
		RSIPeriod:       c.RSIPeriod,
		MACDFast:        c.MACDFast,
		MACDSlow:        c.MACDSlow,
		MACDSignal:      c.MACDSignal,
		BollingerPeriod: c.BollingerPeriod,
		BollingerK:      c.BollingerK,
		MomentumPeriod:  c.MomentumPeriod,
		ROCPeriod:       c.MomentumPeriod,
	}
}

// SignalConfig builds the signal generator configuration.
func (c *Config) SignalConfig() signal.Config {
	sc := signal.DefaultConfig()
	sc.Weights = signal.Weights{
		Momentum:         c.Weights.Momentum,
		BuySellRatio:     c.Weights.BuySellRatio,
		RSI:              c.Weights.RSI,
		SMACross:         c.Weights.SMACross,
		EMACross:         c.Weights.EMACross,
		BollingerRebound: c.Weights.BollingerRebound,
		MACDCross:        c.Weights.MACDCross,
	}
	sc.MinBuyConfidence = c.MinBuyConfidence
	sc.MinSellConfidence = c.MinSellConfidence
	sc.RatioThreshold = c.BuySellRatio
	sc.RSIOversold = c.RSIOversold
	sc.RSIOverbought = c.RSIOverbought
	sc.FastPeriod = c.CrossFast
	sc.SlowPeriod = c.CrossSlow
	sc.Age = signal.AgeWindow{
		Min: time.Duration(c.MinAssetAgeSecs) * time.Second,
		Max: time.Duration(c.MaxAssetAgeSecs) * time.Second,
	}
	sc.Liquidity = signal.LiquidityFloor{
		MinDepth:          c.MinLiquidityDepth,
		MinSteepness:      c.MinCurveSteepness,
		MaxPriceImpactPct: c.MaxPriceImpactPct,
	}
	return sc
}

// SizingConfig builds the position sizing configuration.
func (c *Config) SizingConfig() risk.SizingConfig {
	return risk.SizingConfig{
		BaseSize:            c.BasePositionSize,
		MinConfidence:       c.MinBuyConfidence,
		PortfolioValue:      c.PortfolioValue,
		MaxPortfolioRiskPct: c.MaxPortfolioRiskPct,
		VolatilityPenalty:   c.VolatilityPenalty,
	}
}

// ExitConfig builds the exit planner configuration.
func (c *Config) ExitConfig() risk.ExitConfig {
	return risk.ExitConfig{
		StopLossPct:         c.StopLossPercent,
		TakeProfitPct:       c.TakeProfitPercent,
		Tiers:               append([]risk.Tier(nil), c.TakeProfitTiers...),
		TrailingStopPct:     c.TrailingStopPercent,
		MinStopPct:          c.MinStopPercent,
		ReferenceVolatility: c.ReferenceVolatility,
		TightenFactor:       c.TightenFactor,
		Checkpoints:         append([]risk.Checkpoint(nil), c.StopCheckpoints...),
	}
}

// Tiers decodes "pct:fraction,pct:fraction".
type Tiers []risk.Tier

// Decode implements envconfig.Decoder.
func (t *Tiers) Decode(value string) error {
	var out Tiers
	for _, part := range splitList(value) {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("tier %q: want pct:fraction", part)
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(k), 64)
		if err != nil {
			return fmt.Errorf("tier %q: %w", part, err)
		}
		frac, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("tier %q: %w", part, err)
		}
		out = append(out, risk.Tier{Pct: pct, Fraction: frac})
	}
	*t = out
	return nil
}

// Checkpoints decodes "duration:factor,duration:factor".
type Checkpoints []risk.Checkpoint

// Decode implements envconfig.Decoder.
func (c *Checkpoints) Decode(value string) error {
	var out Checkpoints
	for _, part := range splitList(value) {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("checkpoint %q: want duration:factor", part)
		}
		after, err := time.ParseDuration(strings.TrimSpace(k))
		if err != nil {
			return fmt.Errorf("checkpoint %q: %w", part, err)
		}
		factor, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("checkpoint %q: %w", part, err)
		}
		out = append(out, risk.Checkpoint{After: after, Factor: factor})
	}
	*c = out
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
