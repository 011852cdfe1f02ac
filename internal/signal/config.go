package signal

import "time"

const (
	DefaultMinBuyConfidence  = 65.0
	DefaultMinSellConfidence = 70.0
)

// Weights are the maximum contribution of each factor.
type Weights struct {
	Momentum         float64
	BuySellRatio     float64 // cap of the proportional ratio contribution
	RSI              float64
	SMACross         float64
	EMACross         float64
	BollingerRebound float64
	MACDCross        float64
}

// AgeWindow bounds the asset age at which analysis is allowed.
// A zero Max means no upper bound.
type AgeWindow struct {
	Min time.Duration
	Max time.Duration
}

// Contains reports whether age lies within the window.
func (w AgeWindow) Contains(age time.Duration) bool {
	if age < w.Min {
		return false
	}
	return w.Max <= 0 || age <= w.Max
}

// LiquidityFloor configures the liquidity hard gate for Buy signals.
type LiquidityFloor struct {
	MinDepth          float64
	MinSteepness      float64
	MaxPriceImpactPct float64 // 0 disables the impact check
}

// Config configures a Generator.
type Config struct {
	Weights Weights

	MinBuyConfidence  float64
	MinSellConfidence float64

	// Buy/sell transaction ratio above RatioThreshold contributes
	// (ratio − threshold) × RatioScale, capped at Weights.BuySellRatio.
	RatioThreshold float64
	RatioScale     float64

	RSIOversold   float64
	RSIOverbought float64

	// Periods compared for golden/death crosses; both must be in the
	// indicator MAPeriods.
	FastPeriod int
	SlowPeriod int

	Age       AgeWindow
	Liquidity LiquidityFloor
}

// DefaultConfig returns the stock weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Momentum:         20,
			BuySellRatio:     25,
			RSI:              20,
			SMACross:         20,
			EMACross:         15,
			BollingerRebound: 20,
			MACDCross:        10,
		},
		MinBuyConfidence:  DefaultMinBuyConfidence,
		MinSellConfidence: DefaultMinSellConfidence,
		RatioThreshold:    1.5,
		RatioScale:        10,
		RSIOversold:       30,
		RSIOverbought:     70,
		FastPeriod:        5,
		SlowPeriod:        20,
		Age:               AgeWindow{Min: 0, Max: time.Hour},
		Liquidity: LiquidityFloor{
			MinDepth:          1,
			MinSteepness:      0,
			MaxPriceImpactPct: 5,
		},
	}
}
