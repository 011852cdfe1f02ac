package indicator

import "math"

// Bands is a Bollinger envelope.
type Bands struct {
	Mid   float64 `json:"mid"`
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// Bollinger returns mid = SMA(period) and mid ± k·σ, where σ is the
// population standard deviation over the same trailing window.
//
// With fewer than period prices all three bands collapse to the last price,
// or 0 if there are no prices at all.
func Bollinger(prices []float64, period int, k float64) Bands {
	window := last(prices, period)
	if window == nil {
		var p float64
		if len(prices) > 0 {
			p = prices[len(prices)-1]
		}
		return Bands{Mid: p, Upper: p, Lower: p}
	}

	mid := mean(window)
	sd := stdDev(window, mid)
	if k < 0 {
		k = -k
	}
	return Bands{Mid: mid, Upper: mid + k*sd, Lower: mid - k*sd}
}

// StdDev returns the population standard deviation of the last period
// prices, or 0 if fewer exist.
func StdDev(prices []float64, period int) float64 {
	window := last(prices, period)
	if window == nil {
		return 0
	}
	return stdDev(window, mean(window))
}

func stdDev(window []float64, mu float64) float64 {
	var ss float64
	for _, x := range window {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(window)))
}

// Width returns (upper − lower) / mid, a unitless volatility estimate.
// Returns 0 when mid is not positive.
func (b Bands) Width() float64 {
	if b.Mid <= 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Mid
}
