package indicator

// Momentum returns price[t] − price[t−period], or 0 if history is shorter
// than period+1.
func Momentum(prices []float64, period int) float64 {
	window := last(prices, period+1)
	if period <= 0 || window == nil {
		return 0
	}
	return window[period] - window[0]
}

// RateOfChange returns the percentage change over period, or 0 when history
// is shorter than period+1 or the base price is zero.
func RateOfChange(prices []float64, period int) float64 {
	window := last(prices, period+1)
	if period <= 0 || window == nil || window[0] == 0 {
		return 0
	}
	return (window[period] - window[0]) / window[0] * 100
}
