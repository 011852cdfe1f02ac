package indicator

// EMA returns the exponential moving average of prices.
// It is seeded with the SMA of the earliest period prices and then updated
// with multiplier 2/(period+1) over the remaining prices in order.
// Returns 0 if fewer than period prices exist.
func EMA(prices []float64, period int) float64 {
	series := emaSeries(prices, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// emaSeries returns the EMA value after each price from index period-1 on,
// i.e. len(prices)-period+1 values, or nil if there is not enough data.
func emaSeries(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	multiplier := 2.0 / float64(period+1)

	out := make([]float64, 0, len(prices)-period+1)
	current := mean(prices[:period])
	out = append(out, current)
	for _, price := range prices[period:] {
		// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
		current = (price * multiplier) + (current * (1 - multiplier))
		out = append(out, current)
	}
	return out
}
