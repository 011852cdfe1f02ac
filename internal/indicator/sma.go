package indicator

// SMA returns the average of the last period prices.
// Returns 0 if fewer than period prices exist.
func SMA(prices []float64, period int) float64 {
	window := last(prices, period)
	if window == nil {
		return 0
	}
	return mean(window)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
