package indicator

// NeutralRSI is returned when there is not enough history.
const NeutralRSI = 50.0

// RSI computes the Relative Strength Index over the most recent period
// price changes using plain sums of gains and losses.
//
// Returns NeutralRSI if fewer than period+1 prices exist, and 100 when there
// were no losses in the window.
func RSI(prices []float64, period int) float64 {
	window := last(prices, period+1)
	if period <= 0 || window == nil {
		return NeutralRSI
	}

	var gains, losses float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	if losses == 0 {
		return 100.0
	}
	rs := gains / losses
	return 100.0 - (100.0 / (1.0 + rs))
}
