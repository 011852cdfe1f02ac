package indicator

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`

	LineReady   bool `json:"line_ready"`
	SignalReady bool `json:"signal_ready"`
}

// MACD computes EMA(fast) − EMA(slow) as the MACD line and EMA(signal) of the
// MACD line series as the signal line.
//
// The line is 0 until the slow EMA is available; the signal line follows the
// EMA fallback (0) until signal line values exist. Histogram is always
// Line − Signal.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	var r MACDResult
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return r
	}

	fastSeries := emaSeries(prices, fast)
	slowSeries := emaSeries(prices, slow)
	if len(slowSeries) == 0 || len(fastSeries) == 0 {
		return r
	}

	// Align both series on the same trailing price index.
	offset := len(fastSeries) - len(slowSeries)
	if offset < 0 {
		// fast > slow (misconfigured); align the other way.
		offset = 0
		slowSeries = slowSeries[len(slowSeries)-len(fastSeries):]
	}
	lines := make([]float64, len(slowSeries))
	for i := range slowSeries {
		lines[i] = fastSeries[i+offset] - slowSeries[i]
	}

	r.Line = lines[len(lines)-1]
	r.LineReady = true

	if sig := emaSeries(lines, signal); len(sig) > 0 {
		r.Signal = sig[len(sig)-1]
		r.SignalReady = true
	}
	r.Histogram = r.Line - r.Signal
	return r
}
