// Package indicator computes technical indicators from a price slice.
//
// Every function is pure: prices are ordered oldest→newest and are never
// modified. Insufficient history is an expected steady state right after an
// asset is first observed, so each function returns a documented fallback
// instead of an error. Snapshot.Ready tells callers which values are real.
package indicator

import "signalengine/internal/model"

// Prices extracts the price column of a series snapshot.
func Prices(obs []model.Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = o.Price
	}
	return out
}

// last returns the last n prices, or nil if fewer exist.
func last(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) < n {
		return nil
	}
	return prices[len(prices)-n:]
}
