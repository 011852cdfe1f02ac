package model

// CurveFacts are bonding-curve / liquidity readings supplied by an external
// collaborator for one asset at evaluation time. The engine never computes them.
type CurveFacts struct {
	Steepness      float64 `json:"steepness"`
	LiquidityDepth float64 `json:"liquidity_depth"`
	PriceImpactPct float64 `json:"price_impact_pct"` // estimated impact of the intended trade size
}
