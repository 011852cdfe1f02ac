package signal

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"signalengine/internal/indicator"
	"signalengine/internal/model"
)

// Generator evaluates analyses into signals. It holds no mutable state and
// is safe for concurrent use.
type Generator struct {
	cfg Config
}

// NewGenerator creates a Generator.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// Config returns the generator configuration.
func (g *Generator) Config() Config { return g.cfg }

// Evaluate scores a and f into a Signal. Identical inputs always yield an
// identical Signal.
func (g *Generator) Evaluate(a indicator.Analysis, f Facts) Signal {
	factors := make([]Factor, 0, 8)
	factors = g.momentum(factors, a)
	factors = g.ratio(factors, f)
	factors = g.rsi(factors, a.Current)
	factors = g.cross(factors, a, FactorSMAGoldenCross, FactorSMADeathCross, g.cfg.Weights.SMACross,
		a.Current.SMA, a.Previous.SMA, a.Current.Ready.SMA, a.Previous.Ready.SMA)
	factors = g.cross(factors, a, FactorEMAGoldenCross, FactorEMADeathCross, g.cfg.Weights.EMACross,
		a.Current.EMA, a.Previous.EMA, a.Current.Ready.EMA, a.Previous.Ready.EMA)
	factors = g.bollinger(factors, a)
	factors = g.macd(factors, a)

	var buy, sell float64
	for _, fc := range factors {
		switch fc.Side {
		case Buy:
			buy += fc.Score
		case Sell:
			sell += fc.Score
		}
	}
	buy = lo.Clamp(buy, 0, 100)
	sell = lo.Clamp(sell, 0, 100)

	sig := Signal{
		BuyScore:  buy,
		SellScore: sell,
		Lean:      Hold,
	}
	switch {
	case buy > sell:
		sig.Lean, sig.Confidence = Buy, buy
	case sell > buy:
		sig.Lean, sig.Confidence = Sell, sell
	default:
		sig.Confidence = buy
	}
	sig.Direction = sig.Lean

	// Hard gates.
	if !g.cfg.Age.Contains(f.Age) {
		factors = append(factors, Factor{
			Name:   FactorAgeGate,
			Side:   Hold,
			Detail: fmt.Sprintf("age %s outside [%s, %s]", f.Age, g.cfg.Age.Min, g.cfg.Age.Max),
		})
		sig.Direction = Hold
		sig.Suppressed = ReasonAgeOutOfWindow
	}
	if sig.Direction == Buy {
		if ok, detail := g.liquidityOK(f.Curve); !ok {
			factors = append(factors, Factor{Name: FactorLiquidityGate, Side: Hold, Detail: detail})
			sig.Direction = Hold
			sig.Suppressed = ReasonLiquidityInsufficient
		}
	}

	// Thresholds.
	switch {
	case sig.Direction == Buy && sig.Confidence < g.cfg.MinBuyConfidence,
		sig.Direction == Sell && sig.Confidence < g.cfg.MinSellConfidence:
		sig.Direction = Hold
		sig.Suppressed = ReasonBelowThreshold
	}

	sig.Factors = factors
	return sig
}

func (g *Generator) momentum(out []Factor, a indicator.Analysis) []Factor {
	cur, prev := a.Current, a.Previous
	if !cur.Ready.Momentum || !cur.Ready.RateOfChange || !prev.Ready.RateOfChange {
		return out
	}
	w := g.cfg.Weights.Momentum
	switch {
	case cur.Momentum > 0 && cur.RateOfChange > prev.RateOfChange:
		return append(out, Factor{Name: FactorMomentum, Side: Buy, Score: w,
			Detail: fmt.Sprintf("momentum %.6g, roc %.4g%% rising", cur.Momentum, cur.RateOfChange)})
	case cur.Momentum < 0 && cur.RateOfChange < prev.RateOfChange:
		return append(out, Factor{Name: FactorMomentum, Side: Sell, Score: w,
			Detail: fmt.Sprintf("momentum %.6g, roc %.4g%% falling", cur.Momentum, cur.RateOfChange)})
	}
	return out
}

func (g *Generator) ratio(out []Factor, f Facts) []Factor {
	if f.BuyCount <= 0 {
		return out
	}
	var ratio float64
	if f.SellCount == 0 {
		ratio = math.Inf(1)
	} else {
		ratio = float64(f.BuyCount) / float64(f.SellCount)
	}
	if ratio <= g.cfg.RatioThreshold {
		return out
	}
	score := g.cfg.Weights.BuySellRatio
	if !math.IsInf(ratio, 1) {
		score = math.Min(score, (ratio-g.cfg.RatioThreshold)*g.cfg.RatioScale)
	}
	return append(out, Factor{Name: FactorBuySellRatio, Side: Buy, Score: score,
		Detail: fmt.Sprintf("buys=%d sells=%d", f.BuyCount, f.SellCount)})
}

func (g *Generator) rsi(out []Factor, s indicator.Snapshot) []Factor {
	if !s.Ready.RSI {
		return out
	}
	switch {
	case s.RSI < g.cfg.RSIOversold:
		return append(out, Factor{Name: FactorRSIOversold, Side: Buy, Score: g.cfg.Weights.RSI,
			Detail: fmt.Sprintf("rsi %.2f", s.RSI)})
	case s.RSI > g.cfg.RSIOverbought:
		return append(out, Factor{Name: FactorRSIOverbought, Side: Sell, Score: g.cfg.Weights.RSI,
			Detail: fmt.Sprintf("rsi %.2f", s.RSI)})
	}
	return out
}

// cross detects the fast average crossing the slow one between the previous
// and current snapshot. Fallback zeros never take part.
func (g *Generator) cross(out []Factor, a indicator.Analysis, golden, death string, weight float64,
	cur, prev map[int]float64, curReady, prevReady map[int]bool) []Factor {
	fast, slow := g.cfg.FastPeriod, g.cfg.SlowPeriod
	if !a.HasPrev || !curReady[fast] || !curReady[slow] || !prevReady[fast] || !prevReady[slow] {
		return out
	}
	prevFast, prevSlow := prev[fast], prev[slow]
	curFast, curSlow := cur[fast], cur[slow]

	// Golden cross: fast crosses above slow
	if prevFast <= prevSlow && curFast > curSlow {
		return append(out, Factor{Name: golden, Side: Buy, Score: weight,
			Detail: fmt.Sprintf("%d over %d", fast, slow)})
	}
	// Death cross: fast crosses below slow
	if prevFast >= prevSlow && curFast < curSlow {
		return append(out, Factor{Name: death, Side: Sell, Score: weight,
			Detail: fmt.Sprintf("%d under %d", fast, slow)})
	}
	return out
}

func (g *Generator) bollinger(out []Factor, a indicator.Analysis) []Factor {
	if !a.HasPrev || !a.Previous.Ready.Bollinger {
		return out
	}
	b := a.Previous.Bollinger
	w := g.cfg.Weights.BollingerRebound
	switch {
	case a.PrevPrice <= b.Lower && a.Price > a.PrevPrice:
		return append(out, Factor{Name: FactorBollingerRebound, Side: Buy, Score: w,
			Detail: fmt.Sprintf("rebound from %.6g (lower %.6g)", a.PrevPrice, b.Lower)})
	case a.PrevPrice >= b.Upper && a.Price < a.PrevPrice:
		return append(out, Factor{Name: FactorBollingerReject, Side: Sell, Score: w,
			Detail: fmt.Sprintf("rejected at %.6g (upper %.6g)", a.PrevPrice, b.Upper)})
	}
	return out
}

func (g *Generator) macd(out []Factor, a indicator.Analysis) []Factor {
	cur, prev := a.Current.MACD, a.Previous.MACD
	if !a.HasPrev || !cur.SignalReady || !prev.SignalReady {
		return out
	}
	w := g.cfg.Weights.MACDCross
	switch {
	case prev.Histogram <= 0 && cur.Histogram > 0:
		return append(out, Factor{Name: FactorMACDBullish, Side: Buy, Score: w})
	case prev.Histogram >= 0 && cur.Histogram < 0:
		return append(out, Factor{Name: FactorMACDBearish, Side: Sell, Score: w})
	}
	return out
}

// liquidityOK applies the liquidity floor. Missing curve data counts as
// insufficient liquidity.
func (g *Generator) liquidityOK(c *model.CurveFacts) (bool, string) {
	floor := g.cfg.Liquidity
	switch {
	case c == nil:
		return false, "no curve reading"
	case c.LiquidityDepth < floor.MinDepth:
		return false, fmt.Sprintf("depth %.6g below floor %.6g", c.LiquidityDepth, floor.MinDepth)
	case c.Steepness < floor.MinSteepness:
		return false, fmt.Sprintf("steepness %.6g below floor %.6g", c.Steepness, floor.MinSteepness)
	case floor.MaxPriceImpactPct > 0 && c.PriceImpactPct > floor.MaxPriceImpactPct:
		return false, fmt.Sprintf("price impact %.4g%% above %.4g%%", c.PriceImpactPct, floor.MaxPriceImpactPct)
	}
	return true, ""
}
