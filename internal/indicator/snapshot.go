package indicator

// Params selects the periods used to build a Snapshot.
type Params struct {
	MAPeriods       []int   // SMA and EMA periods
	RSIPeriod       int     // typically 14
	MACDFast        int     // typically 12
	MACDSlow        int     // typically 26
	MACDSignal      int     // typically 9
	BollingerPeriod int     // typically 20
	BollingerK      float64 // typically 2
	MomentumPeriod  int
	ROCPeriod       int
}

// DefaultParams returns the standard indicator set.
func DefaultParams() Params {
	return Params{
		MAPeriods:       []int{5, 10, 20, 50},
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerK:      2,
		MomentumPeriod:  10,
		ROCPeriod:       10,
	}
}

// Availability records which snapshot values were computed from enough
// history, as opposed to being fallback values.
type Availability struct {
	SMA          map[int]bool `json:"sma"`
	EMA          map[int]bool `json:"ema"`
	RSI          bool         `json:"rsi"`
	Bollinger    bool         `json:"bollinger"`
	Momentum     bool         `json:"momentum"`
	RateOfChange bool         `json:"rate_of_change"`
}

// Snapshot is the full indicator set for one point in time.
type Snapshot struct {
	SMA          map[int]float64 `json:"sma"`
	EMA          map[int]float64 `json:"ema"`
	RSI          float64         `json:"rsi"`
	MACD         MACDResult      `json:"macd"`
	Bollinger    Bands           `json:"bollinger"`
	Momentum     float64         `json:"momentum"`
	RateOfChange float64         `json:"rate_of_change"`
	Points       int             `json:"points"`

	Ready Availability `json:"ready"`
}

// Compute builds a Snapshot from prices (oldest first).
func Compute(prices []float64, p Params) Snapshot {
	n := len(prices)
	s := Snapshot{
		SMA:    make(map[int]float64, len(p.MAPeriods)),
		EMA:    make(map[int]float64, len(p.MAPeriods)),
		Points: n,
		Ready: Availability{
			SMA: make(map[int]bool, len(p.MAPeriods)),
			EMA: make(map[int]bool, len(p.MAPeriods)),
		},
	}

	for _, period := range p.MAPeriods {
		s.SMA[period] = SMA(prices, period)
		s.EMA[period] = EMA(prices, period)
		ready := period > 0 && n >= period
		s.Ready.SMA[period] = ready
		s.Ready.EMA[period] = ready
	}

	s.RSI = RSI(prices, p.RSIPeriod)
	s.Ready.RSI = p.RSIPeriod > 0 && n >= p.RSIPeriod+1

	s.MACD = MACD(prices, p.MACDFast, p.MACDSlow, p.MACDSignal)

	s.Bollinger = Bollinger(prices, p.BollingerPeriod, p.BollingerK)
	s.Ready.Bollinger = p.BollingerPeriod > 0 && n >= p.BollingerPeriod

	s.Momentum = Momentum(prices, p.MomentumPeriod)
	s.Ready.Momentum = p.MomentumPeriod > 0 && n >= p.MomentumPeriod+1

	s.RateOfChange = RateOfChange(prices, p.ROCPeriod)
	s.Ready.RateOfChange = p.ROCPeriod > 0 && n >= p.ROCPeriod+1 && prices[n-1-p.ROCPeriod] != 0

	return s
}

// Volatility returns the Bollinger band width, or 0 if the bands are not ready.
func (s Snapshot) Volatility() float64 {
	if !s.Ready.Bollinger {
		return 0
	}
	return s.Bollinger.Width()
}

// Analysis pairs the current snapshot with the one computed one observation
// earlier, which is what cross and rebound detection compare against.
type Analysis struct {
	Current   Snapshot `json:"current"`
	Previous  Snapshot `json:"previous"`
	Price     float64  `json:"price"`
	PrevPrice float64  `json:"prev_price"`
	HasPrev   bool     `json:"has_prev"`
}

// Analyze computes the current and previous snapshots over prices.
func Analyze(prices []float64, p Params) Analysis {
	a := Analysis{Current: Compute(prices, p)}
	if n := len(prices); n > 0 {
		a.Price = prices[n-1]
		if n > 1 {
			a.Previous = Compute(prices[:n-1], p)
			a.PrevPrice = prices[n-2]
			a.HasPrev = true
		}
	}
	if !a.HasPrev {
		a.Previous = Compute(nil, p)
	}
	return a
}
