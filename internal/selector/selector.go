// Package selector ranks tradable symbols for the satellite sleeve. The
// simulator consumes it through the Selector interface.
package selector

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
	"github.com/sawpanic/etftrend/internal/signals"
)

// Recommendation grades a candidate's signal strength
type Recommendation string

const (
	StrongBuy Recommendation = "STRONG_BUY"
	Buy       Recommendation = "BUY"
	Watch     Recommendation = "WATCH"
)

// Candidate is one ranked, immutable selection result
type Candidate struct {
	Symbol         string         `json:"symbol"`
	Score          float64        `json:"composite_score"` // 0.0-1.0
	Eligible       bool           `json:"is_eligible"`
	Reason         string         `json:"explanatory_reason"`
	Price          float64        `json:"price"`
	Momentum       float64        `json:"momentum"`
	Volatility     float64        `json:"volatility"`
	AboveMA        bool           `json:"above_ma"`
	Recommendation Recommendation `json:"recommendation"`
}

// Selector returns ranked candidates from history dated on or before the
// as-of row. Implementations must not read beyond the last row of hist.
type Selector interface {
	Select(hist *prices.Table, state regime.State) ([]Candidate, error)
}

// Fundamentals is the optional valuation data used to bias scoring
type Fundamentals struct {
	PERatio  float64 `json:"peRatio"`
	PEGRatio float64 `json:"pegRatio"`
	Sector   string  `json:"sector"`
}

// FundamentalsLookup resolves fundamentals per symbol
type FundamentalsLookup interface {
	Lookup(symbol string) (Fundamentals, bool)
}

// FundamentalsMap is an in-memory FundamentalsLookup
type FundamentalsMap map[string]Fundamentals

// Lookup implements FundamentalsLookup
func (m FundamentalsMap) Lookup(symbol string) (Fundamentals, bool) {
	f, ok := m[symbol]
	return f, ok
}

// Config holds configuration for the momentum selector
type Config struct {
	Pool            []string  `yaml:"pool"`
	MAWindow        int       `yaml:"ma_window"`        // Default: 200
	MomentumWindows []int     `yaml:"momentum_windows"` // Default: 20/60/120
	MomentumWeights []float64 `yaml:"momentum_weights"` // Default: 0.33/0.34/0.33
	VolLookback     int       `yaml:"vol_lookback"`     // Default: 60
	MaxVolatility   float64   `yaml:"max_volatility"`   // Default: 0.60 annualized
	TopN            int       `yaml:"top_n"`            // Default: 10
	UseFundamentals bool      `yaml:"use_fundamentals"` // Default: false, avoids look-ahead in backtests
	RiskOnOnly      bool      `yaml:"risk_on_only"`     // Default: true
}

// DefaultConfig returns the default selector settings
func DefaultConfig() Config {
	return Config{
		Pool:            []string{"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "AVGO", "JPM", "V", "UNH", "LLY", "XOM"},
		MAWindow:        200,
		MomentumWindows: []int{20, 60, 120},
		MomentumWeights: []float64{0.33, 0.34, 0.33},
		VolLookback:     60,
		MaxVolatility:   0.60,
		TopN:            10,
		RiskOnOnly:      true,
	}
}

// Validate checks the selector configuration
func (c Config) Validate() error {
	if c.MAWindow <= 0 {
		return faults.Configf("selector.ma_window", c.MAWindow, "must be positive")
	}
	if len(c.MomentumWindows) == 0 || len(c.MomentumWindows) != len(c.MomentumWeights) {
		return faults.Configf("selector.momentum_weights", len(c.MomentumWeights), "need one weight per momentum window")
	}
	if c.VolLookback < 2 {
		return faults.Configf("selector.vol_lookback", c.VolLookback, "must be at least 2")
	}
	if c.MaxVolatility <= 0 {
		return faults.Configf("selector.max_volatility", c.MaxVolatility, "must be positive")
	}
	if c.TopN < 0 {
		return faults.Configf("selector.top_n", c.TopN, "must not be negative")
	}
	return nil
}

// Momentum keeps symbols trading above their long moving average with
// acceptable volatility and positive momentum, and ranks them by a blend of
// momentum and trend distance.
type Momentum struct {
	cfg          Config
	fundamentals FundamentalsLookup
}

// NewMomentum validates cfg and builds the selector. fundamentals may be nil.
func NewMomentum(cfg Config, fundamentals FundamentalsLookup) (*Momentum, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Momentum{cfg: cfg, fundamentals: fundamentals}, nil
}

// Select implements Selector
func (m *Momentum) Select(hist *prices.Table, state regime.State) ([]Candidate, error) {
	if m.cfg.RiskOnOnly && state.Label != regime.RiskOn {
		return nil, nil
	}

	useFundamentals := m.cfg.UseFundamentals && m.fundamentals != nil
	var out []Candidate
	for _, sym := range m.cfg.Pool {
		col, ok := hist.Column(sym)
		if !ok || len(col) == 0 {
			continue
		}
		price := col[len(col)-1]
		mom := signals.MomentumScore(col, m.cfg.MomentumWindows, m.cfg.MomentumWeights)
		vol := signals.RealizedVolAnnual(col, m.cfg.VolLookback)
		ma := signals.SMA(col, m.cfg.MAWindow)
		if anyNaN(price, mom, vol, ma) {
			continue
		}
		if !(price > ma && vol <= m.cfg.MaxVolatility && mom > 0) {
			continue
		}

		scoreMom := clamp01(mom * 5)
		scoreTrend := clamp01((price/ma - 1) * 10)
		scoreQuality := clamp01((0.4 - vol) / 0.2)

		var strength float64
		if useFundamentals {
			if f, ok := m.fundamentals.Lookup(sym); ok {
				scoreQuality = 0.6*valuationScore(f) + 0.4*scoreQuality
			}
			strength = 0.4*scoreMom + 0.3*scoreQuality + 0.3*scoreTrend
		} else {
			strength = 0.6*scoreMom + 0.4*scoreTrend
		}
		strength = math.Round(strength*100) / 100

		out = append(out, Candidate{
			Symbol:         sym,
			Score:          strength,
			Eligible:       true,
			Reason:         reason(scoreMom, scoreQuality, scoreTrend, mom),
			Price:          price,
			Momentum:       mom,
			Volatility:     vol,
			AboveMA:        true,
			Recommendation: grade(strength),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if m.cfg.TopN < len(out) {
		out = out[:m.cfg.TopN]
	}
	return out, nil
}

// valuationScore maps PE and PEG ratios to [0, 1]; missing ratios are neutral.
func valuationScore(f Fundamentals) float64 {
	score := 0.5
	if pe := f.PERatio; pe > 0 {
		switch {
		case pe < 20:
			score = 1.0
		case pe < 30:
			score = 0.7
		case pe > 50:
			score = 0.2
		}
	}
	if peg := f.PEGRatio; peg > 0 {
		switch {
		case peg < 1.0:
			score = (score + 1.0) / 2
		case peg > 2.0:
			score = (score + 0.2) / 2
		}
	}
	return score
}

func grade(strength float64) Recommendation {
	switch {
	case strength >= 0.7:
		return StrongBuy
	case strength >= 0.5:
		return Buy
	default:
		return Watch
	}
}

func reason(mom, quality, trend, rawMomentum float64) string {
	var parts []string
	switch {
	case mom > 0.7:
		parts = append(parts, "strong momentum ("+formatPct(rawMomentum)+")")
	case mom > 0.4:
		parts = append(parts, "healthy momentum")
	}
	switch {
	case quality > 0.7:
		parts = append(parts, "low volatility")
	case quality > 0.4:
		parts = append(parts, "moderate volatility")
	}
	if trend > 0.5 {
		parts = append(parts, "strong trend")
	}
	return strings.Join(parts, ", ")
}

func formatPct(x float64) string {
	return strconv.FormatFloat(x*100, 'f', 1, 64) + "%"
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
