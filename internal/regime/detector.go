package regime

import (
	"math"
	"time"

	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/signals"
)

// Label is the discrete market regime classification
type Label int

const (
	RiskOff Label = iota
	Neutral
	RiskOn
)

func (l Label) String() string {
	switch l {
	case RiskOn:
		return "RISK_ON"
	case Neutral:
		return "NEUTRAL"
	case RiskOff:
		return "RISK_OFF"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the label by name
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Description is a short human readable reading of the label
func (l Label) Description() string {
	switch l {
	case RiskOn:
		return "risk appetite: trend is up, hold a high equity allocation"
	case Neutral:
		return "neutral: direction unclear, reduce or diversify exposure"
	case RiskOff:
		return "risk aversion: trend is down or fear is elevated, favour defensive assets"
	default:
		return "unknown regime"
	}
}

// BudgetFloor is the risk budget at the most bearish reading.
const BudgetFloor = 0.2

const (
	fearCalm      = 30.0 // fear index at or above this reads fully fearful
	fearSpan      = 20.0
	momentumShift = 0.10
	momentumSpan  = 0.20
	neutralSignal = 0.5
)

// SignalWeights blends the three regime signals
type SignalWeights struct {
	Trend    float64 `yaml:"trend"`
	Fear     float64 `yaml:"fear"`
	Momentum float64 `yaml:"momentum"`
}

// Config holds configuration for regime detection
type Config struct {
	MAWindow         int           `yaml:"ma_window"`         // Default: 200
	MomentumWindow   int           `yaml:"momentum_window"`   // Default: 60
	Weights          SignalWeights `yaml:"weights"`           // Default: 0.4/0.3/0.3
	RiskOnThreshold  float64       `yaml:"risk_on_threshold"` // Default: 0.6
	NeutralThreshold float64       `yaml:"neutral_threshold"` // Default: 0.4
}

// DefaultConfig returns the production regime configuration
func DefaultConfig() Config {
	return Config{
		MAWindow:         200,
		MomentumWindow:   60,
		Weights:          SignalWeights{Trend: 0.4, Fear: 0.3, Momentum: 0.3},
		RiskOnThreshold:  0.6,
		NeutralThreshold: 0.4,
	}
}

// Validate checks the configuration, naming the offending field on failure
func (c Config) Validate() error {
	if c.MAWindow <= 0 {
		return faults.Configf("regime.ma_window", c.MAWindow, "must be positive")
	}
	if c.MomentumWindow <= 0 {
		return faults.Configf("regime.momentum_window", c.MomentumWindow, "must be positive")
	}
	w := c.Weights
	if w.Trend < 0 || w.Fear < 0 || w.Momentum < 0 {
		return faults.Configf("regime.weights", w, "weights must be non-negative")
	}
	if w.Trend+w.Fear+w.Momentum <= 0 {
		return faults.Configf("regime.weights", w, "weights must sum to a positive value")
	}
	if c.NeutralThreshold < 0 || c.RiskOnThreshold > 1 || c.NeutralThreshold > c.RiskOnThreshold {
		return faults.Configf("regime.thresholds", [2]float64{c.NeutralThreshold, c.RiskOnThreshold},
			"need 0 <= neutral_threshold <= risk_on_threshold <= 1")
	}
	return nil
}

// Detail records the inputs behind a classification. Undefined readings
// are NaN.
type Detail struct {
	Benchmark      string  `json:"market_symbol"`
	Price          float64 `json:"price"`
	MovingAverage  float64 `json:"ma200"`
	AboveMA        bool    `json:"trend_above_ma"`
	Fear           float64 `json:"vix"`
	FearSignal     float64 `json:"vix_signal"`
	Momentum       float64 `json:"momentum_60d"` // percent
	MomentumSignal float64 `json:"momentum_signal"`
	WeightedScore  float64 `json:"weighted_score"`
}

// Map renders the detail with the keys reporting layers expect. Undefined
// readings map to nil.
func (d Detail) Map() map[string]interface{} {
	opt := func(v float64) interface{} {
		if math.IsNaN(v) {
			return nil
		}
		return v
	}
	return map[string]interface{}{
		"market_symbol":   d.Benchmark,
		"price":           opt(d.Price),
		"ma200":           opt(d.MovingAverage),
		"trend_above_ma":  d.AboveMA,
		"vix":             opt(d.Fear),
		"vix_signal":      d.FearSignal,
		"momentum_60d":    opt(d.Momentum),
		"momentum_signal": d.MomentumSignal,
		"weighted_score":  d.WeightedScore,
	}
}

// State is one immutable regime reading
type State struct {
	Label      Label     `json:"regime"`
	RiskBudget float64   `json:"risk_budget"`
	Score      float64   `json:"-"`
	AsOf       time.Time `json:"as_of"`
	Detail     Detail    `json:"signals"`
}

// Detect classifies the regime from the benchmark column of hist. fear may be
// nil, in which case the fear signal is neutral. Observations of fear dated
// after the last row of hist are ignored.
func Detect(cfg Config, hist *prices.Table, fear *prices.Series, benchmark string) (State, error) {
	if err := cfg.Validate(); err != nil {
		return State{}, err
	}
	if !hist.Has(benchmark) {
		return State{}, faults.Configf("benchmark", benchmark, "symbol not present in price data")
	}

	col, _ := hist.Column(benchmark)
	price := math.NaN()
	if len(col) > 0 {
		price = col[len(col)-1]
	}
	ma := signals.SMA(col, cfg.MAWindow)

	trend := 0.0
	if price > ma {
		trend = 1.0
	}

	fearLevel, haveFear := fear.Until(hist.Last()).Latest()
	fearSignal := neutralSignal
	if haveFear {
		fearSignal = clamp01((fearCalm - fearLevel) / fearSpan)
	}

	mom := signals.PctChange(col, cfg.MomentumWindow)
	momSignal := neutralSignal
	if !math.IsNaN(mom) && !math.IsInf(mom, 0) {
		momSignal = clamp01((mom + momentumShift) / momentumSpan)
	}

	w := cfg.Weights
	total := w.Trend + w.Fear + w.Momentum
	score := (w.Trend*trend + w.Fear*fearSignal + w.Momentum*momSignal) / total

	label := RiskOff
	switch {
	case score >= cfg.RiskOnThreshold:
		label = RiskOn
	case score >= cfg.NeutralThreshold:
		label = Neutral
	}

	return State{
		Label:      label,
		RiskBudget: round2(BudgetFloor + (1-BudgetFloor)*score),
		Score:      score,
		AsOf:       hist.Last(),
		Detail: Detail{
			Benchmark:      benchmark,
			Price:          price,
			MovingAverage:  ma,
			AboveMA:        trend == 1.0,
			Fear:           fearLevel,
			FearSignal:     round2(fearSignal),
			Momentum:       round2(mom * 100),
			MomentumSignal: round2(momSignal),
			WeightedScore:  round2(score),
		},
	}, nil
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
