package allocator

import (
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/optimizer"
	"github.com/sawpanic/etftrend/internal/regime"
)

// Method selects how a bucket's selected symbols are weighted
type Method int

const (
	InverseVol Method = iota
	MinVariance
	RiskParity
)

func (m Method) String() string {
	switch m {
	case InverseVol:
		return "inverse_vol"
	case MinVariance:
		return "min_variance"
	case RiskParity:
		return "risk_parity"
	default:
		return "unknown"
	}
}

// ParseMethod maps a configuration string to a Method
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inverse_vol":
		return InverseVol, nil
	case "min_variance":
		return MinVariance, nil
	case "risk_parity":
		return RiskParity, nil
	}
	return InverseVol, faults.Configf("allocation.method", s, "want inverse_vol, min_variance or risk_parity")
}

// MarshalYAML implements yaml.Marshaler
func (m Method) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (m *Method) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// objective maps the solver-backed methods to a solver objective.
func (m Method) objective() (optimizer.Objective, bool) {
	switch m {
	case MinVariance:
		return optimizer.MinVariance, true
	case RiskParity:
		return optimizer.RiskParity, true
	case InverseVol:
		return 0, false
	}
	return 0, false
}

// Budget splits capital between the equity and defensive buckets
type Budget struct {
	Equity    float64 `yaml:"equity"`
	Defensive float64 `yaml:"defensive"`
}

// BudgetTable holds one Budget per regime label
type BudgetTable struct {
	RiskOn  Budget `yaml:"risk_on"`
	Neutral Budget `yaml:"neutral"`
	RiskOff Budget `yaml:"risk_off"`
}

// For returns the budget configured for label
func (t BudgetTable) For(label regime.Label) Budget {
	switch label {
	case regime.RiskOn:
		return t.RiskOn
	case regime.Neutral:
		return t.Neutral
	case regime.RiskOff:
		return t.RiskOff
	}
	return Budget{Equity: 0.5, Defensive: 0.5}
}

func (t BudgetTable) validate() error {
	for _, entry := range []struct {
		name string
		b    Budget
	}{{"risk_on", t.RiskOn}, {"neutral", t.Neutral}, {"risk_off", t.RiskOff}} {
		field := "allocation.regime_budgets." + entry.name
		if entry.b.Equity < 0 || entry.b.Defensive < 0 || math.IsNaN(entry.b.Equity) || math.IsNaN(entry.b.Defensive) {
			return faults.Configf(field, entry.b, "budgets must be non-negative")
		}
		if entry.b.Equity+entry.b.Defensive > 1+1e-9 {
			return faults.Configf(field, entry.b, "equity and defensive budgets exceed 1.0")
		}
	}
	return nil
}

// Config holds configuration for the allocation engine
type Config struct {
	EquitySymbols    []string    `yaml:"equity_symbols"`
	DefensiveSymbols []string    `yaml:"defensive_symbols"`
	CoreSymbols      []string    `yaml:"core_symbols"`
	Budgets          BudgetTable `yaml:"regime_budgets"`
	TopNEquity       int         `yaml:"top_n_equity"`      // Default: 5
	TopNDefensive    int         `yaml:"top_n_defensive"`   // Default: 2
	VolLookback      int         `yaml:"vol_lookback"`      // Default: 60
	MaxWeightSingle  float64     `yaml:"max_weight_single"` // Default: 0.30
	MaxWeightCore    float64     `yaml:"max_weight_core"`   // Default: 0.50
	MinWeight        float64     `yaml:"min_weight"`        // Default: 0.01, smaller weights are dropped
	MomentumWindows  []int       `yaml:"momentum_windows"`  // Default: 20/60/120
	MomentumWeights  []float64   `yaml:"momentum_weights"`  // Default: 0.33/0.34/0.33
	Method           Method      `yaml:"method"`            // Default: inverse_vol
	ReturnLookback   int         `yaml:"return_lookback"`   // Default: 252 rows for the covariance window
	MinReturnRows    int         `yaml:"min_return_rows"`   // Default: 60, fewer falls back to equal weight
	SolverMaxWeight  float64     `yaml:"solver_max_weight"` // Default: 1.0
}

// DefaultConfig returns the production allocation settings
func DefaultConfig() Config {
	return Config{
		EquitySymbols:    []string{"SPY", "QQQ", "IWM", "EFA", "EEM", "VNQ", "XLK", "XLV"},
		DefensiveSymbols: []string{"TLT", "IEF", "SHY", "GLD", "BIL"},
		CoreSymbols:      []string{"SPY", "QQQ"},
		Budgets: BudgetTable{
			RiskOn:  Budget{Equity: 0.80, Defensive: 0.20},
			Neutral: Budget{Equity: 0.50, Defensive: 0.50},
			RiskOff: Budget{Equity: 0.20, Defensive: 0.80},
		},
		TopNEquity:      5,
		TopNDefensive:   2,
		VolLookback:     60,
		MaxWeightSingle: 0.30,
		MaxWeightCore:   0.50,
		MinWeight:       0.01,
		MomentumWindows: []int{20, 60, 120},
		MomentumWeights: []float64{0.33, 0.34, 0.33},
		Method:          InverseVol,
		ReturnLookback:  252,
		MinReturnRows:   60,
		SolverMaxWeight: 1.0,
	}
}

// Validate checks the configuration, naming the offending field on failure
func (c Config) Validate() error {
	if err := c.Budgets.validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.EquitySymbols))
	for _, s := range c.EquitySymbols {
		seen[s] = true
	}
	for _, s := range c.DefensiveSymbols {
		if seen[s] {
			return faults.Configf("allocation.defensive_symbols", s, "symbol is also listed as equity")
		}
	}
	if c.TopNEquity < 0 || c.TopNDefensive < 0 {
		return faults.Configf("allocation.top_n", [2]int{c.TopNEquity, c.TopNDefensive}, "must not be negative")
	}
	if c.VolLookback < 2 {
		return faults.Configf("allocation.vol_lookback", c.VolLookback, "must be at least 2")
	}
	if c.MaxWeightSingle <= 0 || c.MaxWeightSingle > 1 {
		return faults.Configf("allocation.max_weight_single", c.MaxWeightSingle, "must be in (0, 1]")
	}
	if c.MaxWeightCore <= 0 || c.MaxWeightCore > 1 {
		return faults.Configf("allocation.max_weight_core", c.MaxWeightCore, "must be in (0, 1]")
	}
	if c.MinWeight < 0 || c.MinWeight >= 1 {
		return faults.Configf("allocation.min_weight", c.MinWeight, "must be in [0, 1)")
	}
	if len(c.MomentumWindows) == 0 || len(c.MomentumWindows) != len(c.MomentumWeights) {
		return faults.Configf("allocation.momentum_weights", len(c.MomentumWeights),
			"need one weight per momentum window (%d windows)", len(c.MomentumWindows))
	}
	for _, w := range c.MomentumWindows {
		if w <= 0 {
			return faults.Configf("allocation.momentum_windows", w, "windows must be positive")
		}
	}
	switch c.Method {
	case InverseVol, MinVariance, RiskParity:
	default:
		return faults.Configf("allocation.method", int(c.Method), "unknown method")
	}
	if c.ReturnLookback < 2 {
		return faults.Configf("allocation.return_lookback", c.ReturnLookback, "must be at least 2")
	}
	if c.MinReturnRows < 2 || c.MinReturnRows > c.ReturnLookback {
		return faults.Configf("allocation.min_return_rows", c.MinReturnRows,
			"must be in [2, return_lookback=%d]", c.ReturnLookback)
	}
	if c.SolverMaxWeight <= 0 || c.SolverMaxWeight > 1 {
		return faults.Configf("allocation.solver_max_weight", c.SolverMaxWeight, "must be in (0, 1]")
	}
	return nil
}
