package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDays annualizes daily statistics.
const TradingDays = 252

// Stats summarizes a NAV path. Ratios whose denominator is zero are
// reported as 0.
type Stats struct {
	AnnReturn   float64 `json:"ann_return"`
	AnnVol      float64 `json:"ann_vol"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Calmar      float64 `json:"calmar"`
	AvgTurnover float64 `json:"avg_daily_turnover"`
	AvgCostBps  float64 `json:"avg_cost_bps"`
	Days        int     `json:"days"`
}

// Map renders the stats with report-style labels.
func (s Stats) Map() map[string]float64 {
	return map[string]float64{
		"Ann Return":         s.AnnReturn,
		"Ann Vol":            s.AnnVol,
		"Sharpe":             s.Sharpe,
		"Max Drawdown":       s.MaxDrawdown,
		"Calmar":             s.Calmar,
		"Avg Daily Turnover": s.AvgTurnover,
		"Avg Cost (bps/day)": s.AvgCostBps,
	}
}

// DailyReturns is the percentage change of nav, with 0 on the first day.
func DailyReturns(nav []float64) []float64 {
	out := make([]float64, len(nav))
	for i := 1; i < len(nav); i++ {
		if nav[i-1] != 0 {
			out[i] = nav[i]/nav[i-1] - 1
		}
	}
	return out
}

// Drawdown is nav relative to its running maximum, minus one. Every value
// is <= 0.
func Drawdown(nav []float64) []float64 {
	out := make([]float64, len(nav))
	peak := math.Inf(-1)
	for i, v := range nav {
		peak = math.Max(peak, v)
		if peak > 0 {
			out[i] = math.Min(0, v/peak-1)
		}
	}
	return out
}

// ComputeStats reduces a NAV path and its daily return, turnover and cost
// series. Annualized return compounds nav[last]/nav[0] over the elapsed
// trading days.
func ComputeStats(nav, returns, turnover, cost []float64) Stats {
	s := Stats{Days: len(nav)}
	if len(nav) > 1 && nav[0] > 0 && nav[len(nav)-1] > 0 {
		growth := nav[len(nav)-1] / nav[0]
		s.AnnReturn = math.Pow(growth, TradingDays/float64(len(nav)-1)) - 1
	}
	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		s.AnnVol = std * math.Sqrt(TradingDays)
		if std > 0 {
			s.Sharpe = mean / std * math.Sqrt(TradingDays)
		}
	}
	for _, d := range Drawdown(nav) {
		s.MaxDrawdown = math.Min(s.MaxDrawdown, d)
	}
	if s.MaxDrawdown < 0 {
		s.Calmar = s.AnnReturn / math.Abs(s.MaxDrawdown)
	}
	if len(turnover) > 0 {
		s.AvgTurnover = stat.Mean(turnover, nil)
	}
	if len(cost) > 0 {
		s.AvgCostBps = stat.Mean(cost, nil) * 10000
	}
	return s
}
