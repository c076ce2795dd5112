// Package signals provides the stateless indicator functions the strategy
// core consumes: trailing averages, momentum and realized volatility. Every
// function reads only the values it is given, so callers control look-ahead
// by slicing history first.
package signals

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/etftrend/internal/prices"
)

// TradingDays is the annualization factor for daily data.
const TradingDays = 252

// SMA returns the mean of the last window values, or NaN when fewer than
// window values exist or any of them is missing.
func SMA(col []float64, window int) float64 {
	if window <= 0 || len(col) < window {
		return math.NaN()
	}
	tail := col[len(col)-window:]
	for _, v := range tail {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	return stat.Mean(tail, nil)
}

// PctChange returns the fractional change between the last value and the
// value window rows earlier.
func PctChange(col []float64, window int) float64 {
	n := len(col)
	if window <= 0 || n <= window {
		return math.NaN()
	}
	return col[n-1]/col[n-1-window] - 1
}

// MomentumScore is the weighted sum of trailing percentage changes over
// several windows. Any undefined component makes the score NaN.
func MomentumScore(col []float64, windows []int, weights []float64) float64 {
	score := 0.0
	for k, w := range windows {
		wt := 0.0
		if k < len(weights) {
			wt = weights[k]
		}
		score += wt * PctChange(col, w)
	}
	return score
}

// RealizedVolAnnual is the sample standard deviation of the last lookback
// daily returns, annualized.
func RealizedVolAnnual(col []float64, lookback int) float64 {
	if lookback < 2 || len(col) < lookback+1 {
		return math.NaN()
	}
	tail := col[len(col)-lookback-1:]
	rets := make([]float64, lookback)
	for i := 1; i < len(tail); i++ {
		r := tail[i]/tail[i-1] - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return math.NaN()
		}
		rets[i-1] = r
	}
	return stat.StdDev(rets, nil) * math.Sqrt(TradingDays)
}

// Provider scores symbols as of the last row of a history table.
type Provider interface {
	Momentum(hist *prices.Table, sym string) float64
	Volatility(hist *prices.Table, sym string) float64
}

// Standard is the momentum/volatility provider used by the allocator.
type Standard struct {
	MomentumWindows []int
	MomentumWeights []float64
	VolLookback     int
}

// Momentum implements Provider.
func (s Standard) Momentum(hist *prices.Table, sym string) float64 {
	col, ok := hist.Column(sym)
	if !ok {
		return math.NaN()
	}
	return MomentumScore(col, s.MomentumWindows, s.MomentumWeights)
}

// Volatility implements Provider.
func (s Standard) Volatility(hist *prices.Table, sym string) float64 {
	col, ok := hist.Column(sym)
	if !ok {
		return math.NaN()
	}
	return RealizedVolAnnual(col, s.VolLookback)
}
