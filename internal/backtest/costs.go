package backtest

import "math"

// Turnover is the sum of absolute weight changes between two books.
// Symbols missing from one side count as zero weight.
func Turnover(prev, next map[string]float64) float64 {
	total := 0.0
	for s, w := range next {
		total += math.Abs(w - prev[s])
	}
	for s, w := range prev {
		if _, ok := next[s]; !ok {
			total += math.Abs(w)
		}
	}
	return total
}

// CostFromTurnover converts turnover into a fractional cost at costBps
// basis points per unit traded.
func CostFromTurnover(turnover, costBps float64) float64 {
	return costBps / 10000 * turnover
}

// tradeCost is the proportional cost of trading notional.
func tradeCost(notional, costBps float64) float64 {
	return math.Abs(notional) * costBps / 10000
}
