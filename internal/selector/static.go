package selector

import (
	"math"

	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
)

// Static always proposes the same symbols, in order, when they have a price
// on the as-of row. It backs fixed-universe backtests.
type Static struct {
	Symbols []string
}

// Select implements Selector
func (s Static) Select(hist *prices.Table, _ regime.State) ([]Candidate, error) {
	last := hist.Len() - 1
	out := make([]Candidate, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		p, err := hist.Price(sym, last)
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			Symbol:         sym,
			Score:          1,
			Eligible:       true,
			Reason:         "fixed universe",
			Price:          p,
			Momentum:       math.NaN(),
			Volatility:     math.NaN(),
			Recommendation: Buy,
		})
	}
	return out, nil
}
