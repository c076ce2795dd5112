package backtest

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/etftrend/internal/prices"
)

// Ledger is the simulated cash and share inventory. Cash is kept in decimal
// so settlement arithmetic does not drift across thousands of trades.
type Ledger struct {
	Cash      decimal.Decimal  `json:"cash"`
	Positions map[string]int64 `json:"positions"`
}

// NewLedger returns an all-cash ledger.
func NewLedger(capital float64) Ledger {
	return Ledger{Cash: decimal.NewFromFloat(capital), Positions: map[string]int64{}}
}

// Clone returns an independent copy.
func (l Ledger) Clone() Ledger {
	pos := make(map[string]int64, len(l.Positions))
	for s, n := range l.Positions {
		pos[s] = n
	}
	return Ledger{Cash: l.Cash, Positions: pos}
}

// Symbols returns held symbols in lexical order.
func (l Ledger) Symbols() []string {
	out := make([]string, 0, len(l.Positions))
	for s := range l.Positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Value marks the ledger to market on row i. Holdings without a usable
// price that day are left out and reported in missing.
func (l Ledger) Value(t *prices.Table, i int) (nav float64, missing []string) {
	nav = l.Cash.InexactFloat64()
	for _, s := range l.Symbols() {
		p, err := t.Price(s, i)
		if err != nil {
			missing = append(missing, s)
			continue
		}
		nav += float64(l.Positions[s]) * p
	}
	return nav, missing
}

func (l *Ledger) credit(amount float64) {
	l.Cash = l.Cash.Add(decimal.NewFromFloat(amount))
}

func (l *Ledger) debit(amount float64) {
	l.Cash = l.Cash.Sub(decimal.NewFromFloat(amount))
}

func (l Ledger) covers(amount float64) bool {
	return l.Cash.GreaterThanOrEqual(decimal.NewFromFloat(amount))
}
