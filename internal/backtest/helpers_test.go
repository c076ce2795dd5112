package backtest

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
)

// businessDays returns n weekdays starting at 2024-01-01 (a Monday).
func businessDays(n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); len(out) < n; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func buildTable(t *testing.T, dates []time.Time, cols map[string][]float64) *prices.Table {
	t.Helper()
	symbols := make([]string, 0, len(cols))
	for s := range cols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	tbl, err := prices.NewTable(dates, symbols, cols)
	require.NoError(t, err)
	return tbl
}

func growth(n int, start, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * math.Pow(1+rate, float64(i))
	}
	return out
}

// wave is a trending series with a sinusoidal swing, so momentum and
// volatility change over time.
func wave(n int, start, drift, amp, period, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = start * (1 + drift*x) * (1 + amp*math.Sin(x/period+phase))
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type targetFunc func(hist *prices.Table, state regime.State) ([]Target, error)

func (f targetFunc) Targets(hist *prices.Table, state regime.State) ([]Target, error) {
	return f(hist, state)
}
