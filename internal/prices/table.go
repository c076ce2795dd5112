// Package prices holds the date-indexed price table consumed by the strategy
// core together with the loaders that hand data to it.
package prices

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/etftrend/internal/faults"
)

// Table is an immutable date-indexed table with one price column per symbol.
// Dates are strictly increasing. Missing observations are NaN.
type Table struct {
	dates   []time.Time
	symbols []string
	index   map[string]int
	cols    [][]float64
}

// NewTable validates and copies the supplied columns into a Table.
func NewTable(dates []time.Time, symbols []string, columns map[string][]float64) (*Table, error) {
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("dates must be strictly increasing: %s follows %s",
				dates[i].Format(DateLayout), dates[i-1].Format(DateLayout))
		}
	}

	t := &Table{
		dates:   append([]time.Time(nil), dates...),
		symbols: make([]string, 0, len(symbols)),
		index:   make(map[string]int, len(symbols)),
		cols:    make([][]float64, 0, len(symbols)),
	}
	for _, sym := range symbols {
		if _, dup := t.index[sym]; dup {
			return nil, fmt.Errorf("duplicate symbol %q", sym)
		}
		col, ok := columns[sym]
		if !ok {
			return nil, fmt.Errorf("symbol %q has no column", sym)
		}
		if len(col) != len(dates) {
			return nil, fmt.Errorf("symbol %q has %d values for %d dates", sym, len(col), len(dates))
		}
		t.index[sym] = len(t.symbols)
		t.symbols = append(t.symbols, sym)
		t.cols = append(t.cols, append([]float64(nil), col...))
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.dates) }

// Date returns the date of row i.
func (t *Table) Date(i int) time.Time { return t.dates[i] }

// Dates returns a copy of the row dates.
func (t *Table) Dates() []time.Time { return append([]time.Time(nil), t.dates...) }

// Symbols returns a copy of the column order.
func (t *Table) Symbols() []string { return append([]string(nil), t.symbols...) }

// Has reports whether the table carries a column for sym.
func (t *Table) Has(sym string) bool {
	_, ok := t.index[sym]
	return ok
}

// First and Last return the boundary dates. Both are zero on an empty table.
func (t *Table) First() time.Time {
	if len(t.dates) == 0 {
		return time.Time{}
	}
	return t.dates[0]
}

func (t *Table) Last() time.Time {
	if len(t.dates) == 0 {
		return time.Time{}
	}
	return t.dates[len(t.dates)-1]
}

// Column returns a copy of the price column for sym.
func (t *Table) Column(sym string) ([]float64, bool) {
	j, ok := t.index[sym]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), t.cols[j]...), true
}

// Price returns the price of sym on row i, or ErrMissingPrice when the column
// is absent or the observation is not a positive finite number.
func (t *Table) Price(sym string, i int) (float64, error) {
	j, ok := t.index[sym]
	if !ok || i < 0 || i >= len(t.dates) {
		return math.NaN(), fmt.Errorf("%s row %d: %w", sym, i, faults.ErrMissingPrice)
	}
	p := t.cols[j][i]
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return math.NaN(), fmt.Errorf("%s on %s: %w", sym, t.dates[i].Format(DateLayout), faults.ErrMissingPrice)
	}
	return p, nil
}

// IndexOf returns the row holding date d.
func (t *Table) IndexOf(d time.Time) (int, bool) {
	i := sort.Search(len(t.dates), func(k int) bool { return !t.dates[k].Before(d) })
	if i < len(t.dates) && t.dates[i].Equal(d) {
		return i, true
	}
	return -1, false
}

// Until returns the rows dated on or before d. The result shares storage
// with t, which is safe because neither is ever mutated.
func (t *Table) Until(d time.Time) *Table {
	n := sort.Search(len(t.dates), func(k int) bool { return t.dates[k].After(d) })
	return t.rows(0, n)
}

// Between returns the rows dated within [start, end].
func (t *Table) Between(start, end time.Time) *Table {
	lo := sort.Search(len(t.dates), func(k int) bool { return !t.dates[k].Before(start) })
	hi := sort.Search(len(t.dates), func(k int) bool { return t.dates[k].After(end) })
	if hi < lo {
		hi = lo
	}
	return t.rows(lo, hi)
}

// Tail returns the last n rows.
func (t *Table) Tail(n int) *Table {
	if n >= len(t.dates) {
		return t
	}
	if n < 0 {
		n = 0
	}
	return t.rows(len(t.dates)-n, len(t.dates))
}

// Select returns a table restricted to the given symbols, in that order.
// Unknown symbols are skipped.
func (t *Table) Select(symbols []string) *Table {
	out := &Table{
		dates: t.dates,
		index: make(map[string]int, len(symbols)),
	}
	for _, sym := range symbols {
		j, ok := t.index[sym]
		if !ok {
			continue
		}
		if _, dup := out.index[sym]; dup {
			continue
		}
		out.index[sym] = len(out.symbols)
		out.symbols = append(out.symbols, sym)
		out.cols = append(out.cols, t.cols[j])
	}
	return out
}

func (t *Table) rows(lo, hi int) *Table {
	out := &Table{
		dates:   t.dates[lo:hi:hi],
		symbols: t.symbols,
		index:   t.index,
		cols:    make([][]float64, len(t.cols)),
	}
	for j, col := range t.cols {
		out.cols[j] = col[lo:hi:hi]
	}
	return out
}

// ReturnRows computes simple daily returns for symbols and keeps only rows in
// which every symbol has a finite return. At most maxRows trailing rows are
// returned; maxRows <= 0 keeps all of them. Row k holds one value per symbol.
func (t *Table) ReturnRows(symbols []string, maxRows int) [][]float64 {
	cols := make([][]float64, len(symbols))
	for k, sym := range symbols {
		j, ok := t.index[sym]
		if !ok {
			return nil
		}
		cols[k] = t.cols[j]
	}

	var rows [][]float64
	for i := 1; i < len(t.dates); i++ {
		row := make([]float64, len(symbols))
		complete := true
		for k, col := range cols {
			r := col[i]/col[i-1] - 1
			if math.IsNaN(r) || math.IsInf(r, 0) {
				complete = false
				break
			}
			row[k] = r
		}
		if complete {
			rows = append(rows, row)
		}
	}
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[len(rows)-maxRows:]
	}
	return rows
}

// FillMissing returns a copy of t with gaps forward filled and any leading
// gap back filled from the first observation.
func FillMissing(t *Table) *Table {
	columns := make(map[string][]float64, len(t.symbols))
	for j, sym := range t.symbols {
		col := append([]float64(nil), t.cols[j]...)
		last := math.NaN()
		for i, v := range col {
			if math.IsNaN(v) {
				col[i] = last
			} else {
				last = v
			}
		}
		next := math.NaN()
		for i := len(col) - 1; i >= 0; i-- {
			if math.IsNaN(col[i]) {
				col[i] = next
			} else {
				next = col[i]
			}
		}
		columns[sym] = col
	}
	out, _ := NewTable(t.dates, t.symbols, columns)
	return out
}
