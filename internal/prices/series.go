package prices

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Series is an immutable date-indexed sequence of values, used for the
// optional fear-index input.
type Series struct {
	dates  []time.Time
	values []float64
}

// NewSeries validates ordering and copies the inputs.
func NewSeries(dates []time.Time, values []float64) (*Series, error) {
	if len(dates) != len(values) {
		return nil, fmt.Errorf("series has %d dates and %d values", len(dates), len(values))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("series dates must be strictly increasing at %s", dates[i].Format(DateLayout))
		}
	}
	return &Series{
		dates:  append([]time.Time(nil), dates...),
		values: append([]float64(nil), values...),
	}, nil
}

// SeriesFromColumn lifts one table column into a Series.
func SeriesFromColumn(t *Table, sym string) (*Series, bool) {
	col, ok := t.Column(sym)
	if !ok {
		return nil, false
	}
	return &Series{dates: t.Dates(), values: col}, true
}

// Len returns the number of observations. A nil series has none.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.dates)
}

// Until returns the observations dated on or before d. A nil series stays nil.
func (s *Series) Until(d time.Time) *Series {
	if s == nil {
		return nil
	}
	n := sort.Search(len(s.dates), func(k int) bool { return s.dates[k].After(d) })
	return &Series{dates: s.dates[:n:n], values: s.values[:n:n]}
}

// Latest returns the most recent finite value.
func (s *Series) Latest() (float64, bool) {
	if s == nil {
		return math.NaN(), false
	}
	for i := len(s.values) - 1; i >= 0; i-- {
		if v := s.values[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return math.NaN(), false
}
