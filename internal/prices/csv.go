package prices

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by CSV files and logs.
const DateLayout = "2006-01-02"

// LoadCSV reads a wide CSV file: a header of "date" followed by one column
// per symbol, then one row per trading day. Blank and "NaN" cells are missing
// observations. Rows may arrive in any order; duplicates are rejected.
func LoadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "date") {
		return nil, fmt.Errorf("header must start with a date column followed by symbols")
	}
	symbols := make([]string, 0, len(header)-1)
	for _, h := range header[1:] {
		symbols = append(symbols, strings.TrimSpace(h))
	}

	type row struct {
		date   time.Time
		values []float64
	}
	var rows []row
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		d, err := time.Parse(DateLayout, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: parse date: %w", line, err)
		}
		values := make([]float64, len(symbols))
		for k := range symbols {
			values[k] = parseCell(rec[k+1])
		}
		rows = append(rows, row{date: d, values: values})
	}

	sort.SliceStable(rows, func(a, b int) bool { return rows[a].date.Before(rows[b].date) })

	dates := make([]time.Time, len(rows))
	columns := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		columns[sym] = make([]float64, len(rows))
	}
	for i, r := range rows {
		dates[i] = r.date
		for k, sym := range symbols {
			columns[sym][i] = r.values[k]
		}
	}
	return NewTable(dates, symbols, columns)
}

// WriteCSV writes t in the layout LoadCSV reads.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	header := append([]string{"date"}, t.symbols...)
	if err := writer.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for i, d := range t.dates {
		rec[0] = d.Format(DateLayout)
		for j := range t.symbols {
			v := t.cols[j][i]
			if math.IsNaN(v) {
				rec[j+1] = ""
			} else {
				rec[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseCell(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
