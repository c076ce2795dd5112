package backtest

import (
	"strings"
	"time"

	"github.com/sawpanic/etftrend/internal/faults"
)

// Frequency is a rebalance calendar rule
type Frequency int

const (
	Weekly Frequency = iota
	MonthEnd
	Daily
)

func (f Frequency) String() string {
	switch f {
	case Weekly:
		return "weekly"
	case MonthEnd:
		return "month_end"
	case Daily:
		return "daily"
	default:
		return "unknown"
	}
}

// Schedule decides which trading days are rebalance days. Weekly schedules
// fire on trading days falling on Weekday; a holiday on that weekday skips
// the week. MonthEnd fires on the last trading day of each calendar month.
type Schedule struct {
	Frequency Frequency
	Weekday   time.Weekday
}

var weekdays = map[string]time.Weekday{
	"MON": time.Monday, "TUE": time.Tuesday, "WED": time.Wednesday,
	"THU": time.Thursday, "FRI": time.Friday,
}

// ParseSchedule accepts D, W (Friday), W-MON..W-FRI, M and ME.
func ParseSchedule(rule string) (Schedule, error) {
	r := strings.ToUpper(strings.TrimSpace(rule))
	switch r {
	case "D":
		return Schedule{Frequency: Daily}, nil
	case "W":
		return Schedule{Frequency: Weekly, Weekday: time.Friday}, nil
	case "M", "ME":
		return Schedule{Frequency: MonthEnd}, nil
	}
	if strings.HasPrefix(r, "W-") {
		if wd, ok := weekdays[strings.TrimPrefix(r, "W-")]; ok {
			return Schedule{Frequency: Weekly, Weekday: wd}, nil
		}
	}
	return Schedule{}, faults.Configf("backtest.rebalance", rule, "want D, W, W-MON..W-FRI, M or ME")
}

func (s Schedule) String() string {
	switch s.Frequency {
	case Weekly:
		return "W-" + strings.ToUpper(s.Weekday.String()[:3])
	case MonthEnd:
		return "ME"
	case Daily:
		return "D"
	}
	return "unknown"
}

// Flags marks the rebalance days of a trading calendar.
func (s Schedule) Flags(dates []time.Time) []bool {
	out := make([]bool, len(dates))
	switch s.Frequency {
	case Daily:
		for i := range out {
			out[i] = true
		}
	case Weekly:
		for i, d := range dates {
			out[i] = d.Weekday() == s.Weekday
		}
	case MonthEnd:
		for i, d := range dates {
			last := i == len(dates)-1
			if last || !sameMonth(d, dates[i+1]) {
				out[i] = true
			}
		}
	}
	return out
}

// MonthEndDates returns the last trading day of every month in dates. The
// final date counts as the end of its (possibly partial) month.
func MonthEndDates(dates []time.Time) []time.Time {
	flags := Schedule{Frequency: MonthEnd}.Flags(dates)
	var out []time.Time
	for i, f := range flags {
		if f {
			out = append(out, dates[i])
		}
	}
	return out
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
