package persistence

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/regime"
)

func TestTimeRangeContains(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tr   TimeRange
		at   time.Time
		want bool
	}{
		{"inside", TimeRange{From: from, To: to}, from.AddDate(0, 0, 5), true},
		{"bounds_inclusive", TimeRange{From: from, To: to}, to, true},
		{"before", TimeRange{From: from, To: to}, from.AddDate(0, 0, -1), false},
		{"after", TimeRange{From: from, To: to}, to.AddDate(0, 0, 1), false},
		{"open_start", TimeRange{To: to}, from.AddDate(-5, 0, 0), true},
		{"open_both", TimeRange{}, to.AddDate(5, 0, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tr.Contains(tt.at))
		})
	}
}

func TestSummarize(t *testing.T) {
	d0 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	res := &backtest.Result{
		RunID:    uuid.New(),
		Schedule: "W-FRI",
		NAV:      []backtest.NavPoint{{Date: d0, NAV: 100}, {Date: d0.AddDate(0, 0, 3), NAV: 105}},
		Trades:   []backtest.TradeRecord{{Symbol: "SPY"}},
		Stats:    backtest.Stats{Sharpe: 2},
	}
	s := Summarize(res)
	assert.Equal(t, res.RunID, s.ID)
	assert.Equal(t, d0, s.StartDate)
	assert.Equal(t, 105.0, s.FinalNAV)
	assert.Equal(t, 2, s.Days)
	assert.Equal(t, 1, s.TradeCount)
	assert.Equal(t, 2.0, s.Stats["Sharpe"])

	empty := Summarize(&backtest.Result{})
	assert.True(t, empty.StartDate.IsZero())
	assert.Zero(t, empty.FinalNAV)
}

func TestSnapshotOf(t *testing.T) {
	asOf := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	s := SnapshotOf(regime.State{
		Label:      regime.Neutral,
		RiskBudget: 0.6,
		AsOf:       asOf,
		Detail:     regime.Detail{Benchmark: "SPY", Price: 480, MovingAverage: math.NaN(), Fear: math.NaN()},
	})
	assert.Equal(t, "NEUTRAL", s.Regime)
	assert.Equal(t, "SPY", s.Benchmark)
	assert.Equal(t, asOf, s.AsOf)
	assert.Nil(t, s.Signals["ma200"])
	assert.Equal(t, 480.0, s.Signals["price"])
}
