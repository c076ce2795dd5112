package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/metrics"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
	"github.com/sawpanic/etftrend/internal/selector"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.25, cfg.MaxCandidateWeight)
	assert.Equal(t, 0.01, cfg.ChurnThreshold)
	assert.Equal(t, "W-FRI", cfg.Rebalance)
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"backtest.initial_capital", func(c *Config) { c.InitialCapital = 0 }},
		{"backtest.initial_capital", func(c *Config) { c.InitialCapital = math.Inf(1) }},
		{"backtest.initial_capital", func(c *Config) { c.InitialCapital = math.NaN() }},
		{"backtest.cost_bps", func(c *Config) { c.CostBps = -1 }},
		{"backtest.rebalance", func(c *Config) { c.Rebalance = "Q" }},
		{"backtest.benchmark", func(c *Config) { c.Benchmark = "" }},
		{"backtest.max_candidate_weight", func(c *Config) { c.MaxCandidateWeight = 1.5 }},
		{"backtest.churn_threshold", func(c *Config) { c.ChurnThreshold = -0.1 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		var cfgErr *faults.ConfigError
		require.True(t, errors.As(cfg.Validate(), &cfgErr), tc.field)
		assert.Equal(t, tc.field, cfgErr.Field)
	}
}

func TestNewRequiresBenchmark(t *testing.T) {
	dates := businessDays(10)
	tbl := buildTable(t, dates, map[string][]float64{"A": flat(10, 100)})

	_, err := New(tbl, DefaultConfig())
	var cfgErr *faults.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "backtest.benchmark", cfgErr.Field)
	assert.Equal(t, "SPY", cfgErr.Value)
}

func TestStaticWeightsOnRisingPrices(t *testing.T) {
	const n = 80
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": growth(n, 400, 0.001),
		"A":   growth(n, 100, 0.001),
		"B":   growth(n, 50, 0.001),
	})
	cfg := DefaultConfig()
	cfg.CostBps = 1
	sim, err := New(tbl, cfg, WithTargeter(FixedTargets{"A": 0.45, "B": 0.45}))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, res.NAV, n)

	nav := res.Values()
	assert.Equal(t, cfg.InitialCapital, nav[0])
	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, nav[i], nav[i-1]-1e-9, "nav fell on %s", dates[i].Format(prices.DateLayout))
	}
	for i, d := range res.Drawdown {
		assert.LessOrEqual(t, d, 0.0, "day %d", i)
	}

	// equal growth never drifts past the churn threshold, so only the
	// opening buys trade
	require.Len(t, res.Trades, 2)
	for i, sym := range []string{"A", "B"} {
		assert.Equal(t, dates[4], res.Trades[i].Date)
		assert.Equal(t, sym, res.Trades[i].Symbol)
		assert.Equal(t, Buy, res.Trades[i].Action)
	}
	assert.Greater(t, res.Ledger.Positions["A"], int64(0))
	assert.Greater(t, res.Ledger.Positions["B"], int64(0))

	for i, d := range dates {
		if d.Weekday() != time.Friday {
			assert.Zero(t, res.Turnover[i], "turnover on non-rebalance day %d", i)
			assert.Zero(t, res.Cost[i])
		}
	}
	assert.InDelta(t, 0.9, res.Turnover[4], 0.01)
	assert.Greater(t, res.Stats.AnnReturn, 0.0)
	assert.Len(t, res.Positions, n/5)
}

func TestSplitRunMatchesFullRun(t *testing.T) {
	const n = 320
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": wave(n, 400, 0.001, 0.08, 15, 0),
		"A":   wave(n, 100, 0.002, 0.10, 9, 1),
		"B":   wave(n, 50, 0.0005, 0.05, 13, 2),
		"C":   wave(n, 20, -0.0005, 0.12, 7, 3),
	})
	sim, err := New(tbl, DefaultConfig(), WithSelector(selector.Static{Symbols: []string{"A", "B", "C"}}))
	require.NoError(t, err)
	ctx := context.Background()

	full, err := sim.Run(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, full.Trades)

	mid := 170
	first, err := sim.Run(ctx, time.Time{}, dates[mid])
	require.NoError(t, err)
	second, err := sim.Continue(ctx, first.Ledger, dates[mid+1], time.Time{})
	require.NoError(t, err)

	assert.Equal(t, full.Trades, append(append([]TradeRecord{}, first.Trades...), second.Trades...))
	assert.Equal(t, full.NAV, append(append([]NavPoint{}, first.NAV...), second.NAV...))
	assert.Equal(t, full.Positions, append(append([]PositionSnapshot{}, first.Positions...), second.Positions...))
	assert.Equal(t, full.Ledger.Positions, second.Ledger.Positions)
	assert.True(t, full.Ledger.Cash.Equal(second.Ledger.Cash))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestContinueDoesNotMutateLedger(t *testing.T) {
	const n = 30
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": growth(n, 400, 0.001), "A": growth(n, 100, 0.001)})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(FixedTargets{"A": 0.5}))
	require.NoError(t, err)

	start := NewLedger(50000)
	_, err = sim.Continue(context.Background(), start, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, start.Positions)
	assert.Equal(t, 50000.0, start.Cash.InexactFloat64())
}

func TestEmptyCandidatesHoldCash(t *testing.T) {
	const n = 40
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": growth(n, 400, 0.001),
		"A":   growth(n, 100, 0.002),
	})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(targetFunc(func(hist *prices.Table, _ regime.State) ([]Target, error) {
		if hist.Len() < 10 {
			return []Target{{Symbol: "A", Weight: 0.5}}, nil
		}
		return nil, nil
	})))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	buy, sell := res.Trades[0], res.Trades[1]
	assert.Equal(t, Buy, buy.Action)
	assert.Equal(t, Sell, sell.Action)
	assert.Equal(t, buy.Shares, sell.Shares)
	assert.Equal(t, dates[9], sell.Date)
	assert.Empty(t, res.Ledger.Positions)

	nav := res.Values()
	for i := 10; i < n; i++ {
		assert.Equal(t, nav[10], nav[i])
	}
}

func TestNoCandidatesAtAllIsAllCash(t *testing.T) {
	const n = 20
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": growth(n, 400, 0.001)})
	sim, err := New(tbl, DefaultConfig())
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	for _, p := range res.NAV {
		assert.Equal(t, 100000.0, p.NAV)
	}
	assert.Zero(t, res.Stats.Sharpe)
	assert.Zero(t, res.Stats.Calmar)
}

func TestMissingPriceSkipsSymbol(t *testing.T) {
	const n = 20
	dates := businessDays(n)
	a := growth(n, 100, 0.001)
	a[4] = math.NaN()
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": growth(n, 400, 0.001),
		"A":   a,
		"B":   growth(n, 50, 0.001),
	})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(FixedTargets{"A": 0.4, "B": 0.4}))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	var first, second []string
	for _, tr := range res.Trades {
		switch {
		case tr.Date.Equal(dates[4]):
			first = append(first, tr.Symbol)
		case tr.Date.Equal(dates[9]):
			second = append(second, tr.Symbol)
		}
	}
	assert.Equal(t, []string{"B"}, first)
	assert.Contains(t, second, "A")
}

func TestMissingPriceExcludedFromValuation(t *testing.T) {
	const n = 12
	dates := businessDays(n)
	a := growth(n, 100, 0.001)
	a[7] = math.NaN()
	tbl := buildTable(t, dates, map[string][]float64{"SPY": growth(n, 400, 0.001), "A": a})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(FixedTargets{"A": 0.5}))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	cashAfterBuy := res.Positions[0].Cash
	assert.InDelta(t, cashAfterBuy, res.NAV[7].NAV, 1e-6)
	assert.Greater(t, res.NAV[8].NAV, res.NAV[7].NAV)
}

func TestBuyNeedsCashForCost(t *testing.T) {
	const n = 10
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": growth(n, 400, 0.001), "A": flat(n, 100)})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(FixedTargets{"A": 1.0}))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
}

// cashSkips counts buys refused for lack of cash
type cashSkips struct {
	metrics.Nop
	n int
}

func (c *cashSkips) SkippedSymbol(reason string) {
	if reason == metrics.ReasonInsufficientCash {
		c.n++
	}
}

func TestFullWeightsSkipLastBuyWhenCostWouldOverdraw(t *testing.T) {
	const n = 10
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": growth(n, 400, 0.001),
		"A":   growth(n, 100, 0.001),
		"B":   growth(n, 50, 0.001),
	})
	cfg := DefaultConfig()
	cfg.CostBps = 1
	rec := &cashSkips{}
	sim, err := New(tbl, cfg, WithTargeter(FixedTargets{"A": 0.5, "B": 0.5}), WithRecorder(rec))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	// A takes half the book plus its cost, so B's half no longer fits
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "A", res.Trades[0].Symbol)
	assert.Equal(t, Buy, res.Trades[0].Action)
	assert.Equal(t, int64(498), res.Trades[0].Shares)
	assert.Zero(t, res.Ledger.Positions["B"])
	assert.Equal(t, 2, rec.n, "B refused on both Fridays")
	assert.True(t, res.Ledger.Cash.IsPositive())
}

func TestCandidateTargetsCapEachWeight(t *testing.T) {
	const n = 30
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": growth(n, 400, 0.001),
		"A":   growth(n, 100, 0.001),
		"B":   growth(n, 50, 0.001),
	})
	ct := CandidateTargets{Selector: selector.Static{Symbols: []string{"A", "B", "A", "ZZZ"}}, MaxWeight: 0.25}

	targets, err := ct.Targets(tbl, regime.State{RiskBudget: 1.0})
	require.NoError(t, err)
	assert.Equal(t, []Target{{"A", 0.25}, {"B", 0.25}}, targets)

	targets, err = ct.Targets(tbl, regime.State{RiskBudget: 0.2})
	require.NoError(t, err)
	assert.Equal(t, []Target{{"A", 0.1}, {"B", 0.1}}, targets)
}

func TestTargetErrorSkipsRebalance(t *testing.T) {
	const n = 15
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": growth(n, 400, 0.001), "A": growth(n, 100, 0.001)})

	failing := targetFunc(func(*prices.Table, regime.State) ([]Target, error) {
		return nil, errors.New("selector unavailable")
	})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(failing), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Positions)

	fatal := targetFunc(func(*prices.Table, regime.State) ([]Target, error) {
		return nil, faults.Configf("selector.pool", "", "empty")
	})
	sim, err = New(tbl, DefaultConfig(), WithTargeter(fatal))
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), time.Time{}, time.Time{})
	assert.True(t, faults.IsConfig(err))
}

func TestRebalanceSeesNoFutureRows(t *testing.T) {
	const n = 25
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": growth(n, 400, 0.001), "A": growth(n, 100, 0.001)})

	var seen []time.Time
	spy := targetFunc(func(hist *prices.Table, state regime.State) ([]Target, error) {
		seen = append(seen, hist.Last())
		assert.Equal(t, hist.Last(), state.AsOf)
		return nil, nil
	})
	sim, err := New(tbl, DefaultConfig(), WithTargeter(spy))
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{dates[4], dates[9], dates[14], dates[19], dates[24]}, seen)
}

func TestRunWithAllocatorTargets(t *testing.T) {
	const n = 300
	dates := businessDays(n)
	tbl := buildTable(t, dates, map[string][]float64{
		"SPY": wave(n, 400, 0.001, 0.05, 20, 0),
		"A":   wave(n, 100, 0.002, 0.08, 9, 1),
		"B":   wave(n, 50, 0.001, 0.06, 11, 2),
		"C":   wave(n, 80, 0.0002, 0.02, 17, 3),
	})
	acfg := allocator.DefaultConfig()
	acfg.EquitySymbols = []string{"SPY", "A", "B"}
	acfg.DefensiveSymbols = []string{"C"}
	alloc, err := allocator.New(acfg)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Rebalance = "ME"
	sim, err := New(tbl, cfg, WithTargeter(AllocatorTargets{Allocator: alloc}))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Trades)
	assert.Len(t, res.Positions, len(MonthEndDates(dates)))
	for _, p := range res.NAV {
		assert.Greater(t, p.NAV, 0.0)
	}
}

func TestRunRejectsEmptyRange(t *testing.T) {
	dates := businessDays(5)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": flat(5, 1)})
	sim, err := New(tbl, DefaultConfig())
	require.NoError(t, err)

	_, err = sim.Run(context.Background(), dates[4].AddDate(0, 0, 1), time.Time{})
	assert.True(t, faults.IsConfig(err))
}

func TestRunHonorsCancellation(t *testing.T) {
	dates := businessDays(5)
	tbl := buildTable(t, dates, map[string][]float64{"SPY": flat(5, 1)})
	sim, err := New(tbl, DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Run(ctx, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}
