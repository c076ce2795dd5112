// Package backtest replays the strategy day by day against a cash and share
// ledger, and also provides a vectorised weights engine for quick studies.
package backtest

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/metrics"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
	"github.com/sawpanic/etftrend/internal/selector"
)

// Config holds simulator settings
type Config struct {
	InitialCapital     float64       `yaml:"initial_capital"`      // Default: 100000
	CostBps            float64       `yaml:"cost_bps"`             // Default: 10
	Rebalance          string        `yaml:"rebalance"`            // Default: W-FRI
	Benchmark          string        `yaml:"benchmark"`            // Default: SPY
	MaxCandidateWeight float64       `yaml:"max_candidate_weight"` // Default: 0.25
	ChurnThreshold     float64       `yaml:"churn_threshold"`      // fraction of investable NAV, default 0.01
	ProgressInterval   time.Duration `yaml:"progress_interval"`    // Default: 5s
}

// DefaultConfig returns the default simulator settings
func DefaultConfig() Config {
	return Config{
		InitialCapital:     100000,
		CostBps:            10,
		Rebalance:          "W-FRI",
		Benchmark:          "SPY",
		MaxCandidateWeight: 0.25,
		ChurnThreshold:     0.01,
		ProgressInterval:   5 * time.Second,
	}
}

// Validate checks the simulator settings
func (c Config) Validate() error {
	if !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0) {
		return faults.Configf("backtest.initial_capital", c.InitialCapital, "must be positive and finite")
	}
	if c.CostBps < 0 || math.IsNaN(c.CostBps) {
		return faults.Configf("backtest.cost_bps", c.CostBps, "must not be negative")
	}
	if _, err := ParseSchedule(c.Rebalance); err != nil {
		return err
	}
	if c.Benchmark == "" {
		return faults.Configf("backtest.benchmark", c.Benchmark, "must be set")
	}
	if !(c.MaxCandidateWeight > 0 && c.MaxCandidateWeight <= 1) {
		return faults.Configf("backtest.max_candidate_weight", c.MaxCandidateWeight, "must be in (0, 1]")
	}
	if !(c.ChurnThreshold >= 0 && c.ChurnThreshold < 1) {
		return faults.Configf("backtest.churn_threshold", c.ChurnThreshold, "must be in [0, 1)")
	}
	return nil
}

// Side is the direction of a trade
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TradeRecord is one executed order
type TradeRecord struct {
	Date     time.Time `json:"date"`
	Symbol   string    `json:"symbol"`
	Action   Side      `json:"action"`
	Shares   int64     `json:"shares"`
	Price    float64   `json:"price"`
	Notional float64   `json:"notional"`
	Cost     float64   `json:"cost"`
}

// NavPoint is the marked value of the ledger at the open of a day's decisions
type NavPoint struct {
	Date time.Time `json:"date"`
	NAV  float64   `json:"nav"`
}

// PositionSnapshot is the ledger right after a rebalance
type PositionSnapshot struct {
	Date       time.Time        `json:"date"`
	Regime     regime.Label     `json:"regime"`
	RiskBudget float64          `json:"risk_budget"`
	Cash       float64          `json:"cash"`
	Shares     map[string]int64 `json:"shares"`
}

// Result is the output of one simulation run. Returns, Drawdown, Turnover
// and Cost are aligned with NAV.
type Result struct {
	RunID     uuid.UUID          `json:"run_id"`
	Schedule  string             `json:"schedule"`
	NAV       []NavPoint         `json:"nav"`
	Returns   []float64          `json:"returns"`
	Drawdown  []float64          `json:"drawdown"`
	Turnover  []float64          `json:"turnover"`
	Cost      []float64          `json:"cost"`
	Positions []PositionSnapshot `json:"positions"`
	Trades    []TradeRecord      `json:"trades"`
	Stats     Stats              `json:"stats"`
	Ledger    Ledger             `json:"ledger"`
}

// Values returns the NAV series without dates.
func (r *Result) Values() []float64 {
	out := make([]float64, len(r.NAV))
	for i, p := range r.NAV {
		out[i] = p.NAV
	}
	return out
}

// Simulator walks a price table forward in time. It holds no run state, so
// one Simulator can execute many runs; each run owns its ledger.
type Simulator struct {
	cfg       Config
	table     *prices.Table
	schedule  Schedule
	flags     []bool
	regimeCfg regime.Config
	fear      *prices.Series
	targeter  Targeter
	logger    zerolog.Logger
	recorder  metrics.Recorder
}

// Option customizes a Simulator
type Option func(*Simulator)

// WithLogger sets the structured logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Simulator) { s.logger = l.With().Str("component", "backtest").Logger() }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Simulator) { s.recorder = r }
}

// WithFear supplies the fear index used by regime detection
func WithFear(fear *prices.Series) Option {
	return func(s *Simulator) { s.fear = fear }
}

// WithRegimeConfig overrides the regime classifier settings
func WithRegimeConfig(c regime.Config) Option {
	return func(s *Simulator) { s.regimeCfg = c }
}

// WithTargeter sets the target weight policy
func WithTargeter(t Targeter) Option {
	return func(s *Simulator) { s.targeter = t }
}

// WithSelector uses sel with the equal-split candidate policy
func WithSelector(sel selector.Selector) Option {
	return func(s *Simulator) {
		s.targeter = CandidateTargets{Selector: sel, MaxWeight: s.cfg.MaxCandidateWeight}
	}
}

// New validates cfg against table and builds a Simulator. Without a target
// policy it trades every non-benchmark symbol of the table as candidates.
func New(table *prices.Table, cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil || table.Len() == 0 {
		return nil, &faults.InsufficientDataError{What: "price rows", Have: 0, Need: 1}
	}
	if !table.Has(cfg.Benchmark) {
		return nil, faults.Configf("backtest.benchmark", cfg.Benchmark, "symbol not present in price data")
	}
	schedule, _ := ParseSchedule(cfg.Rebalance)

	var pool []string
	for _, sym := range table.Symbols() {
		if sym != cfg.Benchmark {
			pool = append(pool, sym)
		}
	}
	s := &Simulator{
		cfg:       cfg,
		table:     table,
		schedule:  schedule,
		flags:     schedule.Flags(table.Dates()),
		regimeCfg: regime.DefaultConfig(),
		targeter:  CandidateTargets{Selector: selector.Static{Symbols: pool}, MaxWeight: cfg.MaxCandidateWeight},
		logger:    zerolog.Nop(),
		recorder:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.regimeCfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the simulator configuration
func (s *Simulator) Config() Config { return s.cfg }

// Run simulates [start, end] from an all-cash ledger. Zero bounds mean the
// first or last row of the table.
func (s *Simulator) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	return s.Continue(ctx, NewLedger(s.cfg.InitialCapital), start, end)
}

// Continue simulates [start, end] starting from a copy of ledger. Rebalance
// days and every decision depend only on the table and the date, so running
// [a, m] then continuing [m+1, b] from the first run's ledger reproduces a
// single run over [a, b].
func (s *Simulator) Continue(ctx context.Context, ledger Ledger, start, end time.Time) (*Result, error) {
	lo, hi := s.bounds(start, end)
	if lo > hi {
		return nil, faults.Configf("backtest.range", start.Format(prices.DateLayout)+".."+end.Format(prices.DateLayout), "no trading days in range")
	}

	l := ledger.Clone()
	res := &Result{
		RunID:    uuid.New(),
		Schedule: s.schedule.String(),
	}
	n := hi - lo + 1
	navs := make([]float64, 0, n)
	res.NAV = make([]NavPoint, 0, n)
	res.Turnover = make([]float64, 0, n)
	res.Cost = make([]float64, 0, n)

	log := s.logger.With().Str("run_id", res.RunID.String()).Logger()
	progress := rate.Sometimes{First: 1, Interval: s.cfg.ProgressInterval}
	started := time.Now()

	log.Info().
		Str("start", s.table.Date(lo).Format(prices.DateLayout)).
		Str("end", s.table.Date(hi).Format(prices.DateLayout)).
		Str("schedule", res.Schedule).
		Int("days", n).
		Msg("Backtest started")

	for i := lo; i <= hi; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		date := s.table.Date(i)

		nav, missing := l.Value(s.table, i)
		for _, sym := range missing {
			log.Debug().Str("symbol", sym).Time("date", date).Msg("Held symbol has no price, excluded from valuation")
			s.recorder.SkippedSymbol(metrics.ReasonMissingPrice)
		}
		res.NAV = append(res.NAV, NavPoint{Date: date, NAV: nav})
		navs = append(navs, nav)

		turnover, cost := 0.0, 0.0
		if s.flags[i] {
			step, err := s.rebalance(log, &l, i, nav)
			if err != nil {
				return nil, err
			}
			res.Trades = append(res.Trades, step.trades...)
			if step.snapshot != nil {
				res.Positions = append(res.Positions, *step.snapshot)
			}
			if nav > 0 {
				turnover = step.traded / nav
				cost = step.cost / nav
			}
		}
		res.Turnover = append(res.Turnover, turnover)
		res.Cost = append(res.Cost, cost)
		s.recorder.SimulatedDay(nav)

		progress.Do(func() {
			log.Info().
				Time("date", date).
				Float64("nav", nav).
				Int("day", i-lo+1).
				Int("days", n).
				Msg("Backtest progress")
		})
	}

	res.Returns = DailyReturns(navs)
	res.Drawdown = Drawdown(navs)
	res.Stats = ComputeStats(navs, res.Returns, res.Turnover, res.Cost)
	res.Ledger = l

	log.Info().
		Int("trades", len(res.Trades)).
		Float64("ann_return", res.Stats.AnnReturn).
		Float64("max_drawdown", res.Stats.MaxDrawdown).
		Dur("elapsed", time.Since(started)).
		Msg("Backtest completed")
	return res, nil
}

func (s *Simulator) bounds(start, end time.Time) (int, int) {
	dates := s.table.Dates()
	lo, hi := 0, len(dates)-1
	if !start.IsZero() {
		lo = sort.Search(len(dates), func(i int) bool { return !dates[i].Before(start) })
	}
	if !end.IsZero() {
		hi = sort.Search(len(dates), func(i int) bool { return dates[i].After(end) }) - 1
	}
	return lo, hi
}

type rebalanceStep struct {
	trades   []TradeRecord
	snapshot *PositionSnapshot
	traded   float64
	cost     float64
}

// rebalance trades l toward the targets computed from history up to row i.
// Only configuration errors are returned; any other failure skips the
// rebalance and leaves l untouched.
func (s *Simulator) rebalance(log zerolog.Logger, l *Ledger, i int, nav float64) (rebalanceStep, error) {
	var step rebalanceStep
	date := s.table.Date(i)
	hist := s.table.Until(date)

	state, err := regime.Detect(s.regimeCfg, hist, s.fear, s.cfg.Benchmark)
	if err != nil {
		return step, err
	}
	targets, err := s.targeter.Targets(hist, state)
	if err != nil {
		if faults.IsConfig(err) {
			return step, err
		}
		log.Warn().Err(err).Time("date", date).Msg("Target computation failed, rebalance skipped")
		s.recorder.Fallback(metrics.ReasonTargetError)
		return step, nil
	}
	if len(targets) == 0 {
		log.Debug().Time("date", date).Str("regime", state.Label.String()).Msg("No candidates, moving to cash")
		s.recorder.Fallback(metrics.ReasonEmptyCandidates)
	}
	s.recorder.Rebalance(state.Label.String(), state.RiskBudget)

	want := make(map[string]float64, len(targets))
	for _, t := range targets {
		want[t.Symbol] = t.Weight
	}

	record := func(sym string, side Side, shares int64, price float64) {
		notional := float64(shares) * price
		fee := tradeCost(notional, s.cfg.CostBps)
		step.trades = append(step.trades, TradeRecord{
			Date: date, Symbol: sym, Action: side, Shares: shares,
			Price: price, Notional: notional, Cost: fee,
		})
		step.traded += notional
		step.cost += fee
		s.recorder.Trade(string(side), notional, fee)
	}

	// liquidation pass
	for _, sym := range l.Symbols() {
		if want[sym] > 0 {
			continue
		}
		price, err := s.table.Price(sym, i)
		if err != nil {
			log.Debug().Str("symbol", sym).Time("date", date).Msg("No price, liquidation deferred")
			s.recorder.SkippedSymbol(metrics.ReasonMissingPrice)
			continue
		}
		shares := l.Positions[sym]
		l.credit(float64(shares)*price - tradeCost(float64(shares)*price, s.cfg.CostBps))
		delete(l.Positions, sym)
		record(sym, Sell, shares, price)
	}

	investable, _ := l.Value(s.table, i)
	for _, t := range targets {
		if !(t.Weight > 0) {
			continue
		}
		price, err := s.table.Price(t.Symbol, i)
		if err != nil {
			log.Debug().Str("symbol", t.Symbol).Time("date", date).Msg("No price, target skipped")
			s.recorder.SkippedSymbol(metrics.ReasonMissingPrice)
			continue
		}
		held := l.Positions[t.Symbol]
		diff := investable*t.Weight - float64(held)*price
		if math.Abs(diff) <= s.cfg.ChurnThreshold*investable {
			continue
		}
		delta := int64(diff / price)
		switch {
		case delta > 0:
			notional := float64(delta) * price
			total := notional + tradeCost(notional, s.cfg.CostBps)
			if !l.covers(total) {
				log.Debug().Str("symbol", t.Symbol).Time("date", date).Float64("needed", total).Msg("Insufficient cash, buy skipped")
				s.recorder.SkippedSymbol(metrics.ReasonInsufficientCash)
				continue
			}
			l.debit(total)
			l.Positions[t.Symbol] = held + delta
			record(t.Symbol, Buy, delta, price)
		case delta < 0:
			shares := -delta
			notional := float64(shares) * price
			l.credit(notional - tradeCost(notional, s.cfg.CostBps))
			if held-shares == 0 {
				delete(l.Positions, t.Symbol)
			} else {
				l.Positions[t.Symbol] = held - shares
			}
			record(t.Symbol, Sell, shares, price)
		}
	}

	snap := l.Clone()
	step.snapshot = &PositionSnapshot{
		Date:       date,
		Regime:     state.Label,
		RiskBudget: state.RiskBudget,
		Cash:       snap.Cash.InexactFloat64(),
		Shares:     snap.Positions,
	}
	log.Debug().
		Time("date", date).
		Str("regime", state.Label.String()).
		Float64("risk_budget", state.RiskBudget).
		Int("trades", len(step.trades)).
		Msg("Rebalanced")
	return step, nil
}
