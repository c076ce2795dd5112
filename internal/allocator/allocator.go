// Package allocator turns a regime reading into concrete portfolio weights:
// top-N momentum selection per bucket, inverse-volatility or solver-backed
// weighting, then single-asset and core-group exposure caps.
package allocator

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/metrics"
	"github.com/sawpanic/etftrend/internal/optimizer"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
	"github.com/sawpanic/etftrend/internal/signals"
)

// Metadata summarizes an allocation
type Metadata struct {
	AsOf            time.Time `json:"as_of_date"`
	EquityBudget    float64   `json:"equity_budget"`
	DefensiveBudget float64   `json:"defensive_budget"`
	EquityCount     int       `json:"equity_count"`
	DefensiveCount  int       `json:"defensive_count"`
	TotalWeight     float64   `json:"total_weight"`
}

// Allocation is the immutable output of one Allocate call
type Allocation struct {
	Weights          Weights      `json:"weights"`
	EquityWeights    Weights      `json:"equity_weights"`
	DefensiveWeights Weights      `json:"defensive_weights"`
	Regime           regime.Label `json:"regime"`
	RiskBudget       float64      `json:"risk_budget"`
	Metadata         Metadata     `json:"metadata"`
}

// Allocator holds immutable configuration and collaborators. It is safe for
// concurrent use.
type Allocator struct {
	cfg      Config
	solver   optimizer.Config
	signals  signals.Provider
	logger   zerolog.Logger
	recorder metrics.Recorder
}

// Option customizes an Allocator
type Option func(*Allocator)

// WithLogger sets the structured logger
func WithLogger(l zerolog.Logger) Option {
	return func(a *Allocator) { a.logger = l.With().Str("component", "allocator").Logger() }
}

// WithSolverConfig overrides the constrained solver settings
func WithSolverConfig(c optimizer.Config) Option {
	return func(a *Allocator) { a.solver = c }
}

// WithSignals replaces the momentum and volatility provider
func WithSignals(p signals.Provider) Option {
	return func(a *Allocator) { a.signals = p }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r metrics.Recorder) Option {
	return func(a *Allocator) { a.recorder = r }
}

// New validates cfg and builds an Allocator
func New(cfg Config, opts ...Option) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Allocator{
		cfg:    cfg,
		solver: optimizer.DefaultConfig(),
		signals: signals.Standard{
			MomentumWindows: cfg.MomentumWindows,
			MomentumWeights: cfg.MomentumWeights,
			VolLookback:     cfg.VolLookback,
		},
		logger:   zerolog.Nop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.solver.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the allocator configuration
func (a *Allocator) Config() Config { return a.cfg }

// Allocate computes target weights as of asOf from the rows of hist dated on
// or before asOf. A zero asOf means the last row. Buckets with no valid
// symbol contribute nothing; the unallocated remainder is cash.
func (a *Allocator) Allocate(hist *prices.Table, state regime.State, asOf time.Time) (Allocation, error) {
	if asOf.IsZero() {
		asOf = hist.Last()
	}
	view := hist.Until(asOf)
	budget := a.cfg.Budgets.For(state.Label)

	equity, err := a.bucket(view, a.cfg.EquitySymbols, budget.Equity, a.cfg.TopNEquity)
	if err != nil {
		return Allocation{}, err
	}
	defensive, err := a.bucket(view, a.cfg.DefensiveSymbols, budget.Defensive, a.cfg.TopNDefensive)
	if err != nil {
		return Allocation{}, err
	}

	merged := make(Weights, len(equity)+len(defensive))
	for s, w := range equity {
		merged[s] = w
	}
	for s, w := range defensive {
		merged[s] = w
	}
	final := ApplyConstraints(merged, Constraints{
		MaxSingle: a.cfg.MaxWeightSingle,
		MaxCore:   a.cfg.MaxWeightCore,
		Core:      a.cfg.CoreSymbols,
		MinWeight: a.cfg.MinWeight,
	})

	out := Allocation{
		Weights:          final,
		EquityWeights:    equity,
		DefensiveWeights: defensive,
		Regime:           state.Label,
		RiskBudget:       state.RiskBudget,
		Metadata: Metadata{
			AsOf:            asOf,
			EquityBudget:    budget.Equity,
			DefensiveBudget: budget.Defensive,
			EquityCount:     len(equity),
			DefensiveCount:  len(defensive),
			TotalWeight:     final.Sum(),
		},
	}
	a.logger.Debug().
		Str("as_of", out.Metadata.AsOf.Format(prices.DateLayout)).
		Str("regime", state.Label.String()).
		Int("equity_count", out.Metadata.EquityCount).
		Int("defensive_count", out.Metadata.DefensiveCount).
		Float64("total_weight", out.Metadata.TotalWeight).
		Msg("allocation computed")
	return out, nil
}

// bucket selects and weights one asset bucket, scaled to budget.
func (a *Allocator) bucket(hist *prices.Table, symbols []string, budget float64, topN int) (Weights, error) {
	momentum := make(map[string]float64, len(symbols))
	volatility := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if !hist.Has(s) {
			continue
		}
		momentum[s] = a.signals.Momentum(hist, s)
		volatility[s] = a.signals.Volatility(hist, s)
	}

	top := SelectTopN(symbols, momentum, volatility, topN)
	if len(top) == 0 {
		return Weights{}, nil
	}

	var base Weights
	objective, solverBacked := a.cfg.Method.objective()
	switch {
	case !solverBacked:
		base = InverseVolWeights(top, volatility)
	default:
		w, err := a.solve(hist, top, objective)
		if err != nil {
			return nil, err
		}
		base = w
	}

	out := make(Weights, len(base))
	for s, w := range base {
		out[s] = w * budget
	}
	return out, nil
}

// solve runs the constrained solver over the trailing return window of top,
// falling back to equal weight on short history or non-convergence.
func (a *Allocator) solve(hist *prices.Table, top []string, objective optimizer.Objective) (Weights, error) {
	rows := hist.ReturnRows(top, a.cfg.ReturnLookback)
	if len(top) < 2 || len(rows) < a.cfg.MinReturnRows {
		if len(top) >= 2 {
			a.recorder.Fallback(metrics.ReasonShortHistory)
			a.logger.Debug().
				Strs("symbols", top).
				Err(&faults.InsufficientDataError{What: "return rows", Have: len(rows), Need: a.cfg.MinReturnRows}).
				Msg("equal weight fallback")
		}
		return EqualWeights(top), nil
	}

	start := time.Now()
	res, err := optimizer.Solve(top, rows, objective, a.cfg.SolverMaxWeight, a.solver)
	if err != nil {
		if faults.IsConfig(err) {
			return nil, err
		}
		var ide *faults.InsufficientDataError
		if errors.As(err, &ide) {
			a.recorder.Fallback(metrics.ReasonSolverError)
			a.logger.Warn().Err(err).Strs("symbols", top).Msg("solver rejected input, equal weight fallback")
			return EqualWeights(top), nil
		}
		return nil, err
	}
	a.recorder.SolverRun(objective.String(), res.Iterations, res.Converged, time.Since(start))

	if !res.Converged {
		a.recorder.Fallback(metrics.ReasonNonConvergence)
		a.logger.Warn().
			Err(res.Err()).
			Strs("symbols", top).
			Int("iterations", res.Iterations).
			Msg("equal weight fallback")
		return EqualWeights(top), nil
	}
	return Weights(res.Weights), nil
}
