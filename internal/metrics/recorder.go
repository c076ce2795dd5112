package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives observations from the strategy core. Implementations
// must be safe to call from a single simulation goroutine; the Prometheus
// recorder is safe for concurrent use.
type Recorder interface {
	SimulatedDay(nav float64)
	Rebalance(regime string, riskBudget float64)
	Trade(action string, notional, cost float64)
	SolverRun(objective string, iterations int, converged bool, elapsed time.Duration)
	Fallback(reason string)
	SkippedSymbol(reason string)
}

// Fallback reasons
const (
	ReasonShortHistory     = "short_history"
	ReasonNonConvergence   = "non_convergence"
	ReasonSolverError      = "solver_error"
	ReasonEmptyCandidates  = "empty_candidates"
	ReasonMissingPrice     = "missing_price"
	ReasonInsufficientCash = "insufficient_cash"
	ReasonTargetError      = "target_error"
)

// Nop discards every observation.
type Nop struct{}

func (Nop) SimulatedDay(float64) {}
func (Nop) Rebalance(string, float64) {}
func (Nop) Trade(string, float64, float64) {}
func (Nop) SolverRun(string, int, bool, time.Duration) {}
func (Nop) Fallback(string) {}
func (Nop) SkippedSymbol(string) {}

// Prometheus exports core observations as Prometheus collectors
type Prometheus struct {
	// Simulation progress
	SimulatedDays prometheus.Counter
	NAV           prometheus.Gauge

	// Rebalancing
	Rebalances *prometheus.CounterVec
	RiskBudget prometheus.Gauge
	Trades     *prometheus.CounterVec
	Notional   *prometheus.CounterVec
	Costs      prometheus.Counter

	// Solver behaviour
	SolverIterations *prometheus.HistogramVec
	SolverDuration   *prometheus.HistogramVec
	SolverRuns       *prometheus.CounterVec

	// Degraded paths
	Fallbacks      *prometheus.CounterVec
	SkippedSymbols *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		SimulatedDays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etftrend_simulated_days_total",
			Help: "Trading days marked to market by the simulator",
		}),
		NAV: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etftrend_nav",
			Help: "Most recent simulated net asset value",
		}),
		Rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etftrend_rebalances_total",
			Help: "Rebalance events by detected regime",
		}, []string{"regime"}),
		RiskBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etftrend_risk_budget",
			Help: "Risk budget at the most recent rebalance",
		}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etftrend_trades_total",
			Help: "Simulated trades by action",
		}, []string{"action"}),
		Notional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etftrend_traded_notional_total",
			Help: "Absolute traded notional by action",
		}, []string{"action"}),
		Costs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etftrend_transaction_costs_total",
			Help: "Transaction costs paid",
		}),
		SolverIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etftrend_solver_iterations",
			Help:    "Iterations used per constrained weight solve",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"objective"}),
		SolverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etftrend_solver_duration_seconds",
			Help:    "Wall time per constrained weight solve",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"objective"}),
		SolverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etftrend_solver_runs_total",
			Help: "Constrained weight solves by objective and convergence",
		}, []string{"objective", "converged"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etftrend_fallbacks_total",
			Help: "Locally recovered conditions by reason",
		}, []string{"reason"}),
		SkippedSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etftrend_skipped_symbols_total",
			Help: "Symbols skipped during valuation or trading by reason",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		p.SimulatedDays, p.NAV, p.Rebalances, p.RiskBudget, p.Trades, p.Notional, p.Costs,
		p.SolverIterations, p.SolverDuration, p.SolverRuns, p.Fallbacks, p.SkippedSymbols,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) SimulatedDay(nav float64) {
	p.SimulatedDays.Inc()
	p.NAV.Set(nav)
}

func (p *Prometheus) Rebalance(regime string, riskBudget float64) {
	p.Rebalances.WithLabelValues(regime).Inc()
	p.RiskBudget.Set(riskBudget)
}

func (p *Prometheus) Trade(action string, notional, cost float64) {
	p.Trades.WithLabelValues(action).Inc()
	p.Notional.WithLabelValues(action).Add(notional)
	p.Costs.Add(cost)
}

func (p *Prometheus) SolverRun(objective string, iterations int, converged bool, elapsed time.Duration) {
	p.SolverIterations.WithLabelValues(objective).Observe(float64(iterations))
	p.SolverDuration.WithLabelValues(objective).Observe(elapsed.Seconds())
	label := "false"
	if converged {
		label = "true"
	}
	p.SolverRuns.WithLabelValues(objective, label).Inc()
}

func (p *Prometheus) Fallback(reason string) {
	p.Fallbacks.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SkippedSymbol(reason string) {
	p.SkippedSymbols.WithLabelValues(reason).Inc()
}
