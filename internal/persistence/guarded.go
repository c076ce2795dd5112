package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/etftrend/internal/backtest"
)

// BreakerConfig tunes the circuit breaker placed in front of a repository
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // Default: 3
	MinRequests         uint32        `yaml:"min_requests"`         // Default: 20
	FailureRatio        float64       `yaml:"failure_ratio"`        // Default: 0.05
	Interval            time.Duration `yaml:"interval"`             // Default: 60s
	Timeout             time.Duration `yaml:"timeout"`              // Default: 60s
}

// DefaultBreakerConfig returns the default breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: name, Interval: cfg.Interval, Timeout: cfg.Timeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests < cfg.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureRatio
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	}
	return gobreaker.NewCircuitBreaker(st)
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

// Guard wraps every repository in repo with its own circuit breaker. While a
// breaker is open calls fail fast with gobreaker.ErrOpenState.
func Guard(repo *Repository, cfg BreakerConfig, logger zerolog.Logger) *Repository {
	if repo == nil {
		return nil
	}
	logger = logger.With().Str("component", "persistence").Logger()
	out := &Repository{}
	if repo.Runs != nil {
		out.Runs = &guardedRuns{inner: repo.Runs, cb: newBreaker("runs", cfg, logger)}
	}
	if repo.Regimes != nil {
		out.Regimes = &guardedRegimes{inner: repo.Regimes, cb: newBreaker("regimes", cfg, logger)}
	}
	return out
}

type guardedRuns struct {
	inner RunsRepo
	cb    *gobreaker.CircuitBreaker
}

func (g *guardedRuns) Save(ctx context.Context, res *backtest.Result) error {
	_, err := execute(g.cb, func() (struct{}, error) { return struct{}{}, g.inner.Save(ctx, res) })
	return err
}

func (g *guardedRuns) Get(ctx context.Context, id uuid.UUID) (*RunSummary, error) {
	return execute(g.cb, func() (*RunSummary, error) { return g.inner.Get(ctx, id) })
}

func (g *guardedRuns) NAV(ctx context.Context, id uuid.UUID) ([]backtest.NavPoint, error) {
	return execute(g.cb, func() ([]backtest.NavPoint, error) { return g.inner.NAV(ctx, id) })
}

func (g *guardedRuns) Trades(ctx context.Context, id uuid.UUID) ([]backtest.TradeRecord, error) {
	return execute(g.cb, func() ([]backtest.TradeRecord, error) { return g.inner.Trades(ctx, id) })
}

func (g *guardedRuns) Latest(ctx context.Context, limit int) ([]RunSummary, error) {
	return execute(g.cb, func() ([]RunSummary, error) { return g.inner.Latest(ctx, limit) })
}

type guardedRegimes struct {
	inner RegimeRepo
	cb    *gobreaker.CircuitBreaker
}

func (g *guardedRegimes) Upsert(ctx context.Context, snapshot RegimeSnapshot) error {
	_, err := execute(g.cb, func() (struct{}, error) { return struct{}{}, g.inner.Upsert(ctx, snapshot) })
	return err
}

func (g *guardedRegimes) Latest(ctx context.Context, benchmark string) (*RegimeSnapshot, error) {
	return execute(g.cb, func() (*RegimeSnapshot, error) { return g.inner.Latest(ctx, benchmark) })
}

func (g *guardedRegimes) ListRange(ctx context.Context, benchmark string, tr TimeRange) ([]RegimeSnapshot, error) {
	return execute(g.cb, func() ([]RegimeSnapshot, error) { return g.inner.ListRange(ctx, benchmark, tr) })
}
