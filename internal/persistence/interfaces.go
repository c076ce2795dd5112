package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/regime"
)

// ErrDuplicateRun is returned when a run ID has already been stored
var ErrDuplicateRun = errors.New("run already stored")

// TimeRange is an inclusive window of as-of dates
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range. Zero bounds are open.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.From.IsZero() && t.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && t.After(tr.To) {
		return false
	}
	return true
}

// RunSummary is the header row of a stored simulation run
type RunSummary struct {
	ID         uuid.UUID          `json:"id" db:"id"`
	Schedule   string             `json:"schedule" db:"schedule"`
	StartDate  time.Time          `json:"start_date" db:"start_date"`
	EndDate    time.Time          `json:"end_date" db:"end_date"`
	Days       int                `json:"days" db:"days"`
	FinalNAV   float64            `json:"final_nav" db:"final_nav"`
	TradeCount int                `json:"trade_count" db:"trade_count"`
	Stats      map[string]float64 `json:"stats" db:"stats"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
}

// Summarize builds the header row for a result
func Summarize(res *backtest.Result) RunSummary {
	s := RunSummary{
		ID:         res.RunID,
		Schedule:   res.Schedule,
		Days:       len(res.NAV),
		TradeCount: len(res.Trades),
		Stats:      res.Stats.Map(),
	}
	if n := len(res.NAV); n > 0 {
		s.StartDate = res.NAV[0].Date
		s.EndDate = res.NAV[n-1].Date
		s.FinalNAV = res.NAV[n-1].NAV
	}
	return s
}

// RegimeSnapshot is a stored regime reading
type RegimeSnapshot struct {
	AsOf       time.Time              `json:"as_of" db:"as_of"`
	Benchmark  string                 `json:"benchmark" db:"benchmark"`
	Regime     string                 `json:"regime" db:"regime"`
	RiskBudget float64                `json:"risk_budget" db:"risk_budget"`
	Signals    map[string]interface{} `json:"signals" db:"signals"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// SnapshotOf converts a regime reading into its stored form
func SnapshotOf(s regime.State) RegimeSnapshot {
	return RegimeSnapshot{
		AsOf:       s.AsOf,
		Benchmark:  s.Detail.Benchmark,
		Regime:     s.Label.String(),
		RiskBudget: s.RiskBudget,
		Signals:    s.Detail.Map(),
	}
}

// RunsRepo stores simulation results
type RunsRepo interface {
	// Save writes the run header, NAV path and trade log atomically
	Save(ctx context.Context, res *backtest.Result) error

	// Get returns the run header, or nil when the run does not exist
	Get(ctx context.Context, id uuid.UUID) (*RunSummary, error)

	// NAV returns the stored NAV path in date order
	NAV(ctx context.Context, id uuid.UUID) ([]backtest.NavPoint, error)

	// Trades returns the stored trade log in execution order
	Trades(ctx context.Context, id uuid.UUID) ([]backtest.TradeRecord, error)

	// Latest returns the most recently stored runs
	Latest(ctx context.Context, limit int) ([]RunSummary, error)
}

// RegimeRepo stores regime readings, one per benchmark and as-of date
type RegimeRepo interface {
	// Upsert inserts or replaces the reading for its benchmark and date
	Upsert(ctx context.Context, snapshot RegimeSnapshot) error

	// Latest returns the most recent reading for benchmark, or nil
	Latest(ctx context.Context, benchmark string) (*RegimeSnapshot, error)

	// ListRange returns readings for benchmark within tr, newest first
	ListRange(ctx context.Context, benchmark string, tr TimeRange) ([]RegimeSnapshot, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Runs    RunsRepo
	Regimes RegimeRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
