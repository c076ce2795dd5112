package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/persistence"
)

// runsRepo implements RunsRepo for PostgreSQL
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a new PostgreSQL runs repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{
		db:      db,
		timeout: timeout,
	}
}

const runColumns = `id, schedule, start_date, end_date, days, final_nav, trade_count, stats, created_at`

// Save writes the run header, NAV path and trade log in one transaction
func (r *runsRepo) Save(ctx context.Context, res *backtest.Result) error {
	rows := len(res.NAV) + len(res.Trades)
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(rows/1000+1))
	defer cancel()

	sum := persistence.Summarize(res)
	statsJSON, err := json.Marshal(sum.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, schedule, start_date, end_date, days, final_nav, trade_count, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sum.ID, sum.Schedule, sum.StartDate, sum.EndDate, sum.Days, sum.FinalNAV, sum.TradeCount, statsJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("run %s: %w", sum.ID, persistence.ErrDuplicateRun)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	navStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_nav (run_id, date, nav, drawdown, turnover, cost)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare nav statement: %w", err)
	}
	defer navStmt.Close()

	for i, p := range res.NAV {
		_, err := navStmt.ExecContext(ctx, sum.ID, p.Date, p.NAV,
			at(res.Drawdown, i), at(res.Turnover, i), at(res.Cost, i))
		if err != nil {
			return fmt.Errorf("failed to insert nav for %s: %w", p.Date.Format("2006-01-02"), err)
		}
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, seq, date, symbol, side, shares, price, notional, cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade statement: %w", err)
	}
	defer tradeStmt.Close()

	for i, tr := range res.Trades {
		_, err := tradeStmt.ExecContext(ctx, sum.ID, i, tr.Date, tr.Symbol, string(tr.Action),
			tr.Shares, tr.Price, tr.Notional, tr.Cost)
		if err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Get returns the run header, or nil when it does not exist
func (r *runsRepo) Get(ctx context.Context, id uuid.UUID) (*persistence.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

type navRow struct {
	Date time.Time `db:"date"`
	NAV  float64   `db:"nav"`
}

// NAV returns the stored NAV path in date order
func (r *runsRepo) NAV(ctx context.Context, id uuid.UUID) ([]backtest.NavPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []navRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT date, nav FROM backtest_nav
		WHERE run_id = $1
		ORDER BY date ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query nav: %w", err)
	}

	out := make([]backtest.NavPoint, len(rows))
	for i, row := range rows {
		out[i] = backtest.NavPoint{Date: row.Date, NAV: row.NAV}
	}
	return out, nil
}

type tradeRow struct {
	Date     time.Time `db:"date"`
	Symbol   string    `db:"symbol"`
	Side     string    `db:"side"`
	Shares   int64     `db:"shares"`
	Price    float64   `db:"price"`
	Notional float64   `db:"notional"`
	Cost     float64   `db:"cost"`
}

// Trades returns the stored trade log in execution order
func (r *runsRepo) Trades(ctx context.Context, id uuid.UUID) ([]backtest.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []tradeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT date, symbol, side, shares, price, notional, cost FROM backtest_trades
		WHERE run_id = $1
		ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	out := make([]backtest.TradeRecord, len(rows))
	for i, row := range rows {
		out[i] = backtest.TradeRecord{
			Date:     row.Date,
			Symbol:   row.Symbol,
			Action:   backtest.Side(row.Side),
			Shares:   row.Shares,
			Price:    row.Price,
			Notional: row.Notional,
			Cost:     row.Cost,
		}
	}
	return out, nil
}

// Latest returns the most recently stored runs
func (r *runsRepo) Latest(ctx context.Context, limit int) ([]persistence.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}
	defer rows.Close()

	var out []persistence.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*persistence.RunSummary, error) {
	var run persistence.RunSummary
	var statsJSON []byte
	err := s.Scan(&run.ID, &run.Schedule, &run.StartDate, &run.EndDate, &run.Days,
		&run.FinalNAV, &run.TradeCount, &statsJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
	}
	return &run, nil
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}
