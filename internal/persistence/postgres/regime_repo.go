package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/etftrend/internal/persistence"
)

// regimeRepo implements RegimeRepo for PostgreSQL
type regimeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRegimeRepo creates a new PostgreSQL regime repository
func NewRegimeRepo(db *sqlx.DB, timeout time.Duration) persistence.RegimeRepo {
	return &regimeRepo{
		db:      db,
		timeout: timeout,
	}
}

const regimeColumns = `as_of, benchmark, regime, risk_budget, signals, created_at`

// Upsert inserts or replaces the reading for its benchmark and date
func (r *regimeRepo) Upsert(ctx context.Context, snapshot persistence.RegimeSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !isValidRegime(snapshot.Regime) {
		return fmt.Errorf("invalid regime type: %s", snapshot.Regime)
	}
	if snapshot.Benchmark == "" {
		return fmt.Errorf("benchmark is required")
	}

	signalsJSON, err := json.Marshal(snapshot.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO regime_snapshots (as_of, benchmark, regime, risk_budget, signals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (benchmark, as_of) DO UPDATE SET
			regime = EXCLUDED.regime,
			risk_budget = EXCLUDED.risk_budget,
			signals = EXCLUDED.signals`,
		snapshot.AsOf, snapshot.Benchmark, snapshot.Regime, snapshot.RiskBudget, signalsJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert regime snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent reading for benchmark, or nil
func (r *regimeRepo) Latest(ctx context.Context, benchmark string) (*persistence.RegimeSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `
		SELECT `+regimeColumns+`
		FROM regime_snapshots
		WHERE benchmark = $1
		ORDER BY as_of DESC
		LIMIT 1`, benchmark)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest regime: %w", err)
	}
	return snapshot, nil
}

// ListRange returns readings for benchmark within tr, newest first
func (r *regimeRepo) ListRange(ctx context.Context, benchmark string, tr persistence.TimeRange) ([]persistence.RegimeSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+regimeColumns+`
		FROM regime_snapshots
		WHERE benchmark = $1 AND as_of >= $2 AND as_of <= $3
		ORDER BY as_of DESC`, benchmark, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query regime range: %w", err)
	}
	defer rows.Close()

	var out []persistence.RegimeSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func scanSnapshot(s scanner) (*persistence.RegimeSnapshot, error) {
	var snapshot persistence.RegimeSnapshot
	var signalsJSON []byte
	err := s.Scan(&snapshot.AsOf, &snapshot.Benchmark, &snapshot.Regime,
		&snapshot.RiskBudget, &signalsJSON, &snapshot.CreatedAt)
	if err != nil {
		return nil, err
	}
	snapshot.Signals = map[string]interface{}{}
	if len(signalsJSON) > 0 {
		if err := json.Unmarshal(signalsJSON, &snapshot.Signals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
		}
	}
	return &snapshot, nil
}

func isValidRegime(label string) bool {
	switch label {
	case "RISK_ON", "NEUTRAL", "RISK_OFF":
		return true
	}
	return false
}
