package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/persistence"
)

var (
	d0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d1 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func sampleResult() *backtest.Result {
	return &backtest.Result{
		RunID:    uuid.MustParse("6f1c2a8e-1b7d-4c55-9a57-3f0b7f2f8b11"),
		Schedule: "W-FRI",
		NAV: []backtest.NavPoint{
			{Date: d0, NAV: 100000},
			{Date: d1, NAV: 101000},
		},
		Drawdown: []float64{0, 0},
		Turnover: []float64{0.5, 0},
		Cost:     []float64{0.0005, 0},
		Trades: []backtest.TradeRecord{
			{Date: d0, Symbol: "QQQ", Action: backtest.Buy, Shares: 10, Price: 100, Notional: 1000, Cost: 1},
		},
		Stats: backtest.Stats{Sharpe: 1.5},
	}
}

var runCols = []string{"id", "schedule", "start_date", "end_date", "days", "final_nav", "trade_count", "stats", "created_at"}

func TestRunsRepoSave(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)
	res := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_runs").
		WithArgs(res.RunID, "W-FRI", d0, d1, 2, 101000.0, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	nav := mock.ExpectPrepare("INSERT INTO backtest_nav")
	nav.ExpectExec().WithArgs(res.RunID, d0, 100000.0, 0.0, 0.5, 0.0005).WillReturnResult(sqlmock.NewResult(0, 1))
	nav.ExpectExec().WithArgs(res.RunID, d1, 101000.0, 0.0, 0.0, 0.0).WillReturnResult(sqlmock.NewResult(0, 1))
	trades := mock.ExpectPrepare("INSERT INTO backtest_trades")
	trades.ExpectExec().
		WithArgs(res.RunID, 0, d0, "QQQ", "BUY", int64(10), 100.0, 1000.0, 1.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepoSaveDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_runs").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleResult())
	assert.True(t, errors.Is(err, persistence.ErrDuplicateRun))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepoSaveRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO backtest_nav").ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-03-01")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepoGet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)
	id := sampleResult().RunID
	created := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM backtest_runs WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(runCols).
			AddRow(id.String(), "W-FRI", d0, d1, int64(2), 101000.0, int64(1), []byte(`{"Sharpe":1.5}`), created))

	run, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, 2, run.Days)
	assert.Equal(t, 1.5, run.Stats["Sharpe"])
	assert.Equal(t, created, run.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepoGetMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	mock.ExpectQuery("FROM backtest_runs").WillReturnRows(sqlmock.NewRows(runCols))

	run, err := repo.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestRunsRepoNAVAndTrades(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)
	id := sampleResult().RunID

	mock.ExpectQuery("SELECT date, nav FROM backtest_nav").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"date", "nav"}).AddRow(d0, 100000.0).AddRow(d1, 101000.0))
	mock.ExpectQuery("FROM backtest_trades").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"date", "symbol", "side", "shares", "price", "notional", "cost"}).
			AddRow(d0, "QQQ", "BUY", int64(10), 100.0, 1000.0, 1.0))

	nav, err := repo.NAV(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sampleResult().NAV, nav)

	trades, err := repo.Trades(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sampleResult().Trades, trades)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepoLatest(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM backtest_runs ORDER BY created_at DESC").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(runCols).
			AddRow(a.String(), "ME", d0, d1, int64(2), 1.0, int64(0), []byte(`{}`), d1).
			AddRow(b.String(), "D", d0, d1, int64(2), 1.0, int64(0), nil, d0))

	runs, err := repo.Latest(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, a, runs[0].ID)
	assert.Equal(t, "D", runs[1].Schedule)
	assert.Nil(t, runs[1].Stats)
}

func TestRegimeRepoUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegimeRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO regime_snapshots").
		WithArgs(d0, "SPY", "RISK_ON", 0.88, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), persistence.RegimeSnapshot{
		AsOf: d0, Benchmark: "SPY", Regime: "RISK_ON", RiskBudget: 0.88,
		Signals: map[string]interface{}{"ma200": nil, "vix_signal": 0.5},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	err = repo.Upsert(context.Background(), persistence.RegimeSnapshot{AsOf: d0, Benchmark: "SPY", Regime: "EUPHORIA"})
	assert.Error(t, err)
}

func TestRegimeRepoLatestAndRange(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegimeRepo(db, time.Second)
	cols := []string{"as_of", "benchmark", "regime", "risk_budget", "signals", "created_at"}

	mock.ExpectQuery("FROM regime_snapshots").
		WithArgs("SPY").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(d1, "SPY", "NEUTRAL", 0.6, []byte(`{"vix":18}`), d1))
	mock.ExpectQuery("FROM regime_snapshots").
		WithArgs("SPY", d0, d1).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(d1, "SPY", "NEUTRAL", 0.6, []byte(`{}`), d1).
			AddRow(d0, "SPY", "RISK_OFF", 0.3, []byte(`{}`), d0))

	latest, err := repo.Latest(context.Background(), "SPY")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "NEUTRAL", latest.Regime)
	assert.Equal(t, 18.0, latest.Signals["vix"])

	list, err := repo.ListRange(context.Background(), "SPY", persistence.TimeRange{From: d0, To: d1})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "RISK_OFF", list[1].Regime)
	assert.NoError(t, mock.ExpectationsWereMet())
}
