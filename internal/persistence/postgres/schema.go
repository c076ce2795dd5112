package postgres

// Schema creates the tables used by the repositories. Statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id          UUID PRIMARY KEY,
	schedule    TEXT NOT NULL,
	start_date  DATE NOT NULL,
	end_date    DATE NOT NULL,
	days        INTEGER NOT NULL,
	final_nav   DOUBLE PRECISION NOT NULL,
	trade_count INTEGER NOT NULL,
	stats       JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS backtest_nav (
	run_id   UUID NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	date     DATE NOT NULL,
	nav      DOUBLE PRECISION NOT NULL,
	drawdown DOUBLE PRECISION NOT NULL,
	turnover DOUBLE PRECISION NOT NULL,
	cost     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS backtest_trades (
	run_id   UUID NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	date     DATE NOT NULL,
	symbol   TEXT NOT NULL,
	side     TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	shares   BIGINT NOT NULL,
	price    DOUBLE PRECISION NOT NULL,
	notional DOUBLE PRECISION NOT NULL,
	cost     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS regime_snapshots (
	as_of       DATE NOT NULL,
	benchmark   TEXT NOT NULL,
	regime      TEXT NOT NULL CHECK (regime IN ('RISK_ON', 'NEUTRAL', 'RISK_OFF')),
	risk_budget DOUBLE PRECISION NOT NULL,
	signals     JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (benchmark, as_of)
);
`
