package database

// PostgresSchema holds the DDL for bars, securities and persisted runs
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS securities (
		id TEXT PRIMARY KEY,
		exchange TEXT NOT NULL DEFAULT '',
		tradable BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS price_bars (
		security_id TEXT NOT NULL,
		date DATE NOT NULL,
		open NUMERIC NOT NULL,
		high NUMERIC NOT NULL,
		low NUMERIC NOT NULL,
		close NUMERIC NOT NULL,
		volume BIGINT NOT NULL,
		adjustment_factor NUMERIC,
		PRIMARY KEY (security_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_results (
		id UUID PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		securities TEXT[] NOT NULL,
		initial_capital NUMERIC NOT NULL,
		final_capital NUMERIC NOT NULL,
		parameter_hash TEXT NOT NULL,
		metrics JSONB,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_results_strategy ON backtest_results (strategy_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES backtest_results (id) ON DELETE CASCADE,
		security_id TEXT NOT NULL,
		date DATE NOT NULL,
		side TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		price NUMERIC NOT NULL,
		commission NUMERIC NOT NULL,
		slippage NUMERIC NOT NULL,
		notional NUMERIC NOT NULL,
		realized_pnl NUMERIC NOT NULL,
		closed_quantity BIGINT NOT NULL DEFAULT 0
	)`,
	`ALTER TABLE backtest_trades ADD COLUMN IF NOT EXISTS closed_quantity BIGINT NOT NULL DEFAULT 0`,
	`CREATE TABLE IF NOT EXISTS backtest_snapshots (
		run_id UUID NOT NULL REFERENCES backtest_results (id) ON DELETE CASCADE,
		date DATE NOT NULL,
		cash NUMERIC NOT NULL,
		equity NUMERIC NOT NULL,
		positions JSONB NOT NULL,
		PRIMARY KEY (run_id, date)
	)`,
}
