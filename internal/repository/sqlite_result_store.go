package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
	_ "modernc.org/sqlite"
)

// timestampLayout has fixed width so stored timestamps sort as text
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_results (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		securities TEXT NOT NULL,
		initial_capital TEXT NOT NULL,
		final_capital TEXT NOT NULL,
		parameter_hash TEXT NOT NULL,
		metrics TEXT,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_results_strategy ON backtest_results (strategy_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		run_id TEXT NOT NULL REFERENCES backtest_results (id) ON DELETE CASCADE,
		security_id TEXT NOT NULL,
		date TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL,
		slippage TEXT NOT NULL,
		notional TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		closed_quantity INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_snapshots (
		run_id TEXT NOT NULL REFERENCES backtest_results (id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		cash TEXT NOT NULL,
		equity TEXT NOT NULL,
		positions TEXT NOT NULL,
		PRIMARY KEY (run_id, date)
	)`,
}

// SQLiteResultStore implements ResultStore on a local SQLite file. Money is
// stored as decimal text and dates as YYYY-MM-DD.
type SQLiteResultStore struct {
	db *sql.DB
}

// OpenSQLiteResultStore opens or creates the store at path
func OpenSQLiteResultStore(ctx context.Context, path string) (*SQLiteResultStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for i, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply sqlite schema statement %d: %w", i, err)
		}
	}
	return &SQLiteResultStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

// Save writes the result and replaces any previously stored history for it
func (s *SQLiteResultStore) Save(ctx context.Context, result *models.BacktestResult, trades []models.Trade, snapshots []models.PortfolioState) (err error) {
	metrics, err := marshalMetrics(result.Metrics)
	if err != nil {
		return err
	}
	securities, err := json.Marshal(result.Securities)
	if err != nil {
		return fmt.Errorf("failed to encode securities: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := result.ID.String()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_results (`+resultColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			final_capital = excluded.final_capital, metrics = excluded.metrics,
			status = excluded.status, error_kind = excluded.error_kind,
			error_message = excluded.error_message, started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		id, result.StrategyID, formatDate(result.StartDate), formatDate(result.EndDate), string(securities),
		result.InitialCapital.String(), result.FinalCapital.String(), result.ParameterHash, nullString(metrics),
		string(result.Status), result.ErrorKind, result.ErrorMessage,
		formatTimestamp(&result.CreatedAt), formatTimestamp(result.StartedAt), formatTimestamp(result.CompletedAt),
	); err != nil {
		return fmt.Errorf("failed to save backtest result: %w", err)
	}

	for _, table := range []string{"backtest_trades", "backtest_snapshots"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i, t := range trades {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO backtest_trades (seq, id, run_id, security_id, date, side, quantity,
				price, commission, slippage, notional, realized_pnl, closed_quantity)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			i, t.ID.String(), id, t.SecurityID, formatDate(t.Date), string(t.Side), t.Quantity,
			t.Price.String(), t.Commission.String(), t.Slippage.String(), t.Notional.String(), t.RealizedPnL.String(),
			t.ClosedQuantity,
		); err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	for _, snap := range snapshots {
		var positions []byte
		if positions, err = json.Marshal(snap.Positions); err != nil {
			return fmt.Errorf("failed to encode positions: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO backtest_snapshots (run_id, date, cash, equity, positions) VALUES (?,?,?,?,?)`,
			id, formatDate(snap.Date), snap.Cash.String(), snap.Equity.String(), string(positions),
		); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves one result, returning models.ErrNotFound when absent
func (s *SQLiteResultStore) GetByID(ctx context.Context, id uuid.UUID) (*models.BacktestResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM backtest_results WHERE id = ?`, id.String())
	result, err := scanSQLiteResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	return result, nil
}

// GetLatest retrieves the most recently created results
func (s *SQLiteResultStore) GetLatest(ctx context.Context, limit int) ([]*models.BacktestResult, error) {
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM backtest_results ORDER BY created_at DESC LIMIT ?`, limit)
}

// GetByStrategyID retrieves results for one strategy, newest first
func (s *SQLiteResultStore) GetByStrategyID(ctx context.Context, strategyID string, limit int) ([]*models.BacktestResult, error) {
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM backtest_results
		WHERE strategy_id = ? ORDER BY created_at DESC LIMIT ?`, strategyID, limit)
}

func (s *SQLiteResultStore) queryResults(ctx context.Context, query string, args ...interface{}) ([]*models.BacktestResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var results []*models.BacktestResult
	for rows.Next() {
		result, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, fmt.Errorf(errScanBacktestResult, err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// GetTrades returns a run's trades in booking order
func (s *SQLiteResultStore) GetTrades(ctx context.Context, runID uuid.UUID) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, security_id, date, side, quantity, price, commission, slippage, notional, realized_pnl,
			closed_quantity
		FROM backtest_trades WHERE run_id = ? ORDER BY seq`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var id, date, side string
		var money [5]string
		if err := rows.Scan(&id, &t.SecurityID, &date, &side, &t.Quantity,
			&money[0], &money[1], &money[2], &money[3], &money[4], &t.ClosedQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if t.Date, err = models.ParseDate(date); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		if err := parseDecimals(money[:], &t.Price, &t.Commission, &t.Slippage, &t.Notional, &t.RealizedPnL); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetSnapshots returns a run's end-of-bar snapshots in date order
func (s *SQLiteResultStore) GetSnapshots(ctx context.Context, runID uuid.UUID) ([]models.PortfolioState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, cash, equity, positions FROM backtest_snapshots
		WHERE run_id = ? ORDER BY date`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.PortfolioState
	for rows.Next() {
		var snap models.PortfolioState
		var date, cash, equity, positions string
		if err := rows.Scan(&date, &cash, &equity, &positions); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.Date, err = models.ParseDate(date); err != nil {
			return nil, err
		}
		if err := parseDecimals([]string{cash, equity}, &snap.Cash, &snap.Equity); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
			return nil, fmt.Errorf("failed to decode positions: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteResult(row rowScanner) (*models.BacktestResult, error) {
	var (
		id, start, end, securities, initial, final, status, created string
		metrics, started, completed                                 sql.NullString
	)
	result := &models.BacktestResult{}
	if err := row.Scan(&id, &result.StrategyID, &start, &end, &securities, &initial, &final,
		&result.ParameterHash, &metrics, &status, &result.ErrorKind, &result.ErrorMessage,
		&created, &started, &completed); err != nil {
		return nil, err
	}

	var err error
	if result.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if result.StartDate, err = models.ParseDate(start); err != nil {
		return nil, err
	}
	if result.EndDate, err = models.ParseDate(end); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(securities), &result.Securities); err != nil {
		return nil, fmt.Errorf("failed to decode securities: %w", err)
	}
	if err := parseDecimals([]string{initial, final}, &result.InitialCapital, &result.FinalCapital); err != nil {
		return nil, err
	}
	result.Status = models.RunStatus(status)
	if result.Metrics, err = unmarshalMetrics([]byte(metrics.String)); err != nil {
		return nil, err
	}
	createdAt, err := parseTimestamp(sql.NullString{String: created, Valid: true})
	if err != nil {
		return nil, err
	}
	result.CreatedAt = *createdAt
	if result.StartedAt, err = parseTimestamp(started); err != nil {
		return nil, err
	}
	if result.CompletedAt, err = parseTimestamp(completed); err != nil {
		return nil, err
	}
	return result, nil
}

func formatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}

func formatTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timestampLayout), Valid: true}
}

func parseTimestamp(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func nullString(data []byte) sql.NullString {
	if data == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func parseDecimals(raw []string, dst ...*decimal.Decimal) error {
	for i, r := range raw {
		v, err := decimal.NewFromString(r)
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", r, err)
		}
		*dst[i] = v
	}
	return nil
}
