package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
)

const (
	resultColumns = `id, strategy_id, start_date, end_date, securities, initial_capital, final_capital,
		parameter_hash, metrics, status, error_kind, error_message, created_at, started_at, completed_at`
	errScanBacktestResult = "failed to scan backtest result: %w"
)

// PostgresResultStore implements ResultStore for PostgreSQL
type PostgresResultStore struct {
	db *database.DB
}

// NewPostgresResultStore creates a new result store
func NewPostgresResultStore(db *database.DB) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

// Save writes the result and replaces any previously stored history for it
func (r *PostgresResultStore) Save(ctx context.Context, result *models.BacktestResult, trades []models.Trade, snapshots []models.PortfolioState) error {
	metrics, err := marshalMetrics(result.Metrics)
	if err != nil {
		return err
	}
	snapshotRows, err := snapshotRows(result.ID, snapshots)
	if err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO backtest_results (` + resultColumns + `)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO UPDATE SET
				final_capital = EXCLUDED.final_capital, metrics = EXCLUDED.metrics,
				status = EXCLUDED.status, error_kind = EXCLUDED.error_kind,
				error_message = EXCLUDED.error_message, started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at
		`
		if _, err := tx.Exec(ctx, query,
			result.ID, result.StrategyID, result.StartDate, result.EndDate, result.Securities,
			result.InitialCapital, result.FinalCapital, result.ParameterHash, metrics,
			string(result.Status), result.ErrorKind, result.ErrorMessage,
			result.CreatedAt, result.StartedAt, result.CompletedAt,
		); err != nil {
			return fmt.Errorf("failed to save backtest result: %w", err)
		}

		for _, table := range []string{"backtest_trades", "backtest_snapshots"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE run_id = $1", result.ID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		if len(trades) > 0 {
			rows := make([][]interface{}, len(trades))
			for i, t := range trades {
				rows[i] = []interface{}{
					t.ID, result.ID, t.SecurityID, t.Date, string(t.Side), t.Quantity,
					t.Price, t.Commission, t.Slippage, t.Notional, t.RealizedPnL, t.ClosedQuantity,
				}
			}
			columns := []string{"id", "run_id", "security_id", "date", "side", "quantity",
				"price", "commission", "slippage", "notional", "realized_pnl", "closed_quantity"}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"backtest_trades"}, columns, pgx.CopyFromRows(rows)); err != nil {
				return fmt.Errorf("failed to copy trades: %w", err)
			}
		}

		if len(snapshotRows) > 0 {
			columns := []string{"run_id", "date", "cash", "equity", "positions"}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"backtest_snapshots"}, columns, pgx.CopyFromRows(snapshotRows)); err != nil {
				return fmt.Errorf("failed to copy snapshots: %w", err)
			}
		}
		return nil
	})
}

// GetByID retrieves one result, returning models.ErrNotFound when absent
func (r *PostgresResultStore) GetByID(ctx context.Context, id uuid.UUID) (*models.BacktestResult, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resultColumns+` FROM backtest_results WHERE id = $1`, id)
	result, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	return result, nil
}

// GetLatest retrieves the most recently created results
func (r *PostgresResultStore) GetLatest(ctx context.Context, limit int) ([]*models.BacktestResult, error) {
	return r.queryResults(ctx, `SELECT `+resultColumns+` FROM backtest_results ORDER BY created_at DESC LIMIT $1`, limit)
}

// GetByStrategyID retrieves results for one strategy, newest first
func (r *PostgresResultStore) GetByStrategyID(ctx context.Context, strategyID string, limit int) ([]*models.BacktestResult, error) {
	return r.queryResults(ctx, `SELECT `+resultColumns+` FROM backtest_results
		WHERE strategy_id = $1 ORDER BY created_at DESC LIMIT $2`, strategyID, limit)
}

func (r *PostgresResultStore) queryResults(ctx context.Context, query string, args ...interface{}) ([]*models.BacktestResult, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var results []*models.BacktestResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf(errScanBacktestResult, err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// GetTrades returns a run's trades in booking order
func (r *PostgresResultStore) GetTrades(ctx context.Context, runID uuid.UUID) ([]models.Trade, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, security_id, date, side, quantity, price, commission, slippage, notional, realized_pnl,
			closed_quantity
		FROM backtest_trades WHERE run_id = $1 ORDER BY date, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.SecurityID, &t.Date, &side, &t.Quantity,
			&t.Price, &t.Commission, &t.Slippage, &t.Notional, &t.RealizedPnL, &t.ClosedQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.Side(side)
		t.Date = models.DateOnly(t.Date)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetSnapshots returns a run's end-of-bar snapshots in date order
func (r *PostgresResultStore) GetSnapshots(ctx context.Context, runID uuid.UUID) ([]models.PortfolioState, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date, cash, equity, positions FROM backtest_snapshots
		WHERE run_id = $1 ORDER BY date`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.PortfolioState
	for rows.Next() {
		var s models.PortfolioState
		var positions []byte
		if err := rows.Scan(&s.Date, &s.Cash, &s.Equity, &positions); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Date = models.DateOnly(s.Date)
		if err := json.Unmarshal(positions, &s.Positions); err != nil {
			return nil, fmt.Errorf("failed to decode positions: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func scanResult(row pgx.Row) (*models.BacktestResult, error) {
	result := &models.BacktestResult{}
	var metrics []byte
	var status string
	var startedAt, completedAt *time.Time
	if err := row.Scan(
		&result.ID, &result.StrategyID, &result.StartDate, &result.EndDate, &result.Securities,
		&result.InitialCapital, &result.FinalCapital, &result.ParameterHash, &metrics,
		&status, &result.ErrorKind, &result.ErrorMessage,
		&result.CreatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	result.Status = models.RunStatus(status)
	result.StartDate = models.DateOnly(result.StartDate)
	result.EndDate = models.DateOnly(result.EndDate)
	result.StartedAt = startedAt
	result.CompletedAt = completedAt
	m, err := unmarshalMetrics(metrics)
	if err != nil {
		return nil, err
	}
	result.Metrics = m
	return result, nil
}

func marshalMetrics(m *models.Metrics) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return data, nil
}

func unmarshalMetrics(data []byte) (*models.Metrics, error) {
	if len(data) == 0 {
		return nil, nil
	}
	m := &models.Metrics{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return m, nil
}

func snapshotRows(runID uuid.UUID, snapshots []models.PortfolioState) ([][]interface{}, error) {
	rows := make([][]interface{}, len(snapshots))
	for i, s := range snapshots {
		positions, err := json.Marshal(s.Positions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode positions: %w", err)
		}
		rows[i] = []interface{}{runID, s.Date, s.Cash, s.Equity, positions}
	}
	return rows, nil
}
