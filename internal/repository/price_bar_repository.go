package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
)

// PostgresPriceBarRepository implements PriceBarRepository for PostgreSQL
type PostgresPriceBarRepository struct {
	db         *database.DB
	securities SecurityRepository
}

// NewPostgresPriceBarRepository creates a new price bar repository. Securities
// without a reference row are treated as tradable.
func NewPostgresPriceBarRepository(db *database.DB, securities SecurityRepository) *PostgresPriceBarRepository {
	return &PostgresPriceBarRepository{db: db, securities: securities}
}

// InsertBatch bulk loads bars through a staging table so reloaded dates
// replace existing rows.
func (r *PostgresPriceBarRepository) InsertBatch(ctx context.Context, bars []models.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	columns := []string{"security_id", "date", "open", "high", "low", "close", "volume", "adjustment_factor"}
	rows := make([][]interface{}, len(bars))
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return 0, err
		}
		rows[i] = []interface{}{
			models.NormalizeSecurityID(b.SecurityID), models.DateOnly(b.Date),
			b.Open, b.High, b.Low, b.Close, b.Volume, nullDecimal(b.AdjustmentFactor),
		}
	}

	var count int64
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE price_bars_stage (LIKE price_bars INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("failed to create staging table: %w", err)
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"price_bars_stage"}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy price bars: %w", err)
		}
		if n != int64(len(bars)) {
			return fmt.Errorf("copied %d rows, expected %d", n, len(bars))
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO price_bars SELECT DISTINCT ON (security_id, date) * FROM price_bars_stage
			ON CONFLICT (security_id, date) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume,
				adjustment_factor = EXCLUDED.adjustment_factor
		`)
		if err != nil {
			return fmt.Errorf("failed to merge price bars: %w", err)
		}
		count = tag.RowsAffected()
		return nil
	})
	return count, err
}

// Load implements series.Source
func (r *PostgresPriceBarRepository) Load(ctx context.Context, securityID string, start, end time.Time) (*series.Series, error) {
	id := models.NormalizeSecurityID(securityID)
	query := `
		SELECT date, open, high, low, close, volume, adjustment_factor
		FROM price_bars
		WHERE security_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := r.db.Query(ctx, query, id, models.DateOnly(start), models.DateOnly(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars for %s: %w", id, err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		bar := models.PriceBar{SecurityID: id}
		var adj decimal.NullDecimal
		if err := rows.Scan(&bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &adj); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bar.Date = models.DateOnly(bar.Date)
		if adj.Valid {
			bar.AdjustmentFactor = &adj.Decimal
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &models.DataGapError{SecurityID: id, Start: start, End: end}
	}

	security := models.Security{ID: id, Tradable: true}
	if r.securities != nil {
		s, err := r.securities.GetByID(ctx, id)
		switch {
		case err == nil:
			security = *s
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}
	return series.NewSeries(security, bars)
}

// DateRange returns the first and last stored bar dates for a security
func (r *PostgresPriceBarRepository) DateRange(ctx context.Context, securityID string) (time.Time, time.Time, error) {
	id := models.NormalizeSecurityID(securityID)
	var first, last *time.Time
	err := r.db.QueryRow(ctx, `SELECT MIN(date), MAX(date) FROM price_bars WHERE security_id = $1`, id).Scan(&first, &last)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to query date range for %s: %w", id, err)
	}
	if first == nil || last == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("security %s: %w", id, models.ErrNotFound)
	}
	return models.DateOnly(*first), models.DateOnly(*last), nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
