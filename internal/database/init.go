package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/config"
)

// Initialize creates a database connection pool and applies the schema
func Initialize(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	var bars int64
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM price_bars").Scan(&bars); err == nil && bars == 0 {
		log.Warn("No price bars loaded. Use the import command before running backtests.")
	}
	return db, nil
}

// Migrate creates any missing tables. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range PostgresSchema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
