package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
)

// SecurityRepository defines the interface for security reference data
type SecurityRepository interface {
	Upsert(ctx context.Context, security models.Security) error
	GetByID(ctx context.Context, id string) (*models.Security, error)
	List(ctx context.Context) ([]models.Security, error)
}

// PriceBarRepository stores daily bars and serves them as a series.Source
type PriceBarRepository interface {
	series.Source
	InsertBatch(ctx context.Context, bars []models.PriceBar) (int64, error)
	DateRange(ctx context.Context, securityID string) (first, last time.Time, err error)
}

// ResultStore persists terminal runs with their trades and snapshots
type ResultStore interface {
	Save(ctx context.Context, result *models.BacktestResult, trades []models.Trade, snapshots []models.PortfolioState) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BacktestResult, error)
	GetLatest(ctx context.Context, limit int) ([]*models.BacktestResult, error)
	GetByStrategyID(ctx context.Context, strategyID string, limit int) ([]*models.BacktestResult, error)
	GetTrades(ctx context.Context, runID uuid.UUID) ([]models.Trade, error)
	GetSnapshots(ctx context.Context, runID uuid.UUID) ([]models.PortfolioState, error)
}
