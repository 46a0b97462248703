package backtest

import (
	"context"

	"github.com/yourusername/clever-backtest/internal/models"
)

// ResultSink persists a terminal run with its full history. The engine never
// reads persisted state back.
type ResultSink interface {
	Save(ctx context.Context, result *models.BacktestResult, trades []models.Trade, snapshots []models.PortfolioState) error
}

// NopSink discards results
type NopSink struct{}

// Save implements ResultSink
func (NopSink) Save(context.Context, *models.BacktestResult, []models.Trade, []models.PortfolioState) error {
	return nil
}
