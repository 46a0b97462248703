package strategy

import (
	"context"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
)

// Strategy is a decision function invoked once per simulated date. Given the
// same Context it must return the same orders; any state carried between
// calls lives in Context.Scratch.
type Strategy interface {
	Name() string
	OnBar(ctx context.Context, strategyCtx Context) ([]models.Order, error)
	GetParameters() map[string]interface{}
}

// Context provides the strategy with temporal-safe inputs
type Context struct {
	Date      time.Time
	History   series.Universe
	Portfolio models.PortfolioState
	Scratch   Scratch
}

// Scratch is per-run strategy memory threaded through every OnBar call
type Scratch map[string]interface{}

// Bool returns a flag stored under key
func (s Scratch) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// StrategyMetadata describes a registered strategy
type StrategyMetadata struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}
