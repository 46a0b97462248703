package backtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dayN(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

// flatBars builds one bar per day with open == close and a one unit range
func flatBars(id string, prices ...float64) []models.PriceBar {
	bars := make([]models.PriceBar, len(prices))
	for i, p := range prices {
		price := decimal.NewFromFloat(p)
		bars[i] = models.PriceBar{
			SecurityID: id,
			Date:       dayN(i),
			Open:       price,
			High:       price.Add(decimal.NewFromInt(1)),
			Low:        price.Sub(decimal.NewFromInt(1)),
			Close:      price,
			Volume:     1_000_000,
		}
	}
	return bars
}

func sourceOf(t *testing.T, bars ...[]models.PriceBar) *series.MemorySource {
	t.Helper()
	all := make([]*series.Series, 0, len(bars))
	for _, b := range bars {
		s, err := series.NewSeries(models.Security{ID: b[0].SecurityID, Tradable: true}, b)
		require.NoError(t, err)
		all = append(all, s)
	}
	return series.NewMemorySource(all...)
}

func baseConfig(strategyID string, days int, securities ...string) RunConfig {
	return RunConfig{
		StrategyID:     strategyID,
		Securities:     securities,
		StartDate:      day0,
		EndDate:        dayN(days - 1),
		InitialCapital: decimal.NewFromInt(1_000_000),
	}
}

func execute(t *testing.T, cfg RunConfig, src series.Source, strat strategy.Strategy) (*Outcome, error) {
	t.Helper()
	engine, err := NewEngine(cfg, src, strat, nil)
	require.NoError(t, err)
	return engine.Execute(context.Background())
}

// funcStrategy adapts a function to strategy.Strategy
type funcStrategy struct {
	name string
	fn   func(ctx context.Context, sc strategy.Context) ([]models.Order, error)
}

func (f *funcStrategy) Name() string { return f.name }

func (f *funcStrategy) OnBar(ctx context.Context, sc strategy.Context) ([]models.Order, error) {
	return f.fn(ctx, sc)
}

func (f *funcStrategy) GetParameters() map[string]interface{} { return nil }

// recordingSink keeps every saved run
type recordingSink struct {
	mu    sync.Mutex
	saved map[string]*models.BacktestResult
	snaps map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{saved: map[string]*models.BacktestResult{}, snaps: map[string]int{}}
}

func (s *recordingSink) Save(_ context.Context, result *models.BacktestResult, _ []models.Trade, snapshots []models.PortfolioState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[result.ID.String()] = result
	s.snaps[result.ID.String()] = len(snapshots)
	return nil
}

func (s *recordingSink) get(id string) (*models.BacktestResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[id], s.snaps[id]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}
