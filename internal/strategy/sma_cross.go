package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/yourusername/clever-backtest/internal/models"
)

const SMACrossName = "sma_cross"

// SMACrossStrategy goes long a fixed quantity when the short moving average
// crosses above the long one and exits the whole position on the reverse cross.
type SMACrossStrategy struct {
	BaseStrategy
	ShortWindow int
	LongWindow  int
	Quantity    int64
}

// NewSMACross creates a moving-average crossover strategy
func NewSMACross(short, long int, quantity int64) (*SMACrossStrategy, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("windows must satisfy 0 < short < long, got %d and %d", short, long)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	return &SMACrossStrategy{ShortWindow: short, LongWindow: long, Quantity: quantity}, nil
}

// NewSMACrossFromParams reads "short", "long" and "quantity"
func NewSMACrossFromParams(params map[string]interface{}) (Strategy, error) {
	short, err := intParam(params, "short", 5)
	if err != nil {
		return nil, err
	}
	long, err := intParam(params, "long", 20)
	if err != nil {
		return nil, err
	}
	qty, err := intParam(params, "quantity", 100)
	if err != nil {
		return nil, err
	}
	return NewSMACross(int(short), int(long), qty)
}

// Name returns strategy name
func (s *SMACrossStrategy) Name() string {
	return SMACrossName
}

// OnBar emits orders on crossovers observed at the current date's close
func (s *SMACrossStrategy) OnBar(_ context.Context, sc Context) ([]models.Order, error) {
	if err := s.ValidateTemporalSafety(sc.Date, sc.History); err != nil {
		return nil, err
	}

	ids := sc.History.IDs()
	sort.Strings(ids)
	var orders []models.Order
	for _, id := range ids {
		hist := sc.History[id]
		if _, ok := hist.On(sc.Date); !ok {
			continue
		}
		closes := hist.Closes()
		last := len(closes) - 1
		shortNow, ok1 := SMA(closes, last, s.ShortWindow)
		longNow, ok2 := SMA(closes, last, s.LongWindow)
		shortPrev, ok3 := SMA(closes, last-1, s.ShortWindow)
		longPrev, ok4 := SMA(closes, last-1, s.LongWindow)
		if !(ok1 && ok2 && ok3 && ok4) {
			continue
		}

		held := sc.Portfolio.Position(id).Quantity
		switch {
		case shortPrev <= longPrev && shortNow > longNow && held <= 0:
			orders = append(orders, models.MarketOrder(id, models.SideBuy, s.Quantity))
		case shortPrev >= longPrev && shortNow < longNow && held > 0:
			orders = append(orders, models.MarketOrder(id, models.SideSell, held))
		}
	}
	return orders, nil
}

// GetParameters returns the strategy configuration
func (s *SMACrossStrategy) GetParameters() map[string]interface{} {
	return map[string]interface{}{
		"short":    s.ShortWindow,
		"long":     s.LongWindow,
		"quantity": s.Quantity,
	}
}
