package strategy

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

const (
	BuyAndHoldName = "buy_and_hold"
	enteredKey     = "buy_and_hold.entered"
)

// BuyAndHoldStrategy splits cash evenly across every security with a bar on
// the first simulated date and never trades again.
type BuyAndHoldStrategy struct {
	BaseStrategy
}

// NewBuyAndHold creates a buy-and-hold strategy investing fraction of cash
func NewBuyAndHold(fraction float64) *BuyAndHoldStrategy {
	return &BuyAndHoldStrategy{BaseStrategy: BaseStrategy{AllocationFraction: fraction}}
}

// NewBuyAndHoldFromParams reads the optional "fraction" parameter
func NewBuyAndHoldFromParams(params map[string]interface{}) (Strategy, error) {
	fraction, err := floatParam(params, "fraction", 1)
	if err != nil {
		return nil, err
	}
	return NewBuyAndHold(fraction), nil
}

// Name returns strategy name
func (s *BuyAndHoldStrategy) Name() string {
	return BuyAndHoldName
}

// OnBar buys on the first call only
func (s *BuyAndHoldStrategy) OnBar(_ context.Context, sc Context) ([]models.Order, error) {
	if sc.Scratch.Bool(enteredKey) {
		return nil, nil
	}
	if err := s.ValidateTemporalSafety(sc.Date, sc.History); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sc.History))
	for id, hist := range sc.History {
		if _, ok := hist.On(sc.Date); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	sc.Scratch[enteredKey] = true

	perSecurity := sc.Portfolio.Cash.Div(decimal.NewFromInt(int64(len(ids))))
	orders := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		bar, _ := sc.History[id].On(sc.Date)
		qty := s.SizePosition(perSecurity, bar.Close)
		if qty > 0 {
			orders = append(orders, models.MarketOrder(id, models.SideBuy, qty))
		}
	}
	return orders, nil
}

// GetParameters returns the strategy configuration
func (s *BuyAndHoldStrategy) GetParameters() map[string]interface{} {
	return map[string]interface{}{"fraction": s.NormalizeFraction(s.AllocationFraction)}
}
