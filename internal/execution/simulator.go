// Package execution converts strategy orders into filled trades using a cost model.
package execution

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

const (
	priceScale      = 4
	commissionScale = 2
)

var basisPoint = decimal.New(1, -4)

// Config is the cost model applied to every fill
type Config struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
	FixedFee       decimal.Decimal `json:"fixed_fee"`
	SlippageBps    decimal.Decimal `json:"slippage_bps"`
	// MaxParticipationRate caps fills at this fraction of bar volume; zero disables the cap
	MaxParticipationRate decimal.Decimal `json:"max_participation_rate"`
	// PartialFills fills up to the participation cap instead of rejecting
	PartialFills bool `json:"partial_fills"`
}

// Validate checks the cost model parameters
func (c Config) Validate() error {
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromFloat(0.1)) {
		return fmt.Errorf("commission rate must be between 0 and 0.1")
	}
	if c.FixedFee.IsNegative() {
		return fmt.Errorf("fixed fee cannot be negative")
	}
	if c.SlippageBps.IsNegative() || c.SlippageBps.GreaterThanOrEqual(decimal.NewFromInt(10000)) {
		return fmt.Errorf("slippage bps must be in [0, 10000)")
	}
	if c.MaxParticipationRate.IsNegative() || c.MaxParticipationRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max participation rate must be between 0 and 1")
	}
	return nil
}

// Simulator fills orders against a single bar. It holds no state between fills.
type Simulator struct {
	config Config
}

// NewSimulator creates a simulator for a validated cost model
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{config: cfg}, nil
}

// Config returns the cost model
func (s *Simulator) Config() Config {
	return s.config
}

// Fill executes order against the fill bar, which the caller guarantees is
// later than the bar that produced the order. Market orders fill at the
// bar's open; limit orders fill at their limit price when it lies within
// [low, high] and otherwise fail with models.ErrOrderExpired.
//
// When the participation cap truncates the order, Fill returns both the
// partial trade and a *models.InsufficientLiquidityError with Capped set.
func (s *Simulator) Fill(order models.Order, bar models.PriceBar) (*models.Trade, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if order.SecurityID != bar.SecurityID {
		return nil, fmt.Errorf("order for %s cannot fill against %s bar", order.SecurityID, bar.SecurityID)
	}

	reference := bar.Open
	if order.Kind == models.OrderKindLimit {
		if !bar.Contains(*order.LimitPrice) {
			return nil, fmt.Errorf("%w: limit %s outside [%s, %s] on %s", models.ErrOrderExpired,
				order.LimitPrice, bar.Low, bar.High, bar.Date.Format(models.DateLayout))
		}
		reference = *order.LimitPrice
	}

	quantity := order.Quantity
	var liquidityErr *models.InsufficientLiquidityError
	if limit, capped := s.participationCap(bar); capped && quantity > limit {
		liquidityErr = &models.InsufficientLiquidityError{
			SecurityID: order.SecurityID,
			Requested:  quantity,
			Cap:        limit,
		}
		if !s.config.PartialFills || limit == 0 {
			return nil, liquidityErr
		}
		liquidityErr.Capped = true
		quantity = limit
	}

	trade := s.price(order.SecurityID, order.Side, quantity, reference)
	trade.Date = bar.Date
	if liquidityErr != nil {
		return &trade, liquidityErr
	}
	return &trade, nil
}

// Reprice recomputes a trade's money fields for a smaller quantity at the
// same per-share price, used when the ledger truncates a fill.
func (s *Simulator) Reprice(trade models.Trade, quantity int64) models.Trade {
	if quantity == trade.Quantity || trade.Quantity == 0 {
		return trade
	}
	perShareSlippage := trade.Slippage.Div(decimal.NewFromInt(trade.Quantity))
	qty := decimal.NewFromInt(quantity)
	trade.Quantity = quantity
	trade.Notional = trade.Price.Mul(qty)
	trade.Slippage = perShareSlippage.Mul(qty)
	trade.Commission = s.Commission(trade.Notional)
	return trade
}

// Commission returns max(fixed fee, rate × notional), rounded to cents
func (s *Simulator) Commission(notional decimal.Decimal) decimal.Decimal {
	variable := s.config.CommissionRate.Mul(notional)
	return decimal.Max(s.config.FixedFee, variable).Round(commissionScale)
}

// SlippedPrice adjusts a reference price against the trader's side
func (s *Simulator) SlippedPrice(side models.Side, reference decimal.Decimal) decimal.Decimal {
	adjustment := decimal.NewFromInt(1)
	factor := s.config.SlippageBps.Mul(basisPoint)
	if side == models.SideBuy {
		adjustment = adjustment.Add(factor)
	} else {
		adjustment = adjustment.Sub(factor)
	}
	return reference.Mul(adjustment).Round(priceScale)
}

func (s *Simulator) price(securityID string, side models.Side, quantity int64, reference decimal.Decimal) models.Trade {
	qty := decimal.NewFromInt(quantity)
	price := s.SlippedPrice(side, reference)
	notional := price.Mul(qty)
	return models.Trade{
		SecurityID: securityID,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Notional:   notional,
		Slippage:   price.Sub(reference).Abs().Mul(qty),
		Commission: s.Commission(notional),
	}
}

func (s *Simulator) participationCap(bar models.PriceBar) (int64, bool) {
	if !s.config.MaxParticipationRate.IsPositive() {
		return 0, false
	}
	return s.config.MaxParticipationRate.Mul(decimal.NewFromInt(bar.Volume)).Floor().IntPart(), true
}

// MaxAffordable returns the largest quantity whose notional plus commission
// at price fits within cash.
func (s *Simulator) MaxAffordable(price, cash decimal.Decimal) int64 {
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}
	one := decimal.NewFromInt(1)
	byRate := cash.Div(price.Mul(one.Add(s.config.CommissionRate))).Floor().IntPart()
	byFee := cash.Sub(s.config.FixedFee).Div(price).Floor().IntPart()
	qty := byRate
	if byFee < qty {
		qty = byFee
	}
	for qty > 0 {
		notional := price.Mul(decimal.NewFromInt(qty))
		if notional.Add(s.Commission(notional)).LessThanOrEqual(cash) {
			break
		}
		qty--
	}
	if qty < 0 {
		return 0
	}
	return qty
}
