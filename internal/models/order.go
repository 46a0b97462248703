package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or trade
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind represents how an order is priced
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// Order is an instruction issued by a strategy for one bar
type Order struct {
	SecurityID string           `json:"security_id" validate:"required"`
	Side       Side             `json:"side" validate:"required,oneof=buy sell"`
	Quantity   int64            `json:"quantity" validate:"gt=0"`
	Kind       OrderKind        `json:"kind" validate:"required,oneof=market limit"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	IssuedAt   time.Time        `json:"issued_at"`
}

// MarketOrder builds a market order
func MarketOrder(securityID string, side Side, quantity int64) Order {
	return Order{SecurityID: securityID, Side: side, Quantity: quantity, Kind: OrderKindMarket}
}

// LimitOrder builds a limit order at price
func LimitOrder(securityID string, side Side, quantity int64, price decimal.Decimal) Order {
	return Order{SecurityID: securityID, Side: side, Quantity: quantity, Kind: OrderKindLimit, LimitPrice: &price}
}

// Validate performs basic validation on the order
func (o Order) Validate() error {
	if o.SecurityID == "" {
		return fmt.Errorf("order security id is required")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order side %q is invalid", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", o.Quantity)
	}
	switch o.Kind {
	case OrderKindMarket:
	case OrderKindLimit:
		if o.LimitPrice == nil || !o.LimitPrice.IsPositive() {
			return fmt.Errorf("limit order requires a positive limit price")
		}
	default:
		return fmt.Errorf("order kind %q is invalid", o.Kind)
	}
	return nil
}
