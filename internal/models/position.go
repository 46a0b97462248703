package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position tracks holdings of a single security
type Position struct {
	SecurityID    string          `db:"security_id" json:"security_id"`
	Quantity      int64           `db:"quantity" json:"quantity"`
	AvgCost       decimal.Decimal `db:"avg_cost" json:"avg_cost"`
	LastPrice     decimal.Decimal `db:"last_price" json:"last_price"`
	MarketValue   decimal.Decimal `db:"market_value" json:"market_value"`
	UnrealizedPnL decimal.Decimal `db:"unrealized_pnl" json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `db:"realized_pnl" json:"realized_pnl"`
	AsOf          time.Time       `db:"as_of" json:"as_of"`
}

// IsOpen reports whether the position holds a non-zero quantity
func (p Position) IsOpen() bool {
	return p.Quantity != 0
}

// PortfolioState is an immutable end-of-bar snapshot of the portfolio
type PortfolioState struct {
	Date      time.Time           `json:"date"`
	Cash      decimal.Decimal     `json:"cash"`
	Positions map[string]Position `json:"positions"`
	Equity    decimal.Decimal     `json:"equity"`
}

// Position returns the position for a security, zero-valued if absent
func (s PortfolioState) Position(securityID string) Position {
	if p, ok := s.Positions[securityID]; ok {
		return p
	}
	return Position{SecurityID: securityID}
}

// Clone returns a deep copy of the snapshot
func (s PortfolioState) Clone() PortfolioState {
	positions := make(map[string]Position, len(s.Positions))
	for id, p := range s.Positions {
		positions[id] = p
	}
	s.Positions = positions
	return s
}
