package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade represents a filled order. Price already includes slippage;
// Slippage is the money cost of that adjustment.
type Trade struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	SecurityID  string          `db:"security_id" json:"security_id"`
	Date        time.Time       `db:"date" json:"date"`
	Side        Side            `db:"side" json:"side"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Commission  decimal.Decimal `db:"commission" json:"commission"`
	Slippage    decimal.Decimal `db:"slippage" json:"slippage"`
	Notional    decimal.Decimal `db:"notional" json:"notional"`
	RealizedPnL decimal.Decimal `db:"realized_pnl" json:"realized_pnl"`
	// ClosedQuantity is the part of Quantity that reduced an existing
	// position. Sells that open a short and buys that open a long close nothing.
	ClosedQuantity int64 `db:"closed_quantity" json:"closed_quantity"`
}

// CashDelta returns the signed cash movement the trade causes
func (t Trade) CashDelta() decimal.Decimal {
	if t.Side == SideBuy {
		return t.Notional.Add(t.Commission).Neg()
	}
	return t.Notional.Sub(t.Commission)
}

// IsClosing reports whether the trade reduced a position and so realized P&L
func (t Trade) IsClosing() bool {
	return t.ClosedQuantity > 0
}
