package backtest

import (
	"errors"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// RunStats counts order outcomes absorbed during a run
type RunStats struct {
	BarsProcessed int `json:"bars_processed"`
	OrdersIssued  int `json:"orders_issued"`
	Fills         int `json:"fills"`
	Rejected      int `json:"rejected"`
	Truncated     int `json:"truncated"`
	Expired       int `json:"expired"`
	Capped        int `json:"capped"`
}

// pendingOrder is an order waiting for its fill bar
type pendingOrder struct {
	order   models.Order
	fillBar models.PriceBar
	retried bool
}

// record classifies a recoverable order error and returns its metrics reason
func (s *RunStats) record(err error, booked bool) string {
	var funds *models.InsufficientFundsError
	var over *models.OverdrawnPositionError
	var liq *models.InsufficientLiquidityError
	var reason string
	switch {
	case errors.As(err, &funds):
		reason = "insufficient_funds"
	case errors.As(err, &over):
		reason = "overdrawn"
	case errors.As(err, &liq):
		reason = "liquidity"
		if liq.Capped {
			s.Capped++
			return reason
		}
	case errors.Is(err, models.ErrOrderExpired):
		s.Expired++
		return "expired"
	default:
		reason = "invalid"
	}
	if booked {
		s.Truncated++
	} else {
		s.Rejected++
	}
	return reason
}

// Outcome is the full history of one run
type Outcome struct {
	Result    *models.BacktestResult  `json:"result"`
	Trades    []models.Trade          `json:"trades"`
	Snapshots []models.PortfolioState `json:"snapshots"`
	Stats     RunStats                `json:"stats"`
	Duration  time.Duration           `json:"duration"`
}
