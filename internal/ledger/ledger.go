// Package ledger tracks cash, positions and realized/unrealized P&L for one run.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

// FundsPolicy decides what happens to a buy that cash cannot cover
type FundsPolicy string

const (
	FundsReject   FundsPolicy = "reject"
	FundsTruncate FundsPolicy = "truncate"
)

// Policy configures ledger invariants for a run
type Policy struct {
	AllowMargin bool        `json:"allow_margin"`
	AllowShort  bool        `json:"allow_short"`
	Funds       FundsPolicy `json:"funds_policy"`
}

// Pricer recomputes trade costs when the ledger shrinks a fill
type Pricer interface {
	Reprice(trade models.Trade, quantity int64) models.Trade
	MaxAffordable(price, cash decimal.Decimal) int64
}

// Ledger is the portfolio book of a single run. It is not safe for
// concurrent use; each run owns exactly one.
type Ledger struct {
	policy    Policy
	pricer    Pricer
	initial   decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*models.Position
	touched   map[string]bool
	trades    []models.Trade
	snapshots []models.PortfolioState
}

// New creates a ledger holding initialCash
func New(initialCash decimal.Decimal, policy Policy, pricer Pricer) *Ledger {
	if policy.Funds == "" {
		policy.Funds = FundsReject
	}
	return &Ledger{
		policy:    policy,
		pricer:    pricer,
		initial:   initialCash,
		cash:      initialCash,
		positions: make(map[string]*models.Position),
		touched:   make(map[string]bool),
	}
}

// Cash returns the current cash balance
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// InitialCash returns the starting capital
func (l *Ledger) InitialCash() decimal.Decimal {
	return l.initial
}

// Held returns the signed quantity held of a security
func (l *Ledger) Held(securityID string) int64 {
	if p, ok := l.positions[securityID]; ok {
		return p.Quantity
	}
	return 0
}

// Apply books a trade. It returns the trade actually booked, which may be
// truncated, along with a recoverable error describing any rejection or
// truncation. A nil trade means nothing was booked.
func (l *Ledger) Apply(trade models.Trade) (*models.Trade, error) {
	if trade.Quantity <= 0 {
		return nil, &models.InvariantError{Reason: fmt.Sprintf("trade quantity %d is not positive", trade.Quantity)}
	}
	switch trade.Side {
	case models.SideBuy:
		return l.applyBuy(trade)
	case models.SideSell:
		return l.applySell(trade)
	default:
		return nil, &models.InvariantError{Reason: fmt.Sprintf("unknown trade side %q", trade.Side)}
	}
}

func (l *Ledger) applyBuy(trade models.Trade) (*models.Trade, error) {
	var fundsErr *models.InsufficientFundsError
	cost := trade.Notional.Add(trade.Commission)
	if cost.GreaterThan(l.cash) && !l.policy.AllowMargin {
		fundsErr = &models.InsufficientFundsError{SecurityID: trade.SecurityID, Required: cost, Available: l.cash}
		if l.policy.Funds != FundsTruncate || l.pricer == nil {
			return nil, fundsErr
		}
		qty := l.pricer.MaxAffordable(trade.Price, l.cash)
		if qty <= 0 {
			return nil, fundsErr
		}
		trade = l.pricer.Reprice(trade, qty)
		fundsErr.FilledQuantity = qty
	}

	pos := l.position(trade.SecurityID)
	qty := decimal.NewFromInt(trade.Quantity)
	switch {
	case pos.Quantity >= 0:
		held := decimal.NewFromInt(pos.Quantity)
		pos.AvgCost = held.Mul(pos.AvgCost).Add(qty.Mul(trade.Price)).Div(held.Add(qty))
	default:
		// covering a short realizes P&L on the covered quantity
		covered := min(trade.Quantity, -pos.Quantity)
		trade.ClosedQuantity = covered
		trade.RealizedPnL = pos.AvgCost.Sub(trade.Price).Mul(decimal.NewFromInt(covered))
		pos.RealizedPnL = pos.RealizedPnL.Add(trade.RealizedPnL)
		if trade.Quantity > covered {
			pos.AvgCost = trade.Price
		}
	}
	pos.Quantity += trade.Quantity

	l.book(trade)
	if fundsErr != nil {
		return &trade, fundsErr
	}
	return &trade, nil
}

func (l *Ledger) applySell(trade models.Trade) (*models.Trade, error) {
	pos := l.position(trade.SecurityID)
	var overErr *models.OverdrawnPositionError
	if !l.policy.AllowShort && trade.Quantity > pos.Quantity {
		held := max(pos.Quantity, 0)
		overErr = &models.OverdrawnPositionError{SecurityID: trade.SecurityID, Requested: trade.Quantity, Held: held}
		if held == 0 || l.pricer == nil {
			return nil, overErr
		}
		trade = l.pricer.Reprice(trade, held)
	}

	closing := min(trade.Quantity, max(pos.Quantity, 0))
	if closing > 0 {
		trade.ClosedQuantity = closing
		trade.RealizedPnL = trade.Price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(closing))
		pos.RealizedPnL = pos.RealizedPnL.Add(trade.RealizedPnL)
	}
	opening := trade.Quantity - closing
	if opening > 0 {
		short := decimal.NewFromInt(max(-pos.Quantity, 0))
		qty := decimal.NewFromInt(opening)
		pos.AvgCost = short.Mul(pos.AvgCost).Add(qty.Mul(trade.Price)).Div(short.Add(qty))
	}
	pos.Quantity -= trade.Quantity
	if pos.Quantity == 0 {
		pos.AvgCost = decimal.Zero
	}

	l.book(trade)
	if overErr != nil {
		return &trade, overErr
	}
	return &trade, nil
}

func (l *Ledger) book(trade models.Trade) {
	if pos := l.positions[trade.SecurityID]; pos.LastPrice.IsZero() {
		pos.LastPrice = trade.Price
	}
	l.cash = l.cash.Add(trade.CashDelta())
	l.touched[trade.SecurityID] = true
	l.trades = append(l.trades, trade)
}

func (l *Ledger) position(securityID string) *models.Position {
	pos, ok := l.positions[securityID]
	if !ok {
		pos = &models.Position{SecurityID: securityID}
		l.positions[securityID] = pos
	}
	return pos
}

// MarkToMarket revalues every position at the given bars' closes and records
// the end-of-bar snapshot. Positions without a bar on date keep their last
// mark. Flat positions appear only on dates they traded.
func (l *Ledger) MarkToMarket(date time.Time, bars map[string]models.PriceBar) models.PortfolioState {
	date = models.DateOnly(date)
	state := models.PortfolioState{
		Date:      date,
		Cash:      l.cash,
		Positions: make(map[string]models.Position, len(l.positions)),
		Equity:    l.cash,
	}

	for _, id := range l.sortedIDs() {
		pos := l.positions[id]
		if bar, ok := bars[id]; ok {
			pos.LastPrice = bar.Close
		}
		qty := decimal.NewFromInt(pos.Quantity)
		pos.MarketValue = pos.LastPrice.Mul(qty)
		pos.UnrealizedPnL = pos.LastPrice.Sub(pos.AvgCost).Mul(qty)
		pos.AsOf = date
		if pos.Quantity == 0 && !l.touched[id] {
			continue
		}
		state.Positions[id] = *pos
		state.Equity = state.Equity.Add(pos.MarketValue)
	}

	l.touched = make(map[string]bool)
	l.snapshots = append(l.snapshots, state)
	return state.Clone()
}

// Checkpoint returns the current trade and snapshot counts
func (l *Ledger) Checkpoint() (trades, snapshots int) {
	return len(l.trades), len(l.snapshots)
}

// Trades returns a copy of the booked trade history
func (l *Ledger) Trades() []models.Trade {
	return append([]models.Trade(nil), l.trades...)
}

// Snapshots returns a copy of the snapshot history
func (l *Ledger) Snapshots() []models.PortfolioState {
	out := make([]models.PortfolioState, len(l.snapshots))
	for i, s := range l.snapshots {
		out[i] = s.Clone()
	}
	return out
}

// View returns a read-only copy of the portfolio at the latest mark, with
// current cash. Used to show strategies the portfolio before a bar closes.
func (l *Ledger) View(date time.Time) models.PortfolioState {
	state := models.PortfolioState{
		Date:      models.DateOnly(date),
		Cash:      l.cash,
		Positions: make(map[string]models.Position, len(l.positions)),
		Equity:    l.cash,
	}
	for id, pos := range l.positions {
		if pos.Quantity == 0 {
			continue
		}
		state.Positions[id] = *pos
		state.Equity = state.Equity.Add(pos.LastPrice.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return state
}

// CheckInvariants verifies the book is internally consistent
func (l *Ledger) CheckInvariants() error {
	if l.cash.IsNegative() && !l.policy.AllowMargin {
		return &models.InvariantError{Reason: fmt.Sprintf("cash %s negative without margin", l.cash)}
	}
	for id, pos := range l.positions {
		if pos.Quantity < 0 && !l.policy.AllowShort {
			return &models.InvariantError{Reason: fmt.Sprintf("short position %d in %s without short selling", pos.Quantity, id)}
		}
	}
	return nil
}

func (l *Ledger) sortedIDs() []string {
	ids := make([]string, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
