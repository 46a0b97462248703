package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

const ScheduledName = "scheduled"

// PlannedOrder is one entry of a scheduled plan. A sell with SellAll set
// closes whatever is held on that date instead of using Quantity.
type PlannedOrder struct {
	Date       time.Time
	SecurityID string
	Side       models.Side
	Quantity   int64
	SellAll    bool
	LimitPrice *decimal.Decimal
}

// ScheduledStrategy replays a fixed date to order plan
type ScheduledStrategy struct {
	plan map[time.Time][]PlannedOrder
}

// NewScheduled creates a strategy that issues plan entries on their dates
func NewScheduled(plan []PlannedOrder) *ScheduledStrategy {
	s := &ScheduledStrategy{plan: make(map[time.Time][]PlannedOrder)}
	for _, p := range plan {
		p.Date = models.DateOnly(p.Date)
		p.SecurityID = models.NormalizeSecurityID(p.SecurityID)
		s.plan[p.Date] = append(s.plan[p.Date], p)
	}
	return s
}

// NewScheduledFromParams reads an "orders" list of maps with keys date,
// security, side, quantity and optional limit. Quantity "all" sells the
// whole position.
func NewScheduledFromParams(params map[string]interface{}) (Strategy, error) {
	raw, ok := params["orders"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter orders must be a list")
	}
	plan := make([]PlannedOrder, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("orders[%d]: expected a map, got %T", i, entry)
		}
		p, err := parsePlannedOrder(m)
		if err != nil {
			return nil, fmt.Errorf("orders[%d]: %w", i, err)
		}
		plan = append(plan, p)
	}
	return NewScheduled(plan), nil
}

func parsePlannedOrder(m map[string]interface{}) (PlannedOrder, error) {
	var p PlannedOrder
	date, _ := m["date"].(string)
	t, err := models.ParseDate(date)
	if err != nil {
		return p, err
	}
	p.Date = t
	p.SecurityID, _ = m["security"].(string)
	if p.SecurityID == "" {
		return p, fmt.Errorf("security is required")
	}
	side, _ := m["side"].(string)
	p.Side = models.Side(strings.ToLower(side))
	if p.Side != models.SideBuy && p.Side != models.SideSell {
		return p, fmt.Errorf("side must be buy or sell, got %q", side)
	}
	if s, ok := m["quantity"].(string); ok && strings.EqualFold(s, "all") {
		if p.Side != models.SideSell {
			return p, fmt.Errorf("quantity all is only valid for sells")
		}
		p.SellAll = true
	} else {
		if p.Quantity, err = intParam(m, "quantity", 0); err != nil {
			return p, err
		}
		if p.Quantity <= 0 {
			return p, fmt.Errorf("quantity must be positive")
		}
	}
	if _, ok := m["limit"]; ok {
		limit, err := floatParam(m, "limit", 0)
		if err != nil {
			return p, err
		}
		price := decimal.NewFromFloat(limit)
		p.LimitPrice = &price
	}
	return p, nil
}

// Name returns strategy name
func (s *ScheduledStrategy) Name() string {
	return ScheduledName
}

// OnBar returns the orders planned for the current date
func (s *ScheduledStrategy) OnBar(_ context.Context, sc Context) ([]models.Order, error) {
	planned := s.plan[models.DateOnly(sc.Date)]
	orders := make([]models.Order, 0, len(planned))
	for _, p := range planned {
		qty := p.Quantity
		if p.SellAll {
			qty = sc.Portfolio.Position(p.SecurityID).Quantity
			if qty <= 0 {
				continue
			}
		}
		if p.LimitPrice != nil {
			orders = append(orders, models.LimitOrder(p.SecurityID, p.Side, qty, *p.LimitPrice))
			continue
		}
		orders = append(orders, models.MarketOrder(p.SecurityID, p.Side, qty))
	}
	return orders, nil
}

// GetParameters returns the plan in date order
func (s *ScheduledStrategy) GetParameters() map[string]interface{} {
	dates := make([]time.Time, 0, len(s.plan))
	for d := range s.plan {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var orders []interface{}
	for _, d := range dates {
		for _, p := range s.plan[d] {
			entry := map[string]interface{}{
				"date":     d.Format(models.DateLayout),
				"security": p.SecurityID,
				"side":     string(p.Side),
				"quantity": p.Quantity,
			}
			if p.SellAll {
				entry["quantity"] = "all"
			}
			if p.LimitPrice != nil {
				entry["limit"] = p.LimitPrice.String()
			}
			orders = append(orders, entry)
		}
	}
	return map[string]interface{}{"orders": orders}
}
