package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical layout for simulated dates
const DateLayout = "2006-01-02"

// PriceBar represents one dated OHLCV record for a security
type PriceBar struct {
	SecurityID       string           `db:"security_id" json:"security_id" validate:"required"`
	Date             time.Time        `db:"date" json:"date" validate:"required"`
	Open             decimal.Decimal  `db:"open" json:"open"`
	High             decimal.Decimal  `db:"high" json:"high"`
	Low              decimal.Decimal  `db:"low" json:"low"`
	Close            decimal.Decimal  `db:"close" json:"close"`
	Volume           int64            `db:"volume" json:"volume" validate:"gte=0"`
	AdjustmentFactor *decimal.Decimal `db:"adjustment_factor" json:"adjustment_factor,omitempty"`
}

// Validate checks the OHLC ordering invariants of the bar
func (b PriceBar) Validate() error {
	if b.SecurityID == "" {
		return fmt.Errorf("price bar security id is required")
	}
	if b.Date.IsZero() {
		return fmt.Errorf("price bar for %s has no date", b.SecurityID)
	}
	if b.Volume < 0 {
		return fmt.Errorf("price bar %s %s: negative volume %d", b.SecurityID, b.Date.Format(DateLayout), b.Volume)
	}
	if b.Low.GreaterThan(b.High) {
		return fmt.Errorf("price bar %s %s: low %s above high %s", b.SecurityID, b.Date.Format(DateLayout), b.Low, b.High)
	}
	for name, v := range map[string]decimal.Decimal{"open": b.Open, "close": b.Close} {
		if v.LessThan(b.Low) || v.GreaterThan(b.High) {
			return fmt.Errorf("price bar %s %s: %s %s outside [%s, %s]", b.SecurityID, b.Date.Format(DateLayout), name, v, b.Low, b.High)
		}
	}
	if b.AdjustmentFactor != nil && !b.AdjustmentFactor.IsPositive() {
		return fmt.Errorf("price bar %s %s: adjustment factor must be positive", b.SecurityID, b.Date.Format(DateLayout))
	}
	return nil
}

// Contains reports whether price lies within the bar's [low, high] range
func (b PriceBar) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(b.Low) && price.LessThanOrEqual(b.High)
}

// DateOnly truncates t to midnight UTC of its calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date in UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
