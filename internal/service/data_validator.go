package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/models"
)

// DataValidator checks imported bars before they reach a bar store
type DataValidator struct {
	logger *logrus.Logger
	// MaxDailyMove is the close-to-close fraction above which a move is logged
	MaxDailyMove float64
	// MaxGapDays is the calendar gap above which missing history is logged
	MaxGapDays int
	now        func() time.Time
}

// NewDataValidator creates a validator with default thresholds
func NewDataValidator(logger *logrus.Logger) *DataValidator {
	return &DataValidator{
		logger:       logger,
		MaxDailyMove: 0.5,
		MaxGapDays:   7,
		now:          time.Now,
	}
}

// ValidateBar returns every rule the bar violates
func (v *DataValidator) ValidateBar(bar models.PriceBar) []string {
	var errors []string

	if err := bar.Validate(); err != nil {
		errors = append(errors, err.Error())
	}
	if !bar.Low.IsPositive() {
		errors = append(errors, fmt.Sprintf("low must be positive, got %s", bar.Low))
	}
	if bar.Date.After(v.now()) {
		errors = append(errors, fmt.Sprintf("bar dated in the future: %s", bar.Date.Format(models.DateLayout)))
	}
	return errors
}

// SeriesReport summarizes ValidateSeries
type SeriesReport struct {
	Invalid    int
	Duplicates int
	Gaps       int
	Jumps      int
}

// ValidateSeries sorts bars by date, drops invalid bars and keeps the last
// bar of each duplicated date. Gaps and large moves are logged but kept.
func (v *DataValidator) ValidateSeries(bars []models.PriceBar) ([]models.PriceBar, SeriesReport) {
	var report SeriesReport

	sorted := make([]models.PriceBar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	clean := make([]models.PriceBar, 0, len(sorted))
	for _, bar := range sorted {
		bar.Date = models.DateOnly(bar.Date)
		if errs := v.ValidateBar(bar); len(errs) > 0 {
			report.Invalid++
			v.logger.WithFields(logrus.Fields{
				"security": bar.SecurityID,
				"date":     bar.Date.Format(models.DateLayout),
			}).Warnf("Dropping invalid bar: %v", errs)
			continue
		}
		if n := len(clean); n > 0 && clean[n-1].Date.Equal(bar.Date) {
			report.Duplicates++
			clean[n-1] = bar
			continue
		}
		clean = append(clean, bar)
	}

	for i := 1; i < len(clean); i++ {
		prev, cur := clean[i-1], clean[i]
		if days := int(cur.Date.Sub(prev.Date).Hours() / 24); days > v.MaxGapDays {
			report.Gaps++
			v.logger.WithFields(logrus.Fields{
				"security": cur.SecurityID,
				"from":     prev.Date.Format(models.DateLayout),
				"to":       cur.Date.Format(models.DateLayout),
			}).Warn("Gap in price history")
		}
		if move := closeToCloseMove(prev.Close, cur.Close); move > v.MaxDailyMove {
			report.Jumps++
			v.logger.WithFields(logrus.Fields{
				"security": cur.SecurityID,
				"date":     cur.Date.Format(models.DateLayout),
				"move":     move,
			}).Warn("Large close-to-close move; check for an unadjusted split")
		}
	}
	return clean, report
}

func closeToCloseMove(prev, cur decimal.Decimal) float64 {
	if prev.IsZero() {
		return 0
	}
	return cur.Sub(prev).Div(prev).Abs().InexactFloat64()
}
