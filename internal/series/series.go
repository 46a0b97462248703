// Package series provides immutable, date-ordered price histories.
package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// Series is an immutable, strictly date-ordered sequence of bars for one security
type Series struct {
	security models.Security
	bars     []models.PriceBar
}

// NewSeries validates bars and wraps them in a Series. Bars must already be
// strictly increasing by date; duplicates and out-of-order bars are rejected.
func NewSeries(security models.Security, bars []models.PriceBar) (*Series, error) {
	owned := make([]models.PriceBar, len(bars))
	for i, bar := range bars {
		if bar.SecurityID != security.ID {
			return nil, fmt.Errorf("bar %d belongs to %s, not %s", i, bar.SecurityID, security.ID)
		}
		if err := bar.Validate(); err != nil {
			return nil, err
		}
		bar.Date = models.DateOnly(bar.Date)
		if i > 0 && !bar.Date.After(owned[i-1].Date) {
			return nil, fmt.Errorf("bars for %s not strictly increasing at %s", security.ID, bar.Date.Format(models.DateLayout))
		}
		owned[i] = bar
	}
	return &Series{security: security, bars: owned}, nil
}

// Security returns the security the series describes
func (s *Series) Security() models.Security {
	return s.security
}

// Len returns the number of bars
func (s *Series) Len() int {
	return len(s.bars)
}

// At returns the i-th bar
func (s *Series) At(i int) models.PriceBar {
	return s.bars[i]
}

// Bars returns a copy of the bars
func (s *Series) Bars() []models.PriceBar {
	return append([]models.PriceBar(nil), s.bars...)
}

// Last returns the most recent bar
func (s *Series) Last() (models.PriceBar, bool) {
	if len(s.bars) == 0 {
		return models.PriceBar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Range returns the bars within [start, end] inclusive. Missing trading days
// are simply absent. A range with no bars fails with *models.DataGapError.
func (s *Series) Range(start, end time.Time) (*Series, error) {
	start, end = models.DateOnly(start), models.DateOnly(end)
	lo := s.search(start)
	hi := s.search(end.AddDate(0, 0, 1))
	if lo >= hi {
		return nil, &models.DataGapError{SecurityID: s.security.ID, Start: start, End: end}
	}
	return s.slice(lo, hi), nil
}

// Until returns the bars dated on or before date. The returned series cannot
// observe later bars.
func (s *Series) Until(date time.Time) *Series {
	return s.slice(0, s.search(models.DateOnly(date).AddDate(0, 0, 1)))
}

// On returns the bar dated exactly date
func (s *Series) On(date time.Time) (models.PriceBar, bool) {
	date = models.DateOnly(date)
	i := s.search(date)
	if i < len(s.bars) && s.bars[i].Date.Equal(date) {
		return s.bars[i], true
	}
	return models.PriceBar{}, false
}

// Next returns the first bar strictly after date
func (s *Series) Next(date time.Time) (models.PriceBar, bool) {
	i := s.search(models.DateOnly(date).AddDate(0, 0, 1))
	if i < len(s.bars) {
		return s.bars[i], true
	}
	return models.PriceBar{}, false
}

// Closes returns the close prices as floats, oldest first
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.bars))
	for i, bar := range s.bars {
		closes[i] = bar.Close.InexactFloat64()
	}
	return closes
}

// Cursor returns a lazy, restartable iterator over the bars
func (s *Series) Cursor() *Cursor {
	return &Cursor{series: s}
}

func (s *Series) search(date time.Time) int {
	return sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].Date.Before(date)
	})
}

// slice caps capacity so appends on the result never reach later bars
func (s *Series) slice(lo, hi int) *Series {
	return &Series{security: s.security, bars: s.bars[lo:hi:hi]}
}

// Cursor iterates a Series in ascending date order
type Cursor struct {
	series *Series
	pos    int
}

// Next returns the next bar, or false when exhausted
func (c *Cursor) Next() (models.PriceBar, bool) {
	if c.pos >= len(c.series.bars) {
		return models.PriceBar{}, false
	}
	bar := c.series.bars[c.pos]
	c.pos++
	return bar, true
}

// Reset rewinds the cursor to the first bar
func (c *Cursor) Reset() {
	c.pos = 0
}
