package series

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeBars(id string, start time.Time, closes ...float64) []models.PriceBar {
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = models.PriceBar{
			SecurityID: id,
			Date:       start.AddDate(0, 0, i),
			Open:       price,
			High:       price.Add(decimal.NewFromInt(1)),
			Low:        price.Sub(decimal.NewFromInt(1)),
			Close:      price,
			Volume:     10000,
		}
	}
	return bars
}

func mustSeries(t *testing.T, id string, closes ...float64) *Series {
	t.Helper()
	s, err := NewSeries(models.Security{ID: id, Tradable: true}, makeBars(id, day0, closes...))
	require.NoError(t, err)
	return s
}

func TestNewSeriesRejectsDisorder(t *testing.T) {
	bars := makeBars("ACME", day0, 10, 11, 12)
	bars[1], bars[2] = bars[2], bars[1]
	_, err := NewSeries(models.Security{ID: "ACME"}, bars)
	assert.Error(t, err)

	dup := makeBars("ACME", day0, 10, 11)
	dup[1].Date = dup[0].Date
	_, err = NewSeries(models.Security{ID: "ACME"}, dup)
	assert.Error(t, err)

	_, err = NewSeries(models.Security{ID: "OTHER"}, makeBars("ACME", day0, 10))
	assert.Error(t, err)
}

func TestRangeAndDataGap(t *testing.T) {
	s := mustSeries(t, "ACME", 10, 11, 12, 13, 14)

	ranged, err := s.Range(day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, ranged.Len())
	assert.True(t, ranged.At(0).Close.Equal(decimal.NewFromInt(11)))

	_, err = s.Range(day0.AddDate(1, 0, 0), day0.AddDate(1, 1, 0))
	var gap *models.DataGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, "ACME", gap.SecurityID)
}

func TestRangeKeepsGapsUnfilled(t *testing.T) {
	bars := makeBars("ACME", day0, 10, 11, 12)
	bars[2].Date = day0.AddDate(0, 0, 5)
	s, err := NewSeries(models.Security{ID: "ACME"}, bars)
	require.NoError(t, err)

	ranged, err := s.Range(day0, day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 3, ranged.Len())
	_, ok := ranged.On(day0.AddDate(0, 0, 3))
	assert.False(t, ok)
}

func TestUntilHidesFutureBars(t *testing.T) {
	s := mustSeries(t, "ACME", 10, 11, 12, 13)
	view := s.Until(day0.AddDate(0, 0, 1))
	require.Equal(t, 2, view.Len())
	last, ok := view.Last()
	require.True(t, ok)
	assert.Equal(t, day0.AddDate(0, 0, 1), last.Date)

	_, ok = view.On(day0.AddDate(0, 0, 2))
	assert.False(t, ok)
	assert.True(t, s.At(2).Close.Equal(decimal.NewFromInt(12)))
}

func TestNextAndCursor(t *testing.T) {
	s := mustSeries(t, "ACME", 10, 11, 12)
	next, ok := s.Next(day0)
	require.True(t, ok)
	assert.Equal(t, day0.AddDate(0, 0, 1), next.Date)
	_, ok = s.Next(day0.AddDate(0, 0, 2))
	assert.False(t, ok)

	cursor := s.Cursor()
	count := 0
	for _, ok := cursor.Next(); ok; _, ok = cursor.Next() {
		count++
	}
	assert.Equal(t, 3, count)
	cursor.Reset()
	first, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, day0, first.Date)
}

func TestLoadUniverseDates(t *testing.T) {
	a := mustSeries(t, "AAA", 1, 2, 3)
	bBars := makeBars("BBB", day0.AddDate(0, 0, 2), 5, 6)
	b, err := NewSeries(models.Security{ID: "BBB"}, bBars)
	require.NoError(t, err)

	universe, err := LoadUniverse(context.Background(), NewMemorySource(a, b), []string{"AAA", "BBB"}, day0, day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	dates := universe.Dates()
	require.Len(t, dates, 4)
	assert.Equal(t, day0, dates[0])
	assert.Equal(t, day0.AddDate(0, 0, 3), dates[3])
	assert.Equal(t, []string{"AAA", "BBB"}, universe.IDs())

	view := universe.Until(day0)
	assert.Equal(t, 1, view["AAA"].Len())
	assert.Equal(t, 0, view["BBB"].Len())
}

func TestLoadUniverseEmptyRange(t *testing.T) {
	a := mustSeries(t, "AAA", 1, 2, 3)
	_, err := LoadUniverse(context.Background(), NewMemorySource(a), []string{"AAA"}, day0.AddDate(0, 1, 0), day0.AddDate(0, 2, 0))
	var gap *models.DataGapError
	assert.ErrorAs(t, err, &gap)
}
