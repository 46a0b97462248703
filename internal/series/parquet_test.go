package series

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

func TestParquetRoundTripThroughSource(t *testing.T) {
	src := NewParquetSource(t.TempDir())
	bars := makeBars("ACME", day0.AddDate(0, 0, -2), 10, 11, 12, 13)
	require.NoError(t, src.Write(bars[:2]))
	require.NoError(t, src.Write(bars[2:]))

	s, err := src.Load(context.Background(), "acme", day0.AddDate(0, 0, -2), day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 4, s.Len())
	assert.Equal(t, day0.AddDate(0, 0, -2), s.At(0).Date)
	assert.True(t, s.At(3).Close.Equal(bars[3].Close))

	_, err = src.Load(context.Background(), "MISSING", day0, day0)
	var gap *models.DataGapError
	assert.ErrorAs(t, err, &gap)
}
