package series

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

const sampleCSV = `date,open,high,low,close,volume,adjustment
2024-01-02,50.00,51.00,49.50,50.50,120000,
2024-01-03,50.50,52.00,50.00,51.75,98000,1.0
`

func TestReadCSV(t *testing.T) {
	bars, err := ReadCSV(strings.NewReader(sampleCSV), "acme")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "ACME", bars[0].SecurityID)
	assert.True(t, bars[1].Close.Equal(decimal.RequireFromString("51.75")))
	assert.Nil(t, bars[0].AdjustmentFactor)
	require.NotNil(t, bars[1].AdjustmentFactor)
	assert.Equal(t, int64(98000), bars[1].Volume)
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("date,open,high\n"), "acme")
	assert.Error(t, err)
}

func TestCSVSourceLoadsRange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ACME.csv"), []byte(sampleCSV), 0o644))
	src := NewCSVSource(dir)
	ctx := context.Background()
	jan := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	s, err := src.Load(ctx, "acme", jan(3), jan(31))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, jan(3), s.At(0).Date)

	var gap *models.DataGapError
	_, err = src.Load(ctx, "ACME", jan(10), jan(31))
	assert.ErrorAs(t, err, &gap)
	_, err = src.Load(ctx, "MISSING", jan(1), jan(31))
	assert.ErrorAs(t, err, &gap)
}

func TestFetchCSVRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	cfg := DefaultFetchConfig()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond

	bars, err := FetchCSV(context.Background(), cfg, srv.URL, "ACME")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(2), calls.Load())
}
