package series

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

// ReadCSV parses bars from CSV with a header containing at least
// date,open,high,low,close,volume and optionally adjustment.
// Rows are sorted by the caller's data; NewSeries rejects disorder.
func ReadCSV(r io.Reader, securityID string) ([]models.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("csv missing column %q", col)
		}
	}

	id := models.NormalizeSecurityID(securityID)
	var bars []models.PriceBar
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bar, err := parseRow(row, index, id)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRow(row []string, index map[string]int, securityID string) (models.PriceBar, error) {
	date, err := models.ParseDate(strings.TrimSpace(row[index["date"]]))
	if err != nil {
		return models.PriceBar{}, err
	}
	bar := models.PriceBar{SecurityID: securityID, Date: date}
	for col, dst := range map[string]*decimal.Decimal{
		"open": &bar.Open, "high": &bar.High, "low": &bar.Low, "close": &bar.Close,
	} {
		v, err := decimal.NewFromString(strings.TrimSpace(row[index[col]]))
		if err != nil {
			return models.PriceBar{}, fmt.Errorf("invalid %s: %w", col, err)
		}
		*dst = v
	}
	volume, err := strconv.ParseFloat(strings.TrimSpace(row[index["volume"]]), 64)
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("invalid volume: %w", err)
	}
	bar.Volume = int64(volume)
	if i, ok := index["adjustment"]; ok && i < len(row) && strings.TrimSpace(row[i]) != "" {
		adj, err := decimal.NewFromString(strings.TrimSpace(row[i]))
		if err != nil {
			return models.PriceBar{}, fmt.Errorf("invalid adjustment: %w", err)
		}
		bar.AdjustmentFactor = &adj
	}
	return bar, nil
}

// FetchConfig configures remote CSV downloads
type FetchConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultFetchConfig returns recommended defaults
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// FetchCSV downloads and parses a CSV bar file, retrying transient failures
func FetchCSV(ctx context.Context, cfg FetchConfig, url, securityID string) ([]models.PriceBar, error) {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.Timeout
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return ReadCSV(resp.Body, securityID)
}

var _ Source = (*CSVSource)(nil)

// CSVSource reads bars from <Dir>/<SECURITY>.csv files in ReadCSV format
type CSVSource struct {
	Dir string
}

// NewCSVSource creates a source rooted at dir
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

// Load reads the whole file and returns the bars within [start, end]
func (c *CSVSource) Load(_ context.Context, securityID string, start, end time.Time) (*Series, error) {
	id := models.NormalizeSecurityID(securityID)
	f, err := os.Open(filepath.Join(c.Dir, id+".csv"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &models.DataGapError{SecurityID: id, Start: start, End: end}
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadCSV(f, id)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if len(bars) == 0 {
		return nil, &models.DataGapError{SecurityID: id, Start: start, End: end}
	}
	s, err := NewSeries(models.Security{ID: id, Tradable: true}, bars)
	if err != nil {
		return nil, err
	}
	return s.Range(start, end)
}
