package series

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

var _ Source = (*ParquetSource)(nil)

// BarRecord is the Parquet schema for daily bars
type BarRecord struct {
	SecurityID string  `parquet:"security_id"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open       string  `parquet:"open"`
	High       string  `parquet:"high"`
	Low        string  `parquet:"low"`
	Close      string  `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	Adjustment float64 `parquet:"adjustment,optional"`
}

// ParquetSource reads bars from <DataDir>/<SECURITY>/<YYYY>.parquet files
type ParquetSource struct {
	DataDir string
}

// NewParquetSource creates a source rooted at dataDir
func NewParquetSource(dataDir string) *ParquetSource {
	return &ParquetSource{DataDir: dataDir}
}

// Load reads the year files covering [start, end]. Missing years are skipped.
func (p *ParquetSource) Load(_ context.Context, securityID string, start, end time.Time) (*Series, error) {
	id := models.NormalizeSecurityID(securityID)
	var bars []models.PriceBar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := parquet.ReadFile[BarRecord](p.path(id, year))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s/%d: %w", id, year, err)
		}
		for _, r := range records {
			bar, err := r.toBar()
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, &models.DataGapError{SecurityID: id, Start: start, End: end}
	}
	return NewSeries(models.Security{ID: id, Tradable: true}, bars)
}

// Write stores bars grouped by security and year, merging with existing files
func (p *ParquetSource) Write(bars []models.PriceBar) error {
	type key struct {
		id   string
		year int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{id: b.SecurityID, year: b.Date.Year()}
		groups[k] = append(groups[k], recordFromBar(b))
	}

	for k, records := range groups {
		path := p.path(k.id, k.year)
		existing, _ := parquet.ReadFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.id, k.year, err)
		}
	}
	return nil
}

func (p *ParquetSource) path(securityID string, year int) string {
	return filepath.Join(p.DataDir, securityID, fmt.Sprintf("%d.parquet", year))
}

func recordFromBar(b models.PriceBar) BarRecord {
	r := BarRecord{
		SecurityID: b.SecurityID,
		Timestamp:  models.DateOnly(b.Date).UnixMilli(),
		Open:       b.Open.String(),
		High:       b.High.String(),
		Low:        b.Low.String(),
		Close:      b.Close.String(),
		Volume:     b.Volume,
	}
	if b.AdjustmentFactor != nil {
		r.Adjustment = b.AdjustmentFactor.InexactFloat64()
	}
	return r
}

func (r BarRecord) toBar() (models.PriceBar, error) {
	bar := models.PriceBar{
		SecurityID: r.SecurityID,
		Date:       models.DateOnly(time.UnixMilli(r.Timestamp).UTC()),
		Volume:     r.Volume,
	}
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{{r.Open, &bar.Open}, {r.High, &bar.High}, {r.Low, &bar.Low}, {r.Close, &bar.Close}}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return models.PriceBar{}, fmt.Errorf("invalid price %q for %s: %w", f.raw, r.SecurityID, err)
		}
		*f.dst = v
	}
	if r.Adjustment > 0 {
		adj := decimal.NewFromFloat(r.Adjustment)
		bar.AdjustmentFactor = &adj
	}
	return bar, nil
}

// mergeBarRecords deduplicates by timestamp, preferring incoming records
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
