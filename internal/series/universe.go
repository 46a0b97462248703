package series

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// Source loads price series for a security and date range
type Source interface {
	Load(ctx context.Context, securityID string, start, end time.Time) (*Series, error)
}

// Universe is the set of series a run trades, keyed by security id
type Universe map[string]*Series

// LoadUniverse loads every requested security. Any security with no bars in
// range fails the whole load with *models.DataGapError.
func LoadUniverse(ctx context.Context, src Source, securityIDs []string, start, end time.Time) (Universe, error) {
	if len(securityIDs) == 0 {
		return nil, fmt.Errorf("%w: empty security universe", models.ErrUnknownSecurity)
	}
	universe := make(Universe, len(securityIDs))
	for _, id := range securityIDs {
		s, err := src.Load(ctx, id, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", id, err)
		}
		ranged, err := s.Range(start, end)
		if err != nil {
			return nil, err
		}
		universe[ranged.Security().ID] = ranged
	}
	return universe, nil
}

// Dates returns the sorted union of all bar dates in the universe
func (u Universe) Dates() []time.Time {
	seen := make(map[time.Time]struct{})
	for _, s := range u {
		for _, bar := range s.bars {
			seen[bar.Date] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Until returns the no-lookahead view of the universe as of date
func (u Universe) Until(date time.Time) Universe {
	view := make(Universe, len(u))
	for id, s := range u {
		view[id] = s.Until(date)
	}
	return view
}

// Closes returns each security's close on date, for securities with a bar that day
func (u Universe) Closes(date time.Time) map[string]models.PriceBar {
	bars := make(map[string]models.PriceBar, len(u))
	for id, s := range u {
		if bar, ok := s.On(date); ok {
			bars[id] = bar
		}
	}
	return bars
}

// IDs returns the sorted security ids
func (u Universe) IDs() []string {
	ids := make([]string, 0, len(u))
	for id := range u {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MemorySource serves series held in memory
type MemorySource struct {
	series map[string]*Series
}

// NewMemorySource creates a source from prebuilt series
func NewMemorySource(all ...*Series) *MemorySource {
	m := &MemorySource{series: make(map[string]*Series, len(all))}
	for _, s := range all {
		m.series[s.Security().ID] = s
	}
	return m
}

// Load returns the full stored series; callers narrow it with Range
func (m *MemorySource) Load(_ context.Context, securityID string, start, end time.Time) (*Series, error) {
	s, ok := m.series[models.NormalizeSecurityID(securityID)]
	if !ok {
		return nil, &models.DataGapError{SecurityID: securityID, Start: start, End: end}
	}
	return s, nil
}
