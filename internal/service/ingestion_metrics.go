package service

import (
	"fmt"
	"sync"
	"time"
)

// IngestionMetrics tracks statistics about bar ingestion
type IngestionMetrics struct {
	mu               sync.RWMutex
	StartTime        time.Time
	Duration         time.Duration
	Securities       int
	Succeeded        int
	Bars             int
	Duplicates       int
	ValidationErrors int
	Errors           int
}

// NewIngestionMetrics creates a new metrics tracker
func NewIngestionMetrics() *IngestionMetrics {
	return &IngestionMetrics{StartTime: time.Now()}
}

// Reset resets all metrics
func (m *IngestionMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartTime = time.Now()
	m.Duration = 0
	m.Securities = 0
	m.Succeeded = 0
	m.Bars = 0
	m.Duplicates = 0
	m.ValidationErrors = 0
	m.Errors = 0
}

func (m *IngestionMetrics) recordSecurity(report SeriesReport, written int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Succeeded++
	m.Bars += written
	m.Duplicates += report.Duplicates
	m.ValidationErrors += report.Invalid
}

func (m *IngestionMetrics) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors++
}

// String returns a formatted string representation of metrics
func (m *IngestionMetrics) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return fmt.Sprintf(
		"IngestionMetrics{Securities=%d, Succeeded=%d, Bars=%d, Duplicates=%d, ValidationErrors=%d, Errors=%d, Duration=%v}",
		m.Securities,
		m.Succeeded,
		m.Bars,
		m.Duplicates,
		m.ValidationErrors,
		m.Errors,
		m.Duration,
	)
}
