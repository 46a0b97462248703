package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
	"golang.org/x/time/rate"
)

// BarFetcher reads the raw bar history of one security
type BarFetcher interface {
	FetchBars(ctx context.Context, securityID string) ([]models.PriceBar, error)
}

// BarWriter stores validated bars of one security
type BarWriter interface {
	WriteBars(ctx context.Context, securityID string, bars []models.PriceBar) error
}

// BarWriterFunc adapts a function to BarWriter
type BarWriterFunc func(ctx context.Context, securityID string, bars []models.PriceBar) error

// WriteBars implements BarWriter
func (f BarWriterFunc) WriteBars(ctx context.Context, securityID string, bars []models.PriceBar) error {
	return f(ctx, securityID, bars)
}

// FileFetcher reads one local CSV file regardless of security
type FileFetcher struct {
	Path string
}

// FetchBars implements BarFetcher
func (f FileFetcher) FetchBars(_ context.Context, securityID string) ([]models.PriceBar, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return series.ReadCSV(file, securityID)
}

// URLFetcher downloads CSV from a template where {symbol} is replaced by the
// security id
type URLFetcher struct {
	Template string
	Config   series.FetchConfig
}

// FetchBars implements BarFetcher
func (f URLFetcher) FetchBars(ctx context.Context, securityID string) ([]models.PriceBar, error) {
	url := strings.ReplaceAll(f.Template, "{symbol}", securityID)
	return series.FetchCSV(ctx, f.Config, url, securityID)
}

// IngestionService fetches, validates and stores daily bars
type IngestionService struct {
	fetcher   BarFetcher
	writer    BarWriter
	validator *DataValidator
	limiter   *rate.Limiter
	metrics   *IngestionMetrics
	logger    *logrus.Logger
	batchSize int
}

// NewIngestionService creates a new ingestion service. requestsPerSecond
// throttles fetches; zero disables throttling.
func NewIngestionService(fetcher BarFetcher, writer BarWriter, validator *DataValidator, logger *logrus.Logger, requestsPerSecond float64, batchSize int) *IngestionService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &IngestionService{
		fetcher:   fetcher,
		writer:    writer,
		validator: validator,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   NewIngestionMetrics(),
		logger:    logger,
		batchSize: batchSize,
	}
}

// Ingest imports every security. A failed security is logged and skipped;
// the joined failures are returned once all securities were attempted.
func (s *IngestionService) Ingest(ctx context.Context, securities []string) (*IngestionMetrics, error) {
	s.metrics.Reset()
	startTime := time.Now()
	s.metrics.Securities = len(securities)

	var failures []error
	for _, security := range securities {
		id := models.NormalizeSecurityID(security)
		if err := s.ingestSecurity(ctx, id); err != nil {
			s.metrics.recordError()
			s.logger.WithError(err).WithField("security", id).Error("Bar ingestion failed")
			failures = append(failures, fmt.Errorf("%s: %w", id, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	s.metrics.Duration = time.Since(startTime)
	s.logger.WithField("metrics", s.metrics.String()).Info("Bar ingestion complete")
	return s.metrics, errors.Join(failures...)
}

func (s *IngestionService) ingestSecurity(ctx context.Context, id string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	raw, err := s.fetcher.FetchBars(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	bars, report := s.validator.ValidateSeries(raw)
	if len(bars) == 0 {
		return fmt.Errorf("no valid bars among %d fetched", len(raw))
	}

	for i := 0; i < len(bars); i += s.batchSize {
		end := i + s.batchSize
		if end > len(bars) {
			end = len(bars)
		}
		if err := s.writer.WriteBars(ctx, id, bars[i:end]); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}

	s.metrics.recordSecurity(report, len(bars))
	s.logger.WithFields(logrus.Fields{
		"security":   id,
		"bars":       len(bars),
		"invalid":    report.Invalid,
		"duplicates": report.Duplicates,
		"first":      bars[0].Date.Format(models.DateLayout),
		"last":       bars[len(bars)-1].Date.Format(models.DateLayout),
	}).Info("Bars imported")
	return nil
}

// GetMetrics returns current ingestion metrics
func (s *IngestionService) GetMetrics() *IngestionMetrics {
	return s.metrics
}
