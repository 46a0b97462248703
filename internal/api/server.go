// Package api exposes the backtest run service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/health"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/repository"
	"github.com/yourusername/clever-backtest/internal/strategy"
	"golang.org/x/time/rate"
)

// Runner submits and tracks runs; backtest.Manager implements it
type Runner interface {
	Submit(cfg backtest.RunConfig) (uuid.UUID, error)
	Get(id uuid.UUID) (*models.BacktestResult, error)
	Cancel(id uuid.UUID) error
	Done(id uuid.UUID) (<-chan struct{}, error)
	Wait(ctx context.Context, id uuid.UUID) (*backtest.Outcome, error)
	List() []*models.BacktestResult
}

// Options configures a Server
type Options struct {
	Address  string
	Runner   Runner
	Registry *strategy.Registry
	// Store serves runs that finished before this process started. Optional.
	Store    repository.ResultStore
	Health   *health.Server
	Defaults backtest.RunConfig
	// SubmitRate limits POST /api/v1/backtests; zero disables limiting
	SubmitRate  float64
	SubmitBurst int
	// MetricsPath mounts the Prometheus handler on the API mux when set
	MetricsPath string
	// WatchInterval is how often /watch pushes status frames
	WatchInterval time.Duration
	Logger        *logrus.Logger
}

// Server is the HTTP front end of the run manager
type Server struct {
	opts    Options
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewServer creates a server
func NewServer(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if opts.Registry == nil {
		opts.Registry = strategy.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	s := &Server{opts: opts, logger: opts.Logger}
	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}
	return s, nil
}

// Handler returns the routed handler with request logging applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.opts.Health != nil {
		s.opts.Health.Register(mux)
	}
	if s.opts.MetricsPath != "" {
		mux.Handle("GET "+s.opts.MetricsPath, metrics.Handler())
	}

	mux.Handle("POST /api/v1/backtests", s.rateLimited(http.HandlerFunc(s.handleSubmit)))
	mux.HandleFunc("GET /api/v1/backtests", s.handleList)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGet)
	mux.HandleFunc("POST /api/v1/backtests/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/backtests/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/v1/backtests/{id}/equity", s.handleEquity)
	mux.HandleFunc("GET /api/v1/backtests/{id}/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/backtests/{id}/watch", s.handleWatch)
	mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", s.opts.Address).Info("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("submit rate exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}
