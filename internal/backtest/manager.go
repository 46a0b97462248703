package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

const saveTimeout = 30 * time.Second

// RunHandle tracks one submitted run
type RunHandle struct {
	mu      sync.RWMutex
	result  *models.BacktestResult
	outcome *Outcome
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

func (h *RunHandle) snapshot() *models.BacktestResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result.Clone()
}

func (h *RunHandle) update(fn func(*RunHandle)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h)
}

// Manager runs independent backtests on a bounded worker pool. Each run owns
// its engine and ledger; the handle registry is the only shared state.
type Manager struct {
	registry *strategy.Registry
	source   series.Source
	sink     ResultSink
	logger   *logrus.Logger
	slots    chan struct{}

	mu   sync.RWMutex
	runs map[uuid.UUID]*RunHandle

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager running at most workers backtests at once
func NewManager(registry *strategy.Registry, source series.Source, sink ResultSink, workers int, log *logrus.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		source:   source,
		sink:     sink,
		logger:   log,
		slots:    make(chan struct{}, workers),
		runs:     make(map[uuid.UUID]*RunHandle),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit validates cfg, queues the run and returns its id
func (m *Manager) Submit(cfg RunConfig) (uuid.UUID, error) {
	if err := m.ctx.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("manager is shut down")
	}
	strat, err := m.registry.New(cfg.StrategyID, cfg.Parameters)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	engine, err := NewEngine(cfg, m.source, strat, m.logger)
	if err != nil {
		return uuid.Nil, err
	}

	rc := engine.Config()
	view := models.NewBacktestResult(rc.StrategyID, rc.StartDate, rc.EndDate, rc.Securities, rc.InitialCapital)
	view.ID = engine.ID()
	view.ParameterHash = rc.ParameterHash()

	ctx, cancel := context.WithCancel(m.ctx)
	h := &RunHandle{result: view, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[view.ID] = h
	m.mu.Unlock()

	m.wg.Add(1)
	metrics.UpdateQueuedRuns(1)
	go m.execute(ctx, engine, h)
	return view.ID, nil
}

func (m *Manager) execute(ctx context.Context, engine *Engine, h *RunHandle) {
	defer m.wg.Done()
	defer close(h.done)
	defer h.cancel()

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		metrics.UpdateQueuedRuns(-1)
		cause := cancelled(ctx.Err())
		h.update(func(h *RunHandle) {
			_ = h.result.Fail(time.Now().UTC(), cause)
			h.err = cause
		})
		m.save(h.snapshot(), nil, nil)
		return
	}
	metrics.UpdateQueuedRuns(-1)
	defer func() { <-m.slots }()

	h.update(func(h *RunHandle) { _ = h.result.Start(time.Now().UTC()) })
	out, err := engine.Execute(ctx)
	h.update(func(h *RunHandle) {
		h.outcome = out
		h.err = err
		if out != nil {
			h.result = out.Result
		}
	})
	if out != nil {
		m.save(out.Result.Clone(), out.Trades, out.Snapshots)
	}
}

func (m *Manager) save(result *models.BacktestResult, trades []models.Trade, snapshots []models.PortfolioState) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.sink.Save(ctx, result, trades, snapshots); err != nil {
		m.logger.WithError(err).WithField("run_id", result.ID).Error("Failed to persist backtest result")
	}
}

func (m *Manager) handle(id uuid.UUID) (*RunHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrNotFound)
	}
	return h, nil
}

// Get returns a copy of the run's current result
func (m *Manager) Get(id uuid.UUID) (*models.BacktestResult, error) {
	h, err := m.handle(id)
	if err != nil {
		return nil, err
	}
	return h.snapshot(), nil
}

// Cancel stops a pending or running run. Cancelling a finished run fails
// with models.ErrInvalidTransition.
func (m *Manager) Cancel(id uuid.UUID) error {
	h, err := m.handle(id)
	if err != nil {
		return err
	}
	if status := h.snapshot().Status; status.IsTerminal() {
		return fmt.Errorf("%w: run %s already %s", models.ErrInvalidTransition, id, status)
	}
	h.cancel()
	return nil
}

// Done returns a channel closed once the run is terminal and persisted
func (m *Manager) Done(id uuid.UUID) (<-chan struct{}, error) {
	h, err := m.handle(id)
	if err != nil {
		return nil, err
	}
	return h.done, nil
}

// Wait blocks until the run finishes and returns its outcome and fatal error
func (m *Manager) Wait(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	h, err := m.handle(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.outcome == nil {
		return &Outcome{Result: h.result.Clone()}, h.err
	}
	return h.outcome, h.err
}

// List returns every known run, oldest first
func (m *Manager) List() []*models.BacktestResult {
	m.mu.RLock()
	handles := make([]*RunHandle, 0, len(m.runs))
	for _, h := range m.runs {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	results := make([]*models.BacktestResult, 0, len(handles))
	for _, h := range handles {
		results = append(results, h.snapshot())
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID.String() < results[j].ID.String()
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// Shutdown cancels every unfinished run and waits for workers to drain
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
