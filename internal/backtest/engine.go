package backtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/analytics"
	"github.com/yourusername/clever-backtest/internal/execution"
	"github.com/yourusername/clever-backtest/internal/ledger"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

const (
	methodHistoricalReplay = "historical_replay"
	methodWalkForward      = "walk_forward"
)

// Engine orchestrates a single backtest run. An Engine executes at most once.
type Engine struct {
	id        uuid.UUID
	config    RunConfig
	source    series.Source
	strategy  strategy.Strategy
	simulator *execution.Simulator
	logger    *logger.RunLogger
	method    string
	now       func() time.Time
	executed  atomic.Bool
}

// NewEngine creates a new backtesting engine
func NewEngine(cfg RunConfig, source series.Source, strat strategy.Strategy, log *logrus.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("price source is required")
	}
	if strat == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sim, err := execution.NewSimulator(cfg.Execution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	id := uuid.New()
	return &Engine{
		id:        id,
		config:    cfg,
		source:    source,
		strategy:  strat,
		simulator: sim,
		logger:    logger.NewRunLogger(log, id.String(), cfg.StrategyID),
		method:    methodHistoricalReplay,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// ID returns the run id the engine stamps on its result
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Config returns the run configuration
func (e *Engine) Config() RunConfig {
	return e.config
}

// Run executes the backtest and returns only its result
func (e *Engine) Run(ctx context.Context) *models.BacktestResult {
	out, _ := e.Execute(ctx)
	if out == nil {
		return nil
	}
	return out.Result
}

// run is the mutable state of one execution. It never escapes Execute.
type run struct {
	universe  series.Universe
	book      *ledger.Ledger
	pending   []pendingOrder
	scratch   strategy.Scratch
	stats     *RunStats
	tradeSeq  int
	committed struct{ trades, snapshots int }
}

func (r *run) commit() {
	r.committed.trades, r.committed.snapshots = r.book.Checkpoint()
}

func (r *run) nextTradeID(runID uuid.UUID) uuid.UUID {
	r.tradeSeq++
	return uuid.NewSHA1(runID, []byte(strconv.Itoa(r.tradeSeq)))
}

// Execute runs the backtest to a terminal state. The returned error is the
// fatal cause of a failed run and is also recorded on the result; history in
// the outcome covers only fully processed dates.
func (e *Engine) Execute(ctx context.Context) (*Outcome, error) {
	if !e.executed.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine %s already executed", e.id)
	}
	began := time.Now()
	cfg := e.config

	result := models.NewBacktestResult(cfg.StrategyID, cfg.StartDate, cfg.EndDate, cfg.Securities, cfg.InitialCapital)
	result.ID = e.id
	result.ParameterHash = cfg.ParameterHash()
	out := &Outcome{Result: result}
	if err := result.Start(e.now()); err != nil {
		return out, err
	}

	metrics.UpdateActiveRuns(1)
	defer metrics.UpdateActiveRuns(-1)
	e.logger.LogRunStarted(cfg.StartDate, cfg.EndDate, cfg.Securities, cfg.InitialCapital.String())

	r := &run{
		book:    ledger.New(cfg.InitialCapital, cfg.Ledger, e.simulator),
		scratch: strategy.Scratch{},
		stats:   &out.Stats,
	}
	err := e.replay(ctx, r)
	out.Duration = time.Since(began)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, models.ErrCancelled) {
			err = cancelled(ctx.Err())
		}
		return e.fail(out, r, err)
	}

	out.Trades = r.book.Trades()
	out.Snapshots = r.book.Snapshots()
	m := analytics.Analyze(out.Snapshots, out.Trades, analytics.Options{
		InitialCapital: cfg.InitialCapital,
		RiskFreeRate:   cfg.RiskFreeRate,
	})
	final := cfg.InitialCapital
	if n := len(out.Snapshots); n > 0 {
		final = out.Snapshots[n-1].Equity
	}
	if err := result.Complete(e.now(), final, m); err != nil {
		return out, err
	}

	e.logger.LogRunCompleted(out.Stats.BarsProcessed, len(out.Trades), final.String(), m.TotalReturn, out.Duration)
	metrics.RecordBacktestRun(e.method, string(models.RunStatusCompleted), "", out.Duration.Seconds())
	metrics.RecordTotalReturn(cfg.StrategyID, m.TotalReturn)
	return out, nil
}

func (e *Engine) fail(out *Outcome, r *run, cause error) (*Outcome, error) {
	out.Trades = r.book.Trades()[:r.committed.trades]
	out.Snapshots = r.book.Snapshots()[:r.committed.snapshots]
	if err := out.Result.Fail(e.now(), cause); err != nil {
		return out, err
	}
	kind := models.FailureKindOf(cause)
	e.logger.LogRunFailed(string(kind), cause, out.Stats.BarsProcessed)
	metrics.RecordBacktestRun(e.method, string(models.RunStatusFailed), string(kind), out.Duration.Seconds())
	return out, cause
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %v", models.ErrCancelled, cause)
}

// replay is the per-date loop. For each date, in order: fills due at today's
// open are booked, the strategy sees history up to today, its orders are
// queued against each security's next bar, and the day is marked to market.
func (e *Engine) replay(ctx context.Context, r *run) error {
	cfg := e.config
	universe, err := series.LoadUniverse(ctx, e.source, cfg.Securities, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return err
	}
	r.universe = universe

	for _, date := range universe.Dates() {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		if err := e.settle(date, r); err != nil {
			return err
		}

		orders, err := e.decide(ctx, date, r)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}
		if err != nil {
			return err
		}
		e.route(date, orders, r)

		r.book.MarkToMarket(date, universe.Closes(date))
		if err := r.book.CheckInvariants(); err != nil {
			return err
		}
		r.stats.BarsProcessed++
		metrics.RecordBarProcessed()
		r.commit()
	}

	for _, p := range r.pending {
		e.reject(p.fillBar.Date, p.order.SecurityID, fmt.Errorf("%w: run ended", models.ErrOrderExpired), false, r)
	}
	return nil
}

// decide invokes the strategy with the no-lookahead view of date
func (e *Engine) decide(ctx context.Context, date time.Time, r *run) (orders []models.Order, err error) {
	sc := strategy.Context{
		Date:      date,
		History:   r.universe.Until(date),
		Portfolio: r.book.View(date),
		Scratch:   r.scratch,
	}

	began := time.Now()
	defer func() {
		metrics.RecordStrategyEvaluation(time.Since(began).Seconds())
		if rec := recover(); rec != nil {
			orders = nil
			err = &models.StrategyError{Strategy: e.strategy.Name(), Date: date, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	orders, err = e.strategy.OnBar(ctx, sc)
	if err != nil {
		return nil, &models.StrategyError{Strategy: e.strategy.Name(), Date: date, Err: err}
	}
	return orders, nil
}

// route queues each order against the next bar of its security
func (e *Engine) route(date time.Time, orders []models.Order, r *run) {
	for _, order := range orders {
		r.stats.OrdersIssued++
		metrics.RecordOrderIssued()

		order.SecurityID = models.NormalizeSecurityID(order.SecurityID)
		order.IssuedAt = date
		if order.LimitPrice != nil {
			limit := *order.LimitPrice
			order.LimitPrice = &limit
		}
		if err := order.Validate(); err != nil {
			e.reject(date, order.SecurityID, err, false, r)
			continue
		}

		s, ok := r.universe[order.SecurityID]
		if !ok {
			e.reject(date, order.SecurityID, fmt.Errorf("%w: %s", models.ErrUnknownSecurity, order.SecurityID), false, r)
			continue
		}
		if !s.Security().Tradable {
			e.reject(date, order.SecurityID, fmt.Errorf("%w: %s", models.ErrNotTradable, order.SecurityID), false, r)
			continue
		}
		next, ok := s.Next(date)
		if !ok {
			e.reject(date, order.SecurityID, fmt.Errorf("%w: no bar after %s", models.ErrOrderExpired, date.Format(models.DateLayout)), false, r)
			continue
		}
		r.pending = append(r.pending, pendingOrder{order: order, fillBar: next})
	}
}

// settle fills and books every pending order whose fill bar is dated today
func (e *Engine) settle(date time.Time, r *run) error {
	var carry []pendingOrder
	for _, p := range r.pending {
		if p.fillBar.Date.After(date) {
			carry = append(carry, p)
			continue
		}

		trade, err := e.simulator.Fill(p.order, p.fillBar)
		if err != nil && errors.Is(err, models.ErrOrderExpired) && e.config.PersistLimitOneBar && !p.retried {
			if next, ok := r.universe[p.order.SecurityID].Next(p.fillBar.Date); ok {
				carry = append(carry, pendingOrder{order: p.order, fillBar: next, retried: true})
				continue
			}
		}
		if err != nil {
			e.reject(date, p.order.SecurityID, err, trade != nil, r)
			if trade == nil {
				continue
			}
		}

		trade.ID = r.nextTradeID(e.id)
		booked, err := r.book.Apply(*trade)
		var invariant *models.InvariantError
		if errors.As(err, &invariant) {
			return err
		}
		if err != nil {
			e.reject(date, trade.SecurityID, err, booked != nil, r)
		}
		if booked == nil {
			continue
		}

		r.stats.Fills++
		metrics.RecordFill(string(booked.Side))
		e.logger.LogFill(booked.Date, booked.SecurityID, string(booked.Side), booked.Quantity,
			booked.Price.String(), booked.Commission.String())
	}
	r.pending = carry
	return nil
}

func (e *Engine) reject(date time.Time, securityID string, err error, booked bool, r *run) {
	reason := r.stats.record(err, booked)
	metrics.RecordRejection(reason)
	e.logger.LogOrderRejected(date, securityID, reason, err)
}
