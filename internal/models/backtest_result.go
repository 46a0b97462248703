package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunStatus represents the lifecycle state of a backtest run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Metrics holds the performance statistics of a completed run.
// Pointer fields are nil when the statistic is undefined.
type Metrics struct {
	TotalReturn      float64  `json:"total_return"`
	AnnualizedReturn float64  `json:"annualized_return"`
	MaxDrawdown      float64  `json:"max_drawdown"`
	SharpeRatio      *float64 `json:"sharpe_ratio"`
	SortinoRatio     *float64 `json:"sortino_ratio"`
	CalmarRatio      *float64 `json:"calmar_ratio"`
	Volatility       float64  `json:"volatility"`
	ValueAtRisk95    float64  `json:"var_95"`
	ValueAtRisk99    float64  `json:"var_99"`
	WinRate          *float64 `json:"win_rate"`
	ProfitFactor     *float64 `json:"profit_factor"`
	TotalTrades      int      `json:"total_trades"`
	ClosedTrades     int      `json:"closed_trades"`
	WinningTrades    int      `json:"winning_trades"`
	LosingTrades     int      `json:"losing_trades"`
	TradingDays      int      `json:"trading_days"`
	RealizedPnL      float64  `json:"realized_pnl"`
	TotalCommission  float64  `json:"total_commission"`
	TotalSlippage    float64  `json:"total_slippage"`
}

// Clone returns a copy whose optional statistics do not alias m's
func (m Metrics) Clone() Metrics {
	c := m
	c.SharpeRatio = cloneFloat(m.SharpeRatio)
	c.SortinoRatio = cloneFloat(m.SortinoRatio)
	c.CalmarRatio = cloneFloat(m.CalmarRatio)
	c.WinRate = cloneFloat(m.WinRate)
	c.ProfitFactor = cloneFloat(m.ProfitFactor)
	return c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// BacktestResult represents one backtest run and its outcome
type BacktestResult struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	StrategyID     string          `db:"strategy_id" json:"strategy_id"`
	StartDate      time.Time       `db:"start_date" json:"start_date"`
	EndDate        time.Time       `db:"end_date" json:"end_date"`
	Securities     []string        `db:"securities" json:"securities"`
	InitialCapital decimal.Decimal `db:"initial_capital" json:"initial_capital"`
	FinalCapital   decimal.Decimal `db:"final_capital" json:"final_capital"`
	ParameterHash  string          `db:"parameter_hash" json:"parameter_hash"`
	Metrics        *Metrics        `db:"metrics" json:"metrics,omitempty"`
	Status         RunStatus       `db:"status" json:"status"`
	ErrorKind      string          `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage   string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	StartedAt      *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// NewBacktestResult creates a result in the pending state
func NewBacktestResult(strategyID string, start, end time.Time, securities []string, initialCapital decimal.Decimal) *BacktestResult {
	return &BacktestResult{
		ID:             uuid.New(),
		StrategyID:     strategyID,
		StartDate:      start,
		EndDate:        end,
		Securities:     append([]string(nil), securities...),
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
		Status:         RunStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// Start transitions the result from pending to running
func (r *BacktestResult) Start(at time.Time) error {
	if err := r.transition(RunStatusRunning); err != nil {
		return err
	}
	r.StartedAt = &at
	return nil
}

// Complete transitions a running result to completed with its metrics
func (r *BacktestResult) Complete(at time.Time, finalCapital decimal.Decimal, metrics Metrics) error {
	if err := r.transition(RunStatusCompleted); err != nil {
		return err
	}
	r.FinalCapital = finalCapital
	r.Metrics = &metrics
	r.CompletedAt = &at
	return nil
}

// Fail transitions a pending or running result to failed. Metrics are cleared.
func (r *BacktestResult) Fail(at time.Time, cause error) error {
	if err := r.transition(RunStatusFailed); err != nil {
		return err
	}
	r.Metrics = nil
	r.ErrorKind = string(FailureKindOf(cause))
	if cause != nil {
		r.ErrorMessage = cause.Error()
	}
	r.CompletedAt = &at
	return nil
}

func (r *BacktestResult) transition(next RunStatus) error {
	allowed := false
	switch r.Status {
	case RunStatusPending:
		allowed = next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		allowed = next == RunStatusCompleted || next == RunStatusFailed
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Clone returns a copy that shares no mutable state with r
func (r *BacktestResult) Clone() *BacktestResult {
	c := *r
	c.Securities = append([]string(nil), r.Securities...)
	if r.Metrics != nil {
		m := r.Metrics.Clone()
		c.Metrics = &m
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
