package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Custom errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrCancelled         = errors.New("backtest cancelled")
	ErrOrderExpired      = errors.New("order expired unfilled")
	ErrInvalidTransition = errors.New("invalid run status transition")
	ErrUnknownSecurity   = errors.New("unknown security")
	ErrNotTradable       = errors.New("security is not tradable")
)

// FailureKind classifies fatal run errors
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureDataGap    FailureKind = "data_gap"
	FailureStrategy   FailureKind = "strategy_error"
	FailureInvariant  FailureKind = "invariant_violation"
	FailureCancelled  FailureKind = "cancelled"
	FailureInvalidRun FailureKind = "invalid_run"
	FailureUnknown    FailureKind = "unknown"
)

// DataGapError reports a requested date range with no bars
type DataGapError struct {
	SecurityID string
	Start      time.Time
	End        time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("no price bars for %s between %s and %s",
		e.SecurityID, e.Start.Format(DateLayout), e.End.Format(DateLayout))
}

// InsufficientFundsError reports a buy whose total cost exceeds cash
type InsufficientFundsError struct {
	SecurityID string
	Required   decimal.Decimal
	Available  decimal.Decimal
	// FilledQuantity is non-zero when the buy was truncated rather than rejected
	FilledQuantity int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: required %s, available %s",
		e.SecurityID, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// OverdrawnPositionError reports a sell exceeding the held quantity
type OverdrawnPositionError struct {
	SecurityID string
	Requested  int64
	Held       int64
}

func (e *OverdrawnPositionError) Error() string {
	return fmt.Sprintf("sell of %d %s exceeds held quantity %d", e.Requested, e.SecurityID, e.Held)
}

// InsufficientLiquidityError reports an order above the participation cap
type InsufficientLiquidityError struct {
	SecurityID string
	Requested  int64
	Cap        int64
	// Capped is true when the order was partially filled up to Cap
	Capped bool
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("order of %d %s exceeds liquidity cap %d", e.Requested, e.SecurityID, e.Cap)
}

// StrategyError wraps an error or panic raised by a strategy
type StrategyError struct {
	Strategy string
	Date     time.Time
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s failed on %s: %v", e.Strategy, e.Date.Format(DateLayout), e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// InvariantError reports an unrecoverable ledger or ordering violation
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Reason
}

// FailureKindOf classifies an error that terminated a run
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var gap *DataGapError
	var strat *StrategyError
	var inv *InvariantError
	switch {
	case errors.Is(err, ErrCancelled):
		return FailureCancelled
	case errors.As(err, &gap):
		return FailureDataGap
	case errors.As(err, &strat):
		return FailureStrategy
	case errors.As(err, &inv):
		return FailureInvariant
	case errors.Is(err, ErrUnknownSecurity):
		return FailureInvalidRun
	default:
		return FailureUnknown
	}
}

// IsRecoverable reports whether an order-level error is absorbed at the bar level
func IsRecoverable(err error) bool {
	var funds *InsufficientFundsError
	var over *OverdrawnPositionError
	var liq *InsufficientLiquidityError
	return errors.As(err, &funds) || errors.As(err, &over) || errors.As(err, &liq) ||
		errors.Is(err, ErrOrderExpired) || errors.Is(err, ErrNotTradable)
}
