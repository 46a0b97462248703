// Package logger provides backtest-run logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RunLogger provides dedicated logging for a single backtest run.
type RunLogger struct {
	*logrus.Entry
}

// NewRunLogger creates a run logger tagged with the run and strategy.
func NewRunLogger(baseLogger *logrus.Logger, runID, strategyID string) *RunLogger {
	if baseLogger == nil {
		baseLogger = Discard()
	}
	return &RunLogger{
		Entry: baseLogger.WithFields(logrus.Fields{
			"component":   "backtest",
			"run_id":      runID,
			"strategy_id": strategyID,
		}),
	}
}

// LogRunStarted logs the start of a run.
func (rl *RunLogger) LogRunStarted(start, end time.Time, securities []string, initialCapital string) {
	rl.WithFields(logrus.Fields{
		"start":           start.Format("2006-01-02"),
		"end":             end.Format("2006-01-02"),
		"securities":      securities,
		"initial_capital": initialCapital,
	}).Info("Starting backtest run")
}

// LogFill logs a booked trade.
func (rl *RunLogger) LogFill(date time.Time, securityID, side string, quantity int64, price, commission string) {
	rl.WithFields(logrus.Fields{
		"date":        date.Format("2006-01-02"),
		"security_id": securityID,
		"side":        side,
		"quantity":    quantity,
		"price":       price,
		"commission":  commission,
	}).Debug("Order filled")
}

// LogOrderRejected logs an order that was rejected, truncated or expired.
func (rl *RunLogger) LogOrderRejected(date time.Time, securityID, reason string, err error) {
	rl.WithFields(logrus.Fields{
		"date":        date.Format("2006-01-02"),
		"security_id": securityID,
		"reason":      reason,
		"error":       err,
	}).Debug("Order not filled in full")
}

// LogRunCompleted logs a successful run.
func (rl *RunLogger) LogRunCompleted(bars, trades int, finalCapital string, totalReturn float64, duration time.Duration) {
	rl.WithFields(logrus.Fields{
		"bars":          bars,
		"trades":        trades,
		"final_capital": finalCapital,
		"total_return":  totalReturn,
		"duration_ms":   duration.Milliseconds(),
	}).Info("Backtest run completed")
}

// LogRunFailed logs a failed run.
func (rl *RunLogger) LogRunFailed(kind string, err error, bars int) {
	rl.WithFields(logrus.Fields{
		"failure_kind": kind,
		"error":        err,
		"bars":         bars,
	}).Warn("Backtest run failed")
}
