// Package metrics defines backtesting-specific metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Backtest counter vectors
var (
	BacktestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backtest_runs_total",
		Help:      "Total number of backtest runs by method, status and failure kind",
	}, []string{"method", "status", "kind"})
)

// Backtest histogram vectors
var (
	BacktestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backtest_duration_seconds",
		Help:      "Duration of backtest runs in seconds",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"method"})
	BacktestTotalReturn = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backtest_total_return",
		Help:      "Total return of completed runs by strategy",
		Buckets:   []float64{-0.5, -0.2, -0.1, -0.05, 0, 0.05, 0.1, 0.2, 0.5, 1},
	}, []string{"strategy_id"})
)

// RecordBacktestRun records a finished backtest run.
// method should be one of: "historical_replay", "walk_forward"
// status should be one of: "completed", "failed"
func RecordBacktestRun(method, status, kind string, durationSeconds float64) {
	BacktestRunsTotal.WithLabelValues(method, status, kind).Inc()
	BacktestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordTotalReturn records the total return of a completed run.
func RecordTotalReturn(strategyID string, totalReturn float64) {
	BacktestTotalReturn.WithLabelValues(strategyID).Observe(totalReturn)
}
