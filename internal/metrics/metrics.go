// Package metrics provides centralized Prometheus metrics registry for the backtest service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clever_backtest"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	OrdersIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_issued_total",
		Help:      "Total number of orders issued by strategies",
	})
	FillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_total",
		Help:      "Total number of simulated fills by side",
	}, []string{"side"})
	OrderRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_rejections_total",
		Help:      "Total number of orders rejected, truncated or expired by reason",
	}, []string{"reason"})
	BarsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bars_processed_total",
		Help:      "Total number of simulated dates processed across runs",
	})
	SeriesCacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "series_cache_requests_total",
		Help:      "Price series cache lookups by result",
	}, []string{"result"})
)

// Gauge metrics
var (
	ActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Number of backtest runs currently executing",
	})
	QueuedRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queued_runs",
		Help:      "Number of submitted runs waiting for a worker",
	})
)

// Histogram metrics
var (
	StrategyEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "strategy_evaluation_duration_seconds",
		Help:      "Duration of a single strategy OnBar call in seconds",
		Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(OrdersIssuedTotal)
		registry.MustRegister(FillsTotal)
		registry.MustRegister(OrderRejectionsTotal)
		registry.MustRegister(BarsProcessedTotal)
		registry.MustRegister(SeriesCacheRequestsTotal)

		registry.MustRegister(ActiveRuns)
		registry.MustRegister(QueuedRuns)

		registry.MustRegister(StrategyEvaluationDuration)

		// Register backtest metrics
		registry.MustRegister(BacktestRunsTotal)
		registry.MustRegister(BacktestDuration)
		registry.MustRegister(BacktestTotalReturn)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordOrderIssued records an order emitted by a strategy.
func RecordOrderIssued() {
	OrdersIssuedTotal.Inc()
}

// RecordFill records a simulated fill.
func RecordFill(side string) {
	FillsTotal.WithLabelValues(side).Inc()
}

// RecordRejection records an order that did not fill in full.
// reason should be one of: "insufficient_funds", "overdrawn", "liquidity",
// "expired", "invalid"
func RecordRejection(reason string) {
	OrderRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordBarProcessed records one simulated date.
func RecordBarProcessed() {
	BarsProcessedTotal.Inc()
}

// RecordStrategyEvaluation records the duration of a strategy call.
func RecordStrategyEvaluation(durationSeconds float64) {
	StrategyEvaluationDuration.Observe(durationSeconds)
}

// RecordCacheLookup records a price series cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	SeriesCacheRequestsTotal.WithLabelValues(result).Inc()
}

// UpdateActiveRuns updates the executing runs gauge.
func UpdateActiveRuns(delta float64) {
	ActiveRuns.Add(delta)
}

// UpdateQueuedRuns updates the waiting runs gauge.
func UpdateQueuedRuns(delta float64) {
	QueuedRuns.Add(delta)
}
