// Package analytics computes performance metrics from a finished run's
// snapshot and trade history.
package analytics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

// TradingDaysPerYear is the annualization basis for returns and ratios
const TradingDaysPerYear = 252

// Options carries the run-level inputs the analyzer needs besides history
type Options struct {
	InitialCapital decimal.Decimal
	// RiskFreeRate is an annual rate, spread evenly over trading days
	RiskFreeRate float64
}

// Analyze computes metrics for a completed run. It never mutates its inputs
// and returns identical results for identical histories.
func Analyze(snapshots []models.PortfolioState, trades []models.Trade, opts Options) models.Metrics {
	initial := opts.InitialCapital.InexactFloat64()
	curve := NewEquityCurve(initial, snapshots)
	returns := curve.Returns()

	m := models.Metrics{
		TradingDays: len(snapshots),
		TotalTrades: len(trades),
		MaxDrawdown: curve.MaxDrawdown(),
	}

	if initial > 0 && len(snapshots) > 0 {
		final := snapshots[len(snapshots)-1].Equity
		m.TotalReturn = final.Div(opts.InitialCapital).Sub(decimal.NewFromInt(1)).InexactFloat64()
	}
	m.AnnualizedReturn = annualize(m.TotalReturn, len(snapshots))

	rf := opts.RiskFreeRate / TradingDaysPerYear
	m.SharpeRatio = sharpeRatio(returns, rf)
	m.SortinoRatio = sortinoRatio(returns, rf)
	if len(returns) > 1 {
		m.Volatility = stddev(returns) * math.Sqrt(TradingDaysPerYear)
	}
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = ptr(m.AnnualizedReturn / m.MaxDrawdown)
	}
	m.ValueAtRisk95 = valueAtRisk(returns, 0.95)
	m.ValueAtRisk99 = valueAtRisk(returns, 0.99)

	applyTradeStats(&m, trades)
	return m
}

func applyTradeStats(m *models.Metrics, trades []models.Trade) {
	realized := decimal.Zero
	commission := decimal.Zero
	slippage := decimal.Zero
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero

	for _, t := range trades {
		commission = commission.Add(t.Commission)
		slippage = slippage.Add(t.Slippage)
		if !t.IsClosing() {
			continue
		}
		m.ClosedTrades++
		realized = realized.Add(t.RealizedPnL)
		if t.RealizedPnL.IsNegative() {
			m.LosingTrades++
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
		} else {
			m.WinningTrades++
			grossProfit = grossProfit.Add(t.RealizedPnL)
		}
	}

	m.RealizedPnL = realized.InexactFloat64()
	m.TotalCommission = commission.InexactFloat64()
	m.TotalSlippage = slippage.InexactFloat64()
	if m.ClosedTrades > 0 {
		m.WinRate = ptr(float64(m.WinningTrades) / float64(m.ClosedTrades))
	}
	if grossLoss.IsPositive() {
		m.ProfitFactor = ptr(grossProfit.Div(grossLoss).InexactFloat64())
	}
}

// annualize compounds a total return over n trading days to a 252-day year.
// A total loss annualizes to -1; losses beyond it under margin are clamped.
func annualize(total float64, n int) float64 {
	if n == 0 {
		return 0
	}
	if total <= -1 {
		return -1
	}
	return math.Pow(1+total, float64(TradingDaysPerYear)/float64(n)) - 1
}

func sharpeRatio(returns []float64, rf float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	std := stddev(returns)
	if std == 0 {
		return nil
	}
	return ptr((average(returns) - rf) / std * math.Sqrt(TradingDaysPerYear))
}

func sortinoRatio(returns []float64, rf float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	dd := downsideDeviation(returns)
	if dd == 0 {
		return nil
	}
	return ptr((average(returns) - rf) / dd * math.Sqrt(TradingDaysPerYear))
}

// valueAtRisk returns the historical return quantile at the given confidence
func valueAtRisk(returns []float64, level float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	index := int(math.Floor((1.0 - level) * float64(len(sorted))))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := average(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

// downsideDeviation is the root mean square of negative returns
func downsideDeviation(values []float64) float64 {
	sum := 0.0
	count := 0
	for _, v := range values {
		if v < 0 {
			sum += v * v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

func ptr(v float64) *float64 {
	return &v
}
