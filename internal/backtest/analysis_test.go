package backtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

func risingPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	return prices
}

func completedRun(t *testing.T) *Outcome {
	t.Helper()
	prices := risingPrices(12)
	strat := strategy.NewBuyAndHold(0.5)
	out, err := execute(t, baseConfig(strategy.BuyAndHoldName, len(prices), "ACME"), sourceOf(t, flatBars("ACME", prices...)), strat)
	require.NoError(t, err)
	return out
}

func TestWalkForwardWindows(t *testing.T) {
	prices := risingPrices(30)
	base := baseConfig(strategy.BuyAndHoldName, len(prices), "ACME")
	base.Parameters = map[string]interface{}{"fraction": 0.9}

	wf := WalkForward{Base: base, Source: sourceOf(t, flatBars("ACME", prices...)), Registry: strategy.DefaultRegistry()}
	result, err := wf.Run(context.Background(), WalkForwardConfig{TrainingWindowDays: 10, TestWindowDays: 5, StepSizeDays: 5})
	require.NoError(t, err)

	require.Len(t, result.Windows, 4)
	first := result.Windows[0]
	assert.Equal(t, dayN(0), first.TrainStart)
	assert.Equal(t, dayN(9), first.TrainEnd)
	assert.Equal(t, dayN(10), first.TestStart)
	assert.Equal(t, dayN(14), first.TestEnd)
	assert.Equal(t, 1.0, result.ConsistencyScore)
	assert.Greater(t, result.AggregatedMetrics.TotalReturn, 0.0)

	js, err := result.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, js, "consistency_score")
}

func TestWalkForwardSkipsWindowsWithoutData(t *testing.T) {
	prices := risingPrices(20)
	base := baseConfig(strategy.BuyAndHoldName, 40, "ACME")
	base.Parameters = map[string]interface{}{"fraction": 0.9}

	wf := WalkForward{Base: base, Source: sourceOf(t, flatBars("ACME", prices...)), Registry: strategy.DefaultRegistry()}
	result, err := wf.Run(context.Background(), WalkForwardConfig{TrainingWindowDays: 10, TestWindowDays: 10, StepSizeDays: 10})
	require.NoError(t, err)
	assert.Len(t, result.Windows, 1)
}

func TestWalkForwardRejectsBadConfig(t *testing.T) {
	wf := WalkForward{Base: baseConfig(strategy.BuyAndHoldName, 10, "ACME"), Registry: strategy.DefaultRegistry()}
	_, err := wf.Run(context.Background(), WalkForwardConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCalculateConsistency(t *testing.T) {
	windows := []WalkForwardWindow{
		{TestMetrics: &models.Metrics{TotalReturn: 0.1}},
		{TestMetrics: &models.Metrics{TotalReturn: -0.05}},
	}
	assert.Equal(t, 0.5, CalculateConsistency(windows))
	assert.Equal(t, 0.0, CalculateConsistency(nil))
}

func TestMonteCarloIsSeeded(t *testing.T) {
	out := completedRun(t)
	cfg := MonteCarloConfig{Iterations: 200, Seed: 7}

	a, err := RunMonteCarlo(context.Background(), out, cfg)
	require.NoError(t, err)
	b, err := RunMonteCarlo(context.Background(), out, cfg)
	require.NoError(t, err)

	assert.Equal(t, a.Distribution, b.Distribution)
	assert.Len(t, a.Distribution, 200)
	assert.GreaterOrEqual(t, a.ProbabilityOfProfit, 0.9)
	assert.Equal(t, 0.0, a.ProbabilityOfRuin)
	assert.Contains(t, a.ConfidenceIntervals, "95%")
}

func TestMonteCarloRequiresCompletedRun(t *testing.T) {
	_, err := RunMonteCarlo(context.Background(), nil, MonteCarloConfig{})
	assert.Error(t, err)

	failed := &Outcome{Result: models.NewBacktestResult("x", dayN(0), dayN(1), []string{"ACME"}, completedRun(t).Result.InitialCapital)}
	_, err = RunMonteCarlo(context.Background(), failed, MonteCarloConfig{})
	assert.Error(t, err)
}

func TestConsoleReport(t *testing.T) {
	out, err := execute(t, baseConfig("idle", 3, "ACME"), sourceOf(t, flatBars("ACME", 10, 10, 10)), idle())
	require.NoError(t, err)

	report := GenerateConsoleReport(out)
	assert.Contains(t, report, "Status: completed")
	assert.Contains(t, report, "Sharpe Ratio: n/a")
	assert.Contains(t, report, "Win Rate: n/a")
}

func TestExports(t *testing.T) {
	out := completedRun(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "reports", "metrics.csv")
	require.NoError(t, GenerateCSVExport(out.Result, csvPath))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "metric,value\n"))

	curvePath := filepath.Join(dir, "equity.csv")
	require.NoError(t, WriteEquityCurve(out, curvePath))
	data, err = os.ReadFile(curvePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "date,equity,drawdown,daily_pnl", lines[0])
	assert.Len(t, lines, 1+1+len(out.Snapshots))

	jsonPath := filepath.Join(dir, "equity.json")
	require.NoError(t, WriteEquityCurve(out, jsonPath))
	data, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "["))
}
