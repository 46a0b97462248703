package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/clever-backtest/internal/analytics"
	"github.com/yourusername/clever-backtest/internal/models"
)

// GenerateConsoleReport formats a run for terminal output
func GenerateConsoleReport(out *Outcome) string {
	result := out.Result
	var builder strings.Builder
	builder.WriteString("Backtest Report\n")
	builder.WriteString("================\n")
	builder.WriteString(fmt.Sprintf("Run: %s\n", result.ID))
	builder.WriteString(fmt.Sprintf("Strategy: %s\n", result.StrategyID))
	builder.WriteString(fmt.Sprintf("Period: %s to %s\n", result.StartDate.Format(models.DateLayout), result.EndDate.Format(models.DateLayout)))
	builder.WriteString(fmt.Sprintf("Status: %s\n", result.Status))
	if result.Status == models.RunStatusFailed {
		builder.WriteString(fmt.Sprintf("Failure: %s (%s)\n", result.ErrorKind, result.ErrorMessage))
		return builder.String()
	}

	m := result.Metrics
	builder.WriteString(fmt.Sprintf("Initial Capital: %s\n", result.InitialCapital.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Final Capital: %s\n", result.FinalCapital.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Total Return: %.2f%%\n", m.TotalReturn*100))
	builder.WriteString(fmt.Sprintf("Annualized Return: %.2f%%\n", m.AnnualizedReturn*100))
	builder.WriteString(fmt.Sprintf("Sharpe Ratio: %s\n", formatOptional(m.SharpeRatio, 1, "")))
	builder.WriteString(fmt.Sprintf("Sortino Ratio: %s\n", formatOptional(m.SortinoRatio, 1, "")))
	builder.WriteString(fmt.Sprintf("Max Drawdown: %.2f%%\n", m.MaxDrawdown*100))
	builder.WriteString(fmt.Sprintf("Win Rate: %s\n", formatOptional(m.WinRate, 100, "%")))
	builder.WriteString(fmt.Sprintf("Profit Factor: %s\n", formatOptional(m.ProfitFactor, 1, "")))
	builder.WriteString(fmt.Sprintf("Trades: %d (%d closed)\n", m.TotalTrades, m.ClosedTrades))
	builder.WriteString(fmt.Sprintf("Commission: %.2f\n", m.TotalCommission))
	builder.WriteString(fmt.Sprintf("Orders: %d issued, %d filled, %d rejected, %d truncated, %d expired\n",
		out.Stats.OrdersIssued, out.Stats.Fills, out.Stats.Rejected, out.Stats.Truncated, out.Stats.Expired))
	return builder.String()
}

func formatOptional(v *float64, scale float64, suffix string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%s", *v*scale, suffix)
}

// GenerateCSVExport exports key metrics for spreadsheets
func GenerateCSVExport(result *models.BacktestResult, outputPath string) error {
	if result.Metrics == nil {
		return fmt.Errorf("run %s has no metrics", result.ID)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	m := result.Metrics
	csv := "metric,value\n" +
		fmt.Sprintf("total_return,%.6f\n", m.TotalReturn) +
		fmt.Sprintf("annualized_return,%.6f\n", m.AnnualizedReturn) +
		fmt.Sprintf("sharpe_ratio,%s\n", csvOptional(m.SharpeRatio)) +
		fmt.Sprintf("sortino_ratio,%s\n", csvOptional(m.SortinoRatio)) +
		fmt.Sprintf("max_drawdown,%.6f\n", m.MaxDrawdown) +
		fmt.Sprintf("win_rate,%s\n", csvOptional(m.WinRate)) +
		fmt.Sprintf("profit_factor,%s\n", csvOptional(m.ProfitFactor)) +
		fmt.Sprintf("total_trades,%d\n", m.TotalTrades) +
		fmt.Sprintf("final_capital,%s\n", result.FinalCapital.String())
	return os.WriteFile(outputPath, []byte(csv), 0o644)
}

func csvOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *v)
}

// WriteEquityCurve writes the run's equity curve as JSON when outputPath
// ends in .json and as CSV otherwise.
func WriteEquityCurve(out *Outcome, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	curve := analytics.NewEquityCurve(out.Result.InitialCapital.InexactFloat64(), out.Snapshots)
	data := curve.ToCSV()
	if strings.EqualFold(filepath.Ext(outputPath), ".json") {
		js, err := curve.ToJSON()
		if err != nil {
			return err
		}
		data = js
	}
	return os.WriteFile(outputPath, []byte(data), 0o644)
}
