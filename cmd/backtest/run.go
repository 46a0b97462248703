package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

type runOptions struct {
	strategyID  string
	securities  []string
	startDate   string
	endDate     string
	params      string
	output      string
	persist     bool
	monteCarlo  int
	seed        int64
	walkForward bool
	wf          backtest.WalkForwardConfig
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest and print its report",
		Example: `  backtest run --strategy sma_cross --securities ACME,INIT --start 2023-01-01 --end 2023-12-31 \
    --params '{"short":10,"long":50}' --monte-carlo 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.strategyID, "strategy", "s", strategy.BuyAndHoldName, "Strategy to run")
	f.StringSliceVar(&opts.securities, "securities", nil, "Comma separated security ids")
	f.StringVar(&opts.startDate, "start", "", "Start date (YYYY-MM-DD), defaults to backtest.start_date")
	f.StringVar(&opts.endDate, "end", "", "End date (YYYY-MM-DD), defaults to backtest.end_date")
	f.StringVar(&opts.params, "params", "", "Strategy parameters as a JSON object")
	f.StringVarP(&opts.output, "output", "o", "", "Directory for CSV and equity exports, defaults to backtest.output_path")
	f.BoolVar(&opts.persist, "persist", false, "Save the run to the configured result store")
	f.IntVar(&opts.monteCarlo, "monte-carlo", 0, "Monte Carlo iterations, 0 uses backtest.monte_carlo_iterations")
	f.Int64Var(&opts.seed, "seed", 1, "Monte Carlo seed")
	f.BoolVar(&opts.walkForward, "walk-forward", false, "Also run walk-forward evaluation")
	f.IntVar(&opts.wf.TrainingWindowDays, "train-days", 90, "Walk-forward training window in days")
	f.IntVar(&opts.wf.TestWindowDays, "test-days", 30, "Walk-forward test window in days")
	f.IntVar(&opts.wf.StepSizeDays, "step-days", 30, "Walk-forward step in days")
	f.IntVar(&opts.wf.MinTradesPerWindow, "min-trades", 0, "Skip walk-forward windows with fewer test trades")
	_ = cmd.MarkFlagRequired("securities")
	return cmd
}

func (o *runOptions) runConfig() (backtest.RunConfig, error) {
	rc, err := backtest.FromConfig(&cfg.Backtest)
	if err != nil {
		return rc, err
	}
	rc.StrategyID = o.strategyID
	rc.Securities = o.securities
	if o.startDate != "" {
		if rc.StartDate, err = models.ParseDate(o.startDate); err != nil {
			return rc, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if o.endDate != "" {
		if rc.EndDate, err = models.ParseDate(o.endDate); err != nil {
			return rc, fmt.Errorf("invalid end date: %w", err)
		}
	}
	if o.params != "" {
		if err := json.Unmarshal([]byte(o.params), &rc.Parameters); err != nil {
			return rc, fmt.Errorf("invalid --params: %w", err)
		}
	}
	return rc, rc.Normalize().Validate()
}

func runBacktest(cmd *cobra.Command, o *runOptions) error {
	ctx := cmd.Context()
	rc, err := o.runConfig()
	if err != nil {
		return err
	}

	deps, err := openDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	registry := strategy.DefaultRegistry()
	strat, err := registry.New(rc.StrategyID, rc.Parameters)
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(rc, deps.source, strat, appLog)
	if err != nil {
		return err
	}

	// a failed run still produces a report; the error is returned after exports
	out, runErr := engine.Execute(ctx)
	if out == nil {
		return runErr
	}
	fmt.Fprint(cmd.OutOrStdout(), backtest.GenerateConsoleReport(out))

	if o.persist {
		if deps.store == nil {
			appLog.Warn("No result store configured; run not persisted")
		} else if err := deps.store.Save(ctx, out.Result, out.Trades, out.Snapshots); err != nil {
			return fmt.Errorf("failed to persist run: %w", err)
		}
	}

	if err := exportRun(out, o.outputDir()); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	iterations := o.monteCarlo
	if iterations == 0 {
		iterations = cfg.Backtest.MonteCarloIterations
	}
	if iterations > 0 {
		mc, err := backtest.RunMonteCarlo(ctx, out, backtest.MonteCarloConfig{Iterations: iterations, Seed: o.seed})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nMonte Carlo (%d paths): mean %.2f%%, VaR95 %.2f%%, P(profit) %.1f%%\n",
			mc.Iterations, mc.MeanReturn*100, mc.VaR95*100, mc.ProbabilityOfProfit*100)
	}

	if o.walkForward {
		wf := backtest.WalkForward{Base: rc, Source: deps.source, Registry: registry, Logger: appLog}
		result, err := wf.Run(ctx, o.wf)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nWalk-forward: %d windows, consistency %.2f, overfit %.2f\n",
			len(result.Windows), result.ConsistencyScore, result.OverfitScore)
		if dir := o.outputDir(); dir != "" {
			data, err := result.ToJSON()
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, "walk_forward.json"), []byte(data), 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *runOptions) outputDir() string {
	if o.output != "" {
		return o.output
	}
	return cfg.Backtest.OutputPath
}

func exportRun(out *backtest.Outcome, dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	prefix := filepath.Join(dir, out.Result.ID.String())
	if out.Result.Metrics != nil {
		if err := backtest.GenerateCSVExport(out.Result, prefix+"_metrics.csv"); err != nil {
			return err
		}
	}
	if err := backtest.WriteEquityCurve(out, prefix+"_equity.csv"); err != nil {
		return err
	}
	appLog.WithField("path", dir).Info("Run exported")
	return nil
}
