package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

// WalkForwardConfig configures walk-forward evaluation
type WalkForwardConfig struct {
	TrainingWindowDays int `json:"training_window_days" validate:"min=1"`
	TestWindowDays     int `json:"test_window_days" validate:"min=1"`
	StepSizeDays       int `json:"step_size_days" validate:"min=0"`
	MinTradesPerWindow int `json:"min_trades_per_window" validate:"min=0"`
}

// WalkForwardWindow represents one walk-forward window
type WalkForwardWindow struct {
	WindowID     int             `json:"window_id"`
	TrainStart   time.Time       `json:"train_start"`
	TrainEnd     time.Time       `json:"train_end"`
	TestStart    time.Time       `json:"test_start"`
	TestEnd      time.Time       `json:"test_end"`
	TrainMetrics *models.Metrics `json:"train_metrics"`
	TestMetrics  *models.Metrics `json:"test_metrics"`
}

// WalkForwardResult represents walk-forward evaluation result
type WalkForwardResult struct {
	Windows           []WalkForwardWindow `json:"windows"`
	AggregatedMetrics models.Metrics      `json:"aggregated_metrics"`
	ConsistencyScore  float64             `json:"consistency_score"`
	OverfitScore      float64             `json:"overfit_score"`
}

// WalkForward runs fresh engines over rolling train/test windows of a base config
type WalkForward struct {
	Base     RunConfig
	Source   series.Source
	Registry *strategy.Registry
	Logger   *logrus.Logger
}

// Run performs walk-forward evaluation. Windows without bars are skipped;
// any other failed window aborts the evaluation.
func (w WalkForward) Run(ctx context.Context, cfg WalkForwardConfig) (WalkForwardResult, error) {
	if err := validate.Struct(cfg); err != nil {
		return WalkForwardResult{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.StepSizeDays <= 0 {
		cfg.StepSizeDays = cfg.TestWindowDays
	}

	start := models.DateOnly(w.Base.StartDate)
	end := models.DateOnly(w.Base.EndDate)
	windows := []WalkForwardWindow{}
	windowID := 0

	for current := start; current.Before(end); current = current.AddDate(0, 0, cfg.StepSizeDays) {
		trainStart := current
		trainEnd := trainStart.AddDate(0, 0, cfg.TrainingWindowDays-1)
		testStart := trainEnd.AddDate(0, 0, 1)
		testEnd := testStart.AddDate(0, 0, cfg.TestWindowDays-1)
		if testStart.After(end) {
			break
		}
		if testEnd.After(end) {
			testEnd = end
		}

		windowID++
		train, err := w.runWindow(ctx, trainStart, trainEnd)
		if err != nil {
			if isDataGap(err) {
				continue
			}
			return WalkForwardResult{}, err
		}
		test, err := w.runWindow(ctx, testStart, testEnd)
		if err != nil {
			if isDataGap(err) {
				continue
			}
			return WalkForwardResult{}, err
		}
		if !meetsTradeThreshold(cfg.MinTradesPerWindow, train, test) {
			continue
		}

		windows = append(windows, WalkForwardWindow{
			WindowID:     windowID,
			TrainStart:   trainStart,
			TrainEnd:     trainEnd,
			TestStart:    testStart,
			TestEnd:      testEnd,
			TrainMetrics: train.Result.Metrics,
			TestMetrics:  test.Result.Metrics,
		})
	}

	return WalkForwardResult{
		Windows:           windows,
		AggregatedMetrics: aggregateWalkForward(windows),
		ConsistencyScore:  CalculateConsistency(windows),
		OverfitScore:      calculateOverfitScore(windows),
	}, nil
}

func (w WalkForward) runWindow(ctx context.Context, start, end time.Time) (*Outcome, error) {
	cfg := w.Base
	cfg.StartDate, cfg.EndDate = start, end
	strat, err := w.Registry.New(cfg.StrategyID, cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	engine, err := NewEngine(cfg, w.Source, strat, w.Logger)
	if err != nil {
		return nil, err
	}
	engine.method = methodWalkForward
	return engine.Execute(ctx)
}

func isDataGap(err error) bool {
	var gap *models.DataGapError
	return errors.As(err, &gap)
}

func meetsTradeThreshold(minTrades int, train, test *Outcome) bool {
	if minTrades <= 0 {
		return true
	}
	return len(train.Trades) >= minTrades && len(test.Trades) >= minTrades
}

// CalculateConsistency calculates percentage of profitable test windows
func CalculateConsistency(windows []WalkForwardWindow) float64 {
	if len(windows) == 0 {
		return 0
	}
	profitable := 0
	for _, w := range windows {
		if w.TestMetrics.TotalReturn > 0 {
			profitable++
		}
	}
	return float64(profitable) / float64(len(windows))
}

func calculateOverfitScore(windows []WalkForwardWindow) float64 {
	if len(windows) == 0 {
		return 0
	}
	trainReturn := 0.0
	testReturn := 0.0
	for _, w := range windows {
		trainReturn += w.TrainMetrics.TotalReturn
		testReturn += w.TestMetrics.TotalReturn
	}
	if trainReturn == 0 {
		return 0
	}
	return (trainReturn - testReturn) / trainReturn
}

// aggregateWalkForward averages test-window metrics. Sharpe is averaged over
// the windows where it is defined.
func aggregateWalkForward(windows []WalkForwardWindow) models.Metrics {
	if len(windows) == 0 {
		return models.Metrics{}
	}
	metrics := models.Metrics{}
	sharpeSum := 0.0
	sharpeCount := 0
	for _, w := range windows {
		metrics.TotalReturn += w.TestMetrics.TotalReturn
		metrics.MaxDrawdown += w.TestMetrics.MaxDrawdown
		metrics.TotalTrades += w.TestMetrics.TotalTrades
		metrics.TradingDays += w.TestMetrics.TradingDays
		if w.TestMetrics.SharpeRatio != nil {
			sharpeSum += *w.TestMetrics.SharpeRatio
			sharpeCount++
		}
	}
	metrics.TotalReturn /= float64(len(windows))
	metrics.MaxDrawdown /= float64(len(windows))
	if sharpeCount > 0 {
		avg := sharpeSum / float64(sharpeCount)
		metrics.SharpeRatio = &avg
	}
	return metrics
}

// ToJSON exports the walk-forward result
func (w WalkForwardResult) ToJSON() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
