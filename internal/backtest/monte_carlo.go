package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/yourusername/clever-backtest/internal/analytics"
	"github.com/yourusername/clever-backtest/internal/models"
)

// MonteCarloConfig configures bootstrap resampling of a run's daily returns
type MonteCarloConfig struct {
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed"`
	// RuinThreshold is the equity fraction at or below which a path counts as ruined
	RuinThreshold float64 `json:"ruin_threshold"`
}

// MonteCarloResult represents monte carlo outcomes as fractional returns
type MonteCarloResult struct {
	Iterations          int                `json:"iterations"`
	MeanReturn          float64            `json:"mean_return"`
	StdReturn           float64            `json:"std_return"`
	VaR95               float64            `json:"var_95"`
	VaR99               float64            `json:"var_99"`
	ProbabilityOfProfit float64            `json:"probability_of_profit"`
	ProbabilityOfRuin   float64            `json:"probability_of_ruin"`
	ConfidenceIntervals map[string]float64 `json:"confidence_intervals"`
	Distribution        []float64          `json:"distribution"`
}

// RunMonteCarlo resamples the per-bar returns of a completed run with
// replacement and reports the distribution of total returns. The same seed
// always produces the same result.
func RunMonteCarlo(ctx context.Context, out *Outcome, cfg MonteCarloConfig) (MonteCarloResult, error) {
	if out == nil || out.Result == nil || out.Result.Status != models.RunStatusCompleted {
		return MonteCarloResult{}, fmt.Errorf("monte carlo requires a completed run")
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1000
	}
	if cfg.RuinThreshold <= 0 {
		cfg.RuinThreshold = 0.5
	}

	returns := analytics.NewEquityCurve(out.Result.InitialCapital.InexactFloat64(), out.Snapshots).Returns()
	if len(returns) == 0 {
		return MonteCarloResult{}, fmt.Errorf("monte carlo requires at least one simulated bar")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	distribution := make([]float64, cfg.Iterations)
	ruined := 0
	for i := 0; i < cfg.Iterations; i++ {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return MonteCarloResult{}, err
			}
		}
		equity := 1.0
		hitRuin := false
		for range returns {
			equity *= 1 + returns[rng.Intn(len(returns))]
			if equity <= cfg.RuinThreshold {
				hitRuin = true
			}
		}
		if hitRuin {
			ruined++
		}
		distribution[i] = equity - 1
	}

	mean, std := meanStd(distribution)
	return MonteCarloResult{
		Iterations:          cfg.Iterations,
		MeanReturn:          mean,
		StdReturn:           std,
		VaR95:               percentile(distribution, 0.05),
		VaR99:               percentile(distribution, 0.01),
		ProbabilityOfProfit: probabilityAbove(distribution, 0),
		ProbabilityOfRuin:   float64(ruined) / float64(cfg.Iterations),
		ConfidenceIntervals: CalculateConfidenceIntervals(distribution, []float64{0.9, 0.95, 0.99}),
		Distribution:        distribution,
	}, nil
}

// CalculateConfidenceIntervals computes the width of central intervals of the distribution
func CalculateConfidenceIntervals(distribution []float64, levels []float64) map[string]float64 {
	results := make(map[string]float64)
	for _, level := range levels {
		p := (1.0 - level) / 2.0
		low := percentile(distribution, p)
		high := percentile(distribution, 1.0-p)
		results[formatPercent(level)] = high - low
	}
	return results
}

// ToJSON exports the monte carlo result
func (m MonteCarloResult) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	idx := int(math.Floor(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func probabilityAbove(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v > threshold {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

func formatPercent(level float64) string {
	return fmt.Sprintf("%.0f%%", level*100)
}
