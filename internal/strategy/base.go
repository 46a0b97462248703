package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/series"
)

// BaseStrategy provides shared functionality for strategies
type BaseStrategy struct {
	// AllocationFraction is the share of cash a single entry may use
	AllocationFraction float64
}

// ValidateTemporalSafety ensures no visible bar is dated after the current date
func (b *BaseStrategy) ValidateTemporalSafety(current time.Time, history series.Universe) error {
	for id, s := range history {
		last, ok := s.Last()
		if ok && last.Date.After(current) {
			return fmt.Errorf("temporal safety violation: %s bar %s after %s", id,
				last.Date.Format(models.DateLayout), current.Format(models.DateLayout))
		}
	}
	return nil
}

// SizePosition returns the whole number of shares that cash × fraction buys at price
func (b *BaseStrategy) SizePosition(cash, price decimal.Decimal) int64 {
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}
	fraction := b.NormalizeFraction(b.AllocationFraction)
	budget := cash.Mul(decimal.NewFromFloat(fraction))
	return budget.Div(price).Floor().IntPart()
}

// NormalizeFraction clamps a fraction into (0, 1], defaulting to 1
func (b *BaseStrategy) NormalizeFraction(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f > 1 {
		return 1
	}
	return f
}

// SMA returns the simple moving average of the last n values ending at index end
func SMA(values []float64, end, n int) (float64, bool) {
	if n <= 0 || end < n-1 || end >= len(values) {
		return 0, false
	}
	sum := 0.0
	for i := end - n + 1; i <= end; i++ {
		sum += values[i]
	}
	return sum / float64(n), true
}

func floatParam(params map[string]interface{}, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("parameter %s: unsupported type %T", key, raw)
	}
}

func intParam(params map[string]interface{}, key string, def int64) (int64, error) {
	f, err := floatParam(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %s: %v is not a whole number", key, f)
	}
	return int64(f), nil
}
