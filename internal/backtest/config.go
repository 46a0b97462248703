package backtest

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/execution"
	"github.com/yourusername/clever-backtest/internal/ledger"
	"github.com/yourusername/clever-backtest/internal/models"
)

// ErrInvalidConfig wraps every RunConfig validation failure
var ErrInvalidConfig = errors.New("invalid run config")

var validate = validator.New()

// RunConfig is the immutable configuration of one backtest run
type RunConfig struct {
	StrategyID         string                 `json:"strategy_id" validate:"required,max=64"`
	Securities         []string               `json:"securities" validate:"required,min=1,max=500,dive,required,max=32"`
	StartDate          time.Time              `json:"start_date"`
	EndDate            time.Time              `json:"end_date"`
	InitialCapital     decimal.Decimal        `json:"initial_capital"`
	Execution          execution.Config       `json:"execution"`
	Ledger             ledger.Policy          `json:"ledger"`
	PersistLimitOneBar bool                   `json:"persist_limit_one_bar"`
	RiskFreeRate       float64                `json:"risk_free_rate" validate:"gte=0,lte=1"`
	Parameters         map[string]interface{} `json:"parameters,omitempty"`
}

// FromConfig converts app config to run defaults. Callers add the strategy,
// universe and date range before validating.
func FromConfig(cfg *config.BacktestConfig) (RunConfig, error) {
	if cfg == nil {
		return RunConfig{}, fmt.Errorf("backtest config is required")
	}

	rc := RunConfig{
		InitialCapital: decimal.NewFromFloat(cfg.InitialCapital),
		Execution: execution.Config{
			CommissionRate:       decimal.NewFromFloat(cfg.CommissionRate),
			FixedFee:             decimal.NewFromFloat(cfg.FixedFee),
			SlippageBps:          decimal.NewFromFloat(cfg.SlippageBps),
			MaxParticipationRate: decimal.NewFromFloat(cfg.MaxParticipationRate),
			PartialFills:         cfg.PartialFills,
		},
		Ledger: ledger.Policy{
			AllowMargin: cfg.AllowMargin,
			AllowShort:  cfg.AllowShort,
			Funds:       ledger.FundsPolicy(cfg.FundsPolicy),
		},
		PersistLimitOneBar: cfg.PersistLimitOneBar,
		RiskFreeRate:       cfg.RiskFreeRate,
	}
	if cfg.StartDate != "" {
		start, err := models.ParseDate(cfg.StartDate)
		if err != nil {
			return RunConfig{}, fmt.Errorf("invalid start date: %w", err)
		}
		rc.StartDate = start
	}
	if cfg.EndDate != "" {
		end, err := models.ParseDate(cfg.EndDate)
		if err != nil {
			return RunConfig{}, fmt.Errorf("invalid end date: %w", err)
		}
		rc.EndDate = end
	}
	return rc, rc.Execution.Validate()
}

// Normalize returns a copy with dates truncated to days and ids normalized
func (c RunConfig) Normalize() RunConfig {
	c.StartDate = models.DateOnly(c.StartDate)
	c.EndDate = models.DateOnly(c.EndDate)
	ids := make([]string, 0, len(c.Securities))
	seen := make(map[string]bool, len(c.Securities))
	for _, id := range c.Securities {
		id = models.NormalizeSecurityID(id)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	c.Securities = ids
	if c.Ledger.Funds == "" {
		c.Ledger.Funds = ledger.FundsReject
	}
	return c
}

// Validate validates run config parameters
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidConfig)
	}
	if c.StartDate.After(c.EndDate) {
		return fmt.Errorf("%w: start date must not be after end date", ErrInvalidConfig)
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial capital must be positive", ErrInvalidConfig)
	}
	if err := c.Execution.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Ledger.Funds {
	case "", ledger.FundsReject, ledger.FundsTruncate:
	default:
		return fmt.Errorf("%w: unknown funds policy %q", ErrInvalidConfig, c.Ledger.Funds)
	}
	return nil
}

// ParameterHash identifies the strategy parameters and cost model of a run,
// independent of its date range and universe.
func (c RunConfig) ParameterHash() string {
	return HashParameters(map[string]interface{}{
		"strategy":              c.StrategyID,
		"parameters":            c.Parameters,
		"execution":             c.Execution,
		"ledger":                c.Ledger,
		"persist_limit_one_bar": c.PersistLimitOneBar,
	})
}

// HashParameters creates a stable hash for parameter maps
func HashParameters(params map[string]interface{}) string {
	data, _ := json.Marshal(params)
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
