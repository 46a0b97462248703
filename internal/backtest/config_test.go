package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/ledger"
)

func TestRunConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing strategy", func(c *RunConfig) { c.StrategyID = "" }},
		{"no securities", func(c *RunConfig) { c.Securities = nil }},
		{"reversed dates", func(c *RunConfig) { c.StartDate, c.EndDate = c.EndDate, c.StartDate }},
		{"missing end", func(c *RunConfig) { c.EndDate = time.Time{} }},
		{"zero capital", func(c *RunConfig) { c.InitialCapital = decimal.Zero }},
		{"negative commission", func(c *RunConfig) { c.Execution.CommissionRate = decimal.NewFromFloat(-0.01) }},
		{"risk free rate", func(c *RunConfig) { c.RiskFreeRate = 2 }},
		{"funds policy", func(c *RunConfig) { c.Ledger.Funds = "borrow" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig("buy_and_hold", 10, "ACME")
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Normalize().Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, baseConfig("buy_and_hold", 10, "ACME").Normalize().Validate())
}

func TestNormalize(t *testing.T) {
	cfg := baseConfig("buy_and_hold", 10, " acme ", "ACME", "init")
	cfg.StartDate = dayN(0).Add(15 * time.Hour)

	n := cfg.Normalize()
	assert.Equal(t, []string{"ACME", "INIT"}, n.Securities)
	assert.Equal(t, dayN(0), n.StartDate)
	assert.Equal(t, ledger.FundsReject, n.Ledger.Funds)
}

func TestParameterHash(t *testing.T) {
	a := baseConfig("sma_cross", 10, "ACME")
	a.Parameters = map[string]interface{}{"short": 5, "long": 20}
	b := baseConfig("sma_cross", 30, "INIT")
	b.Parameters = map[string]interface{}{"long": 20, "short": 5}
	assert.Equal(t, a.ParameterHash(), b.ParameterHash())

	b.Parameters["short"] = 6
	assert.NotEqual(t, a.ParameterHash(), b.ParameterHash())
}

func TestFromConfig(t *testing.T) {
	rc, err := FromConfig(&config.BacktestConfig{
		StartDate:            "2023-01-01",
		EndDate:              "2023-06-30",
		InitialCapital:       250000,
		CommissionRate:       0.001,
		FixedFee:             1,
		SlippageBps:          5,
		MaxParticipationRate: 0.1,
		PartialFills:         true,
		AllowShort:           true,
		FundsPolicy:          "truncate",
		RiskFreeRate:         0.02,
	})
	require.NoError(t, err)

	assert.True(t, rc.InitialCapital.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), rc.StartDate)
	assert.True(t, rc.Execution.SlippageBps.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, ledger.FundsTruncate, rc.Ledger.Funds)
	assert.True(t, rc.Ledger.AllowShort)

	rc.StrategyID = "buy_and_hold"
	rc.Securities = []string{"ACME"}
	assert.NoError(t, rc.Normalize().Validate())

	_, err = FromConfig(&config.BacktestConfig{StartDate: "June"})
	assert.Error(t, err)
	_, err = FromConfig(nil)
	assert.Error(t, err)
}
