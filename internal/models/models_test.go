package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(open, high, low, close string) PriceBar {
	return PriceBar{
		SecurityID: "ACME",
		Date:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:       decimal.RequireFromString(open),
		High:       decimal.RequireFromString(high),
		Low:        decimal.RequireFromString(low),
		Close:      decimal.RequireFromString(close),
		Volume:     1000,
	}
}

func TestPriceBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		bar     PriceBar
		wantErr bool
	}{
		{name: "valid", bar: bar("10", "12", "9", "11")},
		{name: "flat", bar: bar("10", "10", "10", "10")},
		{name: "low above high", bar: bar("10", "9", "11", "10"), wantErr: true},
		{name: "open above high", bar: bar("13", "12", "9", "11"), wantErr: true},
		{name: "close below low", bar: bar("10", "12", "9", "8"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderValidate(t *testing.T) {
	assert.NoError(t, MarketOrder("ACME", SideBuy, 10).Validate())
	assert.NoError(t, LimitOrder("ACME", SideSell, 10, decimal.NewFromInt(5)).Validate())
	assert.Error(t, MarketOrder("ACME", SideBuy, 0).Validate())
	assert.Error(t, Order{SecurityID: "ACME", Side: SideBuy, Quantity: 1, Kind: OrderKindLimit}.Validate())
	assert.Error(t, MarketOrder("", SideBuy, 1).Validate())
}

func TestBacktestResultLifecycle(t *testing.T) {
	now := time.Now().UTC()
	result := NewBacktestResult("buy_and_hold", now, now, []string{"ACME"}, decimal.NewFromInt(1000))
	assert.Equal(t, RunStatusPending, result.Status)

	require.NoError(t, result.Start(now))
	require.NoError(t, result.Complete(now, decimal.NewFromInt(1100), Metrics{TotalReturn: 0.1}))
	assert.Equal(t, RunStatusCompleted, result.Status)
	require.NotNil(t, result.Metrics)

	err := result.Fail(now, errors.New("late"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, RunStatusCompleted, result.Status, "terminal results are never reopened")

	err = result.Start(now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBacktestResultFailClearsMetrics(t *testing.T) {
	now := time.Now().UTC()
	result := NewBacktestResult("s", now, now, nil, decimal.NewFromInt(1))
	require.NoError(t, result.Start(now))

	gap := &DataGapError{SecurityID: "ACME", Start: now, End: now}
	require.NoError(t, result.Fail(now, fmt.Errorf("load universe: %w", gap)))
	assert.Equal(t, RunStatusFailed, result.Status)
	assert.Nil(t, result.Metrics)
	assert.Equal(t, string(FailureDataGap), result.ErrorKind)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestFailureKindOf(t *testing.T) {
	assert.Equal(t, FailureNone, FailureKindOf(nil))
	assert.Equal(t, FailureCancelled, FailureKindOf(fmt.Errorf("run: %w", ErrCancelled)))
	assert.Equal(t, FailureStrategy, FailureKindOf(&StrategyError{Strategy: "x", Err: errors.New("boom")}))
	assert.Equal(t, FailureInvariant, FailureKindOf(&InvariantError{Reason: "negative cash"}))
	assert.Equal(t, FailureUnknown, FailureKindOf(errors.New("other")))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(&InsufficientFundsError{}))
	assert.True(t, IsRecoverable(&OverdrawnPositionError{}))
	assert.True(t, IsRecoverable(&InsufficientLiquidityError{}))
	assert.True(t, IsRecoverable(fmt.Errorf("fill: %w", ErrOrderExpired)))
	assert.False(t, IsRecoverable(&StrategyError{Err: errors.New("x")}))
}

func TestTradeCashDelta(t *testing.T) {
	buy := Trade{Side: SideBuy, Notional: decimal.NewFromInt(500), Commission: decimal.NewFromInt(1)}
	sell := Trade{Side: SideSell, Notional: decimal.NewFromInt(550), Commission: decimal.NewFromInt(1)}
	assert.True(t, buy.CashDelta().Equal(decimal.NewFromInt(-501)))
	assert.True(t, sell.CashDelta().Equal(decimal.NewFromInt(549)))
}

func TestBacktestResultCloneCopiesStatistics(t *testing.T) {
	now := time.Now().UTC()
	sharpe, winRate := 1.5, 0.6
	result := NewBacktestResult("s", now, now, []string{"ACME"}, decimal.NewFromInt(1000))
	require.NoError(t, result.Start(now))
	require.NoError(t, result.Complete(now, decimal.NewFromInt(1100), Metrics{SharpeRatio: &sharpe, WinRate: &winRate}))

	clone := result.Clone()
	*clone.Metrics.SharpeRatio = 9
	*clone.Metrics.WinRate = 0
	clone.Securities[0] = "XYZ"

	assert.Equal(t, 1.5, *result.Metrics.SharpeRatio)
	assert.Equal(t, 0.6, *result.Metrics.WinRate)
	assert.Nil(t, clone.Metrics.ProfitFactor)
	assert.Equal(t, "ACME", result.Securities[0])
}

func TestTradeIsClosing(t *testing.T) {
	assert.False(t, Trade{Side: SideSell, Quantity: 10}.IsClosing(), "a sell that opens a short closes nothing")
	assert.True(t, Trade{Side: SideBuy, Quantity: 10, ClosedQuantity: 10}.IsClosing())
	assert.True(t, Trade{Side: SideSell, Quantity: 10, ClosedQuantity: 4}.IsClosing())
}
