package backtest

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/execution"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

func idle() strategy.Strategy {
	return &funcStrategy{name: "idle", fn: func(context.Context, strategy.Context) ([]models.Order, error) {
		return nil, nil
	}}
}

func TestRunWithoutOrdersKeepsCapital(t *testing.T) {
	src := sourceOf(t, flatBars("ACME", 10, 11, 12, 11, 10))
	out, err := execute(t, baseConfig("idle", 5, "ACME"), src, idle())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, out.Result.Status)
	require.NotNil(t, out.Result.Metrics)
	assert.Equal(t, 0.0, out.Result.Metrics.TotalReturn)
	assert.Equal(t, 0.0, out.Result.Metrics.MaxDrawdown)
	assert.Nil(t, out.Result.Metrics.WinRate)
	assert.Empty(t, out.Trades)
	assert.Len(t, out.Snapshots, 5)
	assert.Equal(t, 5, out.Stats.BarsProcessed)
	assert.True(t, out.Result.FinalCapital.Equal(decimal.NewFromInt(1_000_000)))
}

func TestScheduledRoundTrip(t *testing.T) {
	prices := []float64{48, 50, 50, 51, 52, 53, 54, 54, 55, 56, 55}
	src := sourceOf(t, flatBars("ACME", prices...))
	strat := strategy.NewScheduled([]strategy.PlannedOrder{
		{Date: dayN(0), SecurityID: "ACME", Side: models.SideBuy, Quantity: 100},
		{Date: dayN(9), SecurityID: "ACME", Side: models.SideSell, SellAll: true},
	})

	out, err := execute(t, baseConfig(strategy.ScheduledName, len(prices), "ACME"), src, strat)
	require.NoError(t, err)
	require.Len(t, out.Trades, 2)

	buy, sell := out.Trades[0], out.Trades[1]
	assert.Equal(t, dayN(1), buy.Date)
	assert.True(t, buy.Price.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, dayN(10), sell.Date)
	assert.True(t, sell.Price.Equal(decimal.NewFromInt(55)))
	assert.Equal(t, int64(100), sell.Quantity)
	assert.True(t, sell.RealizedPnL.Equal(decimal.NewFromInt(500)))

	m := out.Result.Metrics
	require.NotNil(t, m)
	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.ClosedTrades)
	require.NotNil(t, m.WinRate)
	assert.Equal(t, 1.0, *m.WinRate)
	assert.InDelta(t, 500.0, m.RealizedPnL, 1e-9)
	assert.True(t, out.Result.FinalCapital.Equal(decimal.NewFromInt(1_000_500)))
	assert.InDelta(t, 0.0005, m.TotalReturn, 1e-12)
}

func TestCostsAndParticipationCapThroughEngine(t *testing.T) {
	bars := flatBars("ACME", 100, 100, 110, 110, 120)
	for i := range bars {
		bars[i].Volume = 1000
	}
	src := sourceOf(t, bars)
	strat := strategy.NewScheduled([]strategy.PlannedOrder{
		{Date: dayN(0), SecurityID: "ACME", Side: models.SideBuy, Quantity: 250},
		{Date: dayN(2), SecurityID: "ACME", Side: models.SideSell, SellAll: true},
	})
	cfg := baseConfig(strategy.ScheduledName, len(bars), "ACME")
	cfg.Execution = execution.Config{
		CommissionRate:       decimal.RequireFromString("0.001"),
		FixedFee:             decimal.NewFromInt(1),
		SlippageBps:          decimal.NewFromInt(10),
		MaxParticipationRate: decimal.RequireFromString("0.1"),
		PartialFills:         true,
	}

	out, err := execute(t, cfg, src, strat)
	require.NoError(t, err)
	require.Len(t, out.Trades, 2)
	assert.Equal(t, 1, out.Stats.Capped)

	buy, sell := out.Trades[0], out.Trades[1]
	assert.Equal(t, int64(100), buy.Quantity, "capped at 10% of volume")
	assert.True(t, buy.Price.Equal(decimal.RequireFromString("100.1")))
	assert.True(t, buy.Commission.Equal(decimal.RequireFromString("10.01")))
	assert.True(t, buy.Slippage.Equal(decimal.NewFromInt(10)))
	assert.Zero(t, buy.ClosedQuantity)

	assert.Equal(t, int64(100), sell.Quantity)
	assert.True(t, sell.Price.Equal(decimal.RequireFromString("109.89")))
	assert.True(t, sell.Commission.Equal(decimal.RequireFromString("10.99")))
	assert.True(t, sell.RealizedPnL.Equal(decimal.NewFromInt(979)))
	assert.Equal(t, int64(100), sell.ClosedQuantity)

	// every snapshot's cash is initial capital plus the cash deltas booked so far
	cash := cfg.InitialCapital
	next := 0
	for _, snap := range out.Snapshots {
		for next < len(out.Trades) && !out.Trades[next].Date.After(snap.Date) {
			cash = cash.Add(out.Trades[next].CashDelta())
			next++
		}
		assert.True(t, cash.Equal(snap.Cash), "cash on %s: want %s, got %s", snap.Date, cash, snap.Cash)
		equity := snap.Cash
		for _, pos := range snap.Positions {
			equity = equity.Add(pos.MarketValue)
		}
		assert.True(t, equity.Equal(snap.Equity))
	}

	assert.True(t, out.Result.FinalCapital.Equal(decimal.RequireFromString("1000958")))
	m := out.Result.Metrics
	require.NotNil(t, m)
	assert.InDelta(t, 21.0, m.TotalCommission, 1e-9)
	assert.InDelta(t, 21.0, m.TotalSlippage, 1e-9)
	assert.Equal(t, 1, m.ClosedTrades)
}

func TestFillsAreVisibleOnFillDate(t *testing.T) {
	src := sourceOf(t, flatBars("ACME", 10, 10, 10))
	var held []int64
	strat := &funcStrategy{name: "observer", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		held = append(held, sc.Portfolio.Position("ACME").Quantity)
		if sc.Date.Equal(dayN(0)) {
			return []models.Order{models.MarketOrder("acme", models.SideBuy, 5)}, nil
		}
		return nil, nil
	}}

	_, err := execute(t, baseConfig("observer", 3, "ACME"), src, strat)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 5, 5}, held)
}

func TestStrategyNeverSeesFutureBars(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15, 16, 17}
	var violations int
	var seen []int
	strat := &funcStrategy{name: "observer", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		s := sc.History["ACME"]
		last, ok := s.Last()
		if !ok || last.Date.After(sc.Date) {
			violations++
		}
		seen = append(seen, s.Len())
		return nil, nil
	}}

	_, err := execute(t, baseConfig("observer", len(prices), "ACME"), sourceOf(t, flatBars("ACME", prices...)), strat)
	require.NoError(t, err)
	assert.Zero(t, violations)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, seen)
}

func TestDecisionsIgnoreLaterData(t *testing.T) {
	base := []float64{10, 11, 12, 11, 10, 11, 12, 13, 12, 11, 12, 13}
	altered := append([]float64{}, base...)
	for i := 8; i < len(altered); i++ {
		altered[i] = altered[i] * 3
	}

	decisions := func(prices []float64) map[time.Time]int {
		sma, err := strategy.NewSMACross(2, 3, 10)
		require.NoError(t, err)
		got := map[time.Time]int{}
		observer := &funcStrategy{name: "sma", fn: func(ctx context.Context, sc strategy.Context) ([]models.Order, error) {
			orders, err := sma.OnBar(ctx, sc)
			got[sc.Date] = len(orders)
			return orders, err
		}}
		_, err = execute(t, baseConfig("sma", len(prices), "ACME"), sourceOf(t, flatBars("ACME", prices...)), observer)
		require.NoError(t, err)
		return got
	}

	a, b := decisions(base), decisions(altered)
	for i := 0; i < 8; i++ {
		assert.Equal(t, a[dayN(i)], b[dayN(i)], "decision on day %d", i)
	}
}

func TestInsufficientFundsIsNotFatal(t *testing.T) {
	cfg := baseConfig("greedy", 3, "ACME")
	cfg.InitialCapital = decimal.NewFromInt(1000)
	strat := &funcStrategy{name: "greedy", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		if sc.Date.Equal(dayN(0)) {
			return []models.Order{models.MarketOrder("ACME", models.SideBuy, 100)}, nil
		}
		return nil, nil
	}}

	out, err := execute(t, cfg, sourceOf(t, flatBars("ACME", 50, 50, 50)), strat)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, out.Result.Status)
	assert.Empty(t, out.Trades)
	assert.Equal(t, 1, out.Stats.Rejected)
}

func TestUnknownSecurityOrderIsRejected(t *testing.T) {
	strat := &funcStrategy{name: "typo", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		return []models.Order{models.MarketOrder("NOPE", models.SideBuy, 1)}, nil
	}}
	out, err := execute(t, baseConfig("typo", 2, "ACME"), sourceOf(t, flatBars("ACME", 10, 10)), strat)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Stats.Rejected)
	assert.Equal(t, 2, out.Stats.OrdersIssued)
}

func TestEmptyRangeFailsWithDataGap(t *testing.T) {
	cfg := baseConfig("idle", 3, "ACME")
	cfg.StartDate = dayN(100)
	cfg.EndDate = dayN(110)

	out, err := execute(t, cfg, sourceOf(t, flatBars("ACME", 10, 11, 12)), idle())
	require.Error(t, err)
	var gap *models.DataGapError
	assert.ErrorAs(t, err, &gap)
	assert.Equal(t, models.RunStatusFailed, out.Result.Status)
	assert.Equal(t, string(models.FailureDataGap), out.Result.ErrorKind)
	assert.Nil(t, out.Result.Metrics)
}

func TestStrategyErrorFailsRun(t *testing.T) {
	boom := errors.New("boom")
	strat := &funcStrategy{name: "faulty", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		if sc.Date.Equal(dayN(2)) {
			return nil, boom
		}
		return nil, nil
	}}

	out, err := execute(t, baseConfig("faulty", 5, "ACME"), sourceOf(t, flatBars("ACME", 10, 11, 12, 13, 14)), strat)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, string(models.FailureStrategy), out.Result.ErrorKind)
	assert.Len(t, out.Snapshots, 2)
}

func TestStrategyPanicIsContained(t *testing.T) {
	strat := &funcStrategy{name: "panicky", fn: func(context.Context, strategy.Context) ([]models.Order, error) {
		panic("index out of range")
	}}

	out, err := execute(t, baseConfig("panicky", 3, "ACME"), sourceOf(t, flatBars("ACME", 10, 11, 12)), strat)
	var se *models.StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, dayN(0), se.Date)
	assert.Equal(t, models.RunStatusFailed, out.Result.Status)
	assert.Empty(t, out.Snapshots)
}

func TestCancellationKeepsCompletedBars(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strat := &funcStrategy{name: "cancel", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		if sc.Date.Equal(dayN(3)) {
			cancel()
		}
		return []models.Order{models.MarketOrder("ACME", models.SideBuy, 1)}, nil
	}}

	engine, err := NewEngine(baseConfig("cancel", 6, "ACME"), sourceOf(t, flatBars("ACME", 10, 11, 12, 13, 14, 15)), strat, nil)
	require.NoError(t, err)
	out, err := engine.Execute(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.Equal(t, string(models.FailureCancelled), out.Result.ErrorKind)
	assert.Len(t, out.Snapshots, 3)
	assert.Len(t, out.Trades, 2)
	assert.Nil(t, out.Result.Metrics)
}

func TestLimitOrderPersistence(t *testing.T) {
	bars := flatBars("ACME", 50, 50, 40, 40)
	strat := func() strategy.Strategy {
		return &funcStrategy{name: "limit", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
			if sc.Date.Equal(dayN(0)) {
				return []models.Order{models.LimitOrder("ACME", models.SideBuy, 10, decimal.NewFromInt(40))}, nil
			}
			return nil, nil
		}}
	}

	cfg := baseConfig("limit", 4, "ACME")
	out, err := execute(t, cfg, sourceOf(t, bars), strat())
	require.NoError(t, err)
	assert.Empty(t, out.Trades)
	assert.Equal(t, 1, out.Stats.Expired)

	cfg.PersistLimitOneBar = true
	out, err = execute(t, cfg, sourceOf(t, bars), strat())
	require.NoError(t, err)
	require.Len(t, out.Trades, 1)
	assert.Equal(t, dayN(2), out.Trades[0].Date)
	assert.True(t, out.Trades[0].Price.Equal(decimal.NewFromInt(40)))
}

func TestTradeIDsDeriveFromRunID(t *testing.T) {
	strat := &funcStrategy{name: "daily", fn: func(_ context.Context, sc strategy.Context) ([]models.Order, error) {
		return []models.Order{models.MarketOrder("ACME", models.SideBuy, 1)}, nil
	}}
	engine, err := NewEngine(baseConfig("daily", 4, "ACME"), sourceOf(t, flatBars("ACME", 10, 10, 10, 10)), strat, nil)
	require.NoError(t, err)
	out, err := engine.Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, out.Trades, 3)
	for i, trade := range out.Trades {
		assert.Equal(t, uuid.NewSHA1(engine.ID(), []byte(strconv.Itoa(i+1))), trade.ID)
	}
}

func TestEngineExecutesOnce(t *testing.T) {
	engine, err := NewEngine(baseConfig("idle", 2, "ACME"), sourceOf(t, flatBars("ACME", 10, 10)), idle(), nil)
	require.NoError(t, err)
	_, err = engine.Execute(context.Background())
	require.NoError(t, err)
	_, err = engine.Execute(context.Background())
	assert.Error(t, err)
}

func TestSameInputsSameMetrics(t *testing.T) {
	prices := []float64{10, 11, 9, 12, 13, 12, 14, 15, 13, 16}
	run := func() *Outcome {
		strat, err := strategy.DefaultRegistry().New(strategy.BuyAndHoldName, map[string]interface{}{"fraction": 0.5})
		require.NoError(t, err)
		out, err := execute(t, baseConfig(strategy.BuyAndHoldName, len(prices), "ACME"), sourceOf(t, flatBars("ACME", prices...)), strat)
		require.NoError(t, err)
		return out
	}
	a, b := run(), run()
	assert.Equal(t, a.Result.Metrics, b.Result.Metrics)
	assert.True(t, a.Result.FinalCapital.Equal(b.Result.FinalCapital))
	assert.Equal(t, a.Result.ParameterHash, b.Result.ParameterHash)
}
