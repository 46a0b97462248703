package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/analytics"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/health"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/repository"
	"github.com/yourusername/clever-backtest/internal/series"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func acmeSource(t *testing.T, prices ...float64) series.Source {
	t.Helper()
	bars := make([]models.PriceBar, len(prices))
	for i, p := range prices {
		price := decimal.NewFromFloat(p)
		bars[i] = models.PriceBar{
			SecurityID: "ACME",
			Date:       day0.AddDate(0, 0, i),
			Open:       price,
			High:       price.Add(decimal.NewFromInt(1)),
			Low:        price.Sub(decimal.NewFromInt(1)),
			Close:      price,
			Volume:     1_000_000,
		}
	}
	s, err := series.NewSeries(models.Security{ID: "ACME", Tradable: true}, bars)
	require.NoError(t, err)
	return series.NewMemorySource(s)
}

type blockingStrategy struct{ started chan struct{} }

func (b *blockingStrategy) Name() string                          { return "blocking" }
func (b *blockingStrategy) GetParameters() map[string]interface{} { return nil }

func (b *blockingStrategy) OnBar(ctx context.Context, _ strategy.Context) ([]models.Order, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	server  *httptest.Server
	manager *backtest.Manager
	started chan struct{}
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	started := make(chan struct{}, 1)
	reg := strategy.DefaultRegistry()
	reg.Register("blocking", "waits for cancellation", func(map[string]interface{}) (strategy.Strategy, error) {
		return &blockingStrategy{started: started}, nil
	})

	m := backtest.NewManager(reg, acmeSource(t, 10, 11, 12, 13, 14, 15), backtest.NopSink{}, 2, nil)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	opts := Options{
		Runner:        m,
		Registry:      reg,
		Health:        health.NewServer(health.Config{ServiceName: "clever-backtest"}),
		Defaults:      backtest.RunConfig{InitialCapital: decimal.NewFromInt(100_000)},
		WatchInterval: 10 * time.Millisecond,
		MetricsPath:   "/metrics",
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewServer(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{server: srv, manager: m, started: started}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func buyAndHold() map[string]interface{} {
	return map[string]interface{}{
		"strategy_id": strategy.BuyAndHoldName,
		"securities":  []string{"ACME"},
		"start_date":  "2024-01-01",
		"end_date":    "2024-01-06",
		"parameters":  map[string]interface{}{"fraction": 0.5},
	}
}

func (f *fixture) submit(t *testing.T, body map[string]interface{}) uuid.UUID {
	t.Helper()
	resp := f.post(t, "/api/v1/backtests", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out SubmitResponse
	decode(t, resp, &out)
	assert.Equal(t, "/api/v1/backtests/"+out.ID.String(), resp.Header.Get("Location"))
	return out.ID
}

func (f *fixture) wait(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = f.manager.Wait(ctx, id)
}

func TestSubmitAndFetchRun(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t, buyAndHold())
	f.wait(t, id)

	var res models.BacktestResult
	decode(t, f.get(t, "/api/v1/backtests/"+id.String()), &res)
	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.True(t, res.InitialCapital.Equal(decimal.NewFromInt(100_000)), "defaults apply")

	var trades []models.Trade
	decode(t, f.get(t, "/api/v1/backtests/"+id.String()+"/trades"), &trades)
	require.Len(t, trades, 1)
	assert.Equal(t, models.SideBuy, trades[0].Side)

	var curve analytics.EquityCurve
	decode(t, f.get(t, "/api/v1/backtests/"+id.String()+"/equity"), &curve)
	assert.Len(t, curve, 7)

	resp := f.get(t, "/api/v1/backtests/"+id.String()+"/equity?format=csv")
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "date,equity"))

	resp = f.get(t, "/api/v1/backtests/"+id.String()+"/report")
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Backtest Report")

	var list []models.BacktestResult
	decode(t, f.get(t, "/api/v1/backtests?strategy="+strategy.BuyAndHoldName), &list)
	assert.Len(t, list, 1)
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	badDate := buyAndHold()
	badDate["start_date"] = "01/01/2024"
	unknownStrategy := buyAndHold()
	unknownStrategy["strategy_id"] = "nope"
	reversed := buyAndHold()
	reversed["start_date"], reversed["end_date"] = "2024-02-01", "2024-01-01"
	unknownField := buyAndHold()
	unknownField["leverage"] = 3

	for name, body := range map[string]map[string]interface{}{
		"bad date":         badDate,
		"unknown strategy": unknownStrategy,
		"reversed range":   reversed,
		"unknown field":    unknownField,
	} {
		t.Run(name, func(t *testing.T) {
			resp := f.post(t, "/api/v1/backtests", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e ErrorResponse
			decode(t, resp, &e)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestUnknownRuns(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/backtests/"+uuid.NewString()).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/backtests/"+uuid.NewString()+"/trades").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/backtests/not-a-uuid").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/v1/backtests/"+uuid.NewString()+"/cancel", nil).StatusCode)
}

func TestCancelRunningRun(t *testing.T) {
	f := newFixture(t, nil)
	body := buyAndHold()
	body["strategy_id"] = "blocking"
	delete(body, "parameters")
	id := f.submit(t, body)

	select {
	case <-f.started:
	case <-time.After(10 * time.Second):
		t.Fatal("run never started")
	}
	assert.Equal(t, http.StatusConflict, f.get(t, "/api/v1/backtests/"+id.String()+"/trades").StatusCode)

	assert.Equal(t, http.StatusAccepted, f.post(t, "/api/v1/backtests/"+id.String()+"/cancel", nil).StatusCode)
	f.wait(t, id)

	var res models.BacktestResult
	decode(t, f.get(t, "/api/v1/backtests/"+id.String()), &res)
	assert.Equal(t, models.RunStatusFailed, res.Status)
	assert.Equal(t, string(models.FailureCancelled), res.ErrorKind)
	assert.Equal(t, http.StatusConflict, f.post(t, "/api/v1/backtests/"+id.String()+"/cancel", nil).StatusCode)

	trades := f.get(t, "/api/v1/backtests/"+id.String()+"/trades")
	assert.Equal(t, http.StatusConflict, trades.StatusCode)
	var errBody ErrorResponse
	decode(t, trades, &errBody)
	assert.Contains(t, errBody.Error, "cancelled")

	report := f.get(t, "/api/v1/backtests/"+id.String()+"/report")
	assert.Equal(t, http.StatusConflict, report.StatusCode)
	text, err := io.ReadAll(report.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), string(models.FailureCancelled))
}

func TestDataGapRunMapsTo422(t *testing.T) {
	f := newFixture(t, nil)
	body := buyAndHold()
	body["start_date"] = "2025-03-01"
	body["end_date"] = "2025-03-10"
	id := f.submit(t, body)
	f.wait(t, id)

	get := f.get(t, "/api/v1/backtests/"+id.String())
	assert.Equal(t, http.StatusOK, get.StatusCode)
	var res models.BacktestResult
	decode(t, get, &res)
	assert.Equal(t, models.RunStatusFailed, res.Status)
	assert.Equal(t, string(models.FailureDataGap), res.ErrorKind)

	assert.Equal(t, http.StatusUnprocessableEntity, f.get(t, "/api/v1/backtests/"+id.String()+"/trades").StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, f.get(t, "/api/v1/backtests/"+id.String()+"/equity").StatusCode)
	report := f.get(t, "/api/v1/backtests/"+id.String()+"/report")
	assert.Equal(t, http.StatusUnprocessableEntity, report.StatusCode)
	text, err := io.ReadAll(report.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), string(models.FailureDataGap))
}

func TestStoredFailedRunKeepsFailureStatus(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenSQLiteResultStore(ctx, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stored := models.NewBacktestResult("sma_cross", day0, day0.AddDate(0, 0, 5), []string{"ACME"}, decimal.NewFromInt(1000))
	require.NoError(t, stored.Start(day0))
	gap := &models.DataGapError{SecurityID: "ACME", Start: day0, End: day0.AddDate(0, 0, 5)}
	require.NoError(t, stored.Fail(day0, gap))
	require.NoError(t, store.Save(ctx, stored, nil, nil))

	f := newFixture(t, func(o *Options) { o.Store = store })
	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/backtests/"+stored.ID.String()).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, f.get(t, "/api/v1/backtests/"+stored.ID.String()+"/trades").StatusCode)
}

func TestSubmitRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.SubmitRate = 0.001
		o.SubmitBurst = 1
	})
	f.submit(t, buyAndHold())
	assert.Equal(t, http.StatusTooManyRequests, f.post(t, "/api/v1/backtests", buyAndHold()).StatusCode)
}

func TestStoredRunsServedFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenSQLiteResultStore(ctx, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stored := models.NewBacktestResult("sma_cross", day0, day0.AddDate(0, 0, 5), []string{"ACME"}, decimal.NewFromInt(1000))
	require.NoError(t, stored.Start(day0))
	require.NoError(t, stored.Complete(day0, decimal.NewFromInt(1100), models.Metrics{TotalReturn: 0.1}))
	snapshots := []models.PortfolioState{{Date: day0, Cash: decimal.NewFromInt(1100), Equity: decimal.NewFromInt(1100)}}
	require.NoError(t, store.Save(ctx, stored, nil, snapshots))

	f := newFixture(t, func(o *Options) { o.Store = store })

	var res models.BacktestResult
	decode(t, f.get(t, "/api/v1/backtests/"+stored.ID.String()), &res)
	assert.Equal(t, stored.ID, res.ID)

	var curve analytics.EquityCurve
	decode(t, f.get(t, "/api/v1/backtests/"+stored.ID.String()+"/equity"), &curve)
	require.Len(t, curve, 2)
	assert.Equal(t, 1100.0, curve[1].Value)

	var list []models.BacktestResult
	decode(t, f.get(t, "/api/v1/backtests?persisted=true"), &list)
	require.Len(t, list, 1)
	assert.Equal(t, stored.ID, list[0].ID)
}

func TestWatchStreamsUntilTerminal(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t, buyAndHold())

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/backtests/" + id.String() + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var last StatusFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for !last.Final {
		require.NoError(t, conn.ReadJSON(&last))
	}
	assert.Equal(t, models.RunStatusCompleted, last.Result.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestStrategiesAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	var strategies []strategy.StrategyMetadata
	decode(t, f.get(t, "/api/v1/strategies"), &strategies)
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, strategy.BuyAndHoldName)
	assert.Contains(t, names, "blocking")

	assert.Equal(t, http.StatusOK, f.get(t, "/health").StatusCode)
	assert.Equal(t, http.StatusOK, f.get(t, "/metrics").StatusCode)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusForError(models.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusForError(backtest.ErrInvalidConfig))
	assert.Equal(t, http.StatusConflict, StatusForError(models.ErrInvalidTransition))
	assert.Equal(t, http.StatusConflict, StatusForError(ErrNotTerminal))
	assert.Equal(t, http.StatusConflict, StatusForError(fmt.Errorf("run: %w", models.ErrCancelled)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusForError(fmt.Errorf("load: %w", &models.DataGapError{SecurityID: "ACME"})))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusForError(&RunFailedError{Kind: models.FailureDataGap}))
	assert.Equal(t, http.StatusConflict, StatusForError(&RunFailedError{Kind: models.FailureCancelled}))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(&models.StrategyError{Strategy: "x", Err: assert.AnError}))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(assert.AnError))
}
