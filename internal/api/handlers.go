package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/analytics"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/execution"
	"github.com/yourusername/clever-backtest/internal/ledger"
	"github.com/yourusername/clever-backtest/internal/models"
)

const defaultListLimit = 50

// SubmitRequest is the body of POST /api/v1/backtests. Unset optional fields
// fall back to the server defaults.
type SubmitRequest struct {
	StrategyID         string                 `json:"strategy_id"`
	Securities         []string               `json:"securities"`
	StartDate          string                 `json:"start_date"`
	EndDate            string                 `json:"end_date"`
	InitialCapital     *decimal.Decimal       `json:"initial_capital,omitempty"`
	Parameters         map[string]interface{} `json:"parameters,omitempty"`
	Execution          *execution.Config      `json:"execution,omitempty"`
	Ledger             *ledger.Policy         `json:"ledger,omitempty"`
	PersistLimitOneBar *bool                  `json:"persist_limit_one_bar,omitempty"`
	RiskFreeRate       *float64               `json:"risk_free_rate,omitempty"`
}

// SubmitResponse is returned with 202 Accepted
type SubmitResponse struct {
	ID     uuid.UUID        `json:"id"`
	Status models.RunStatus `json:"status"`
}

// RunConfig merges the request onto defaults
func (req SubmitRequest) RunConfig(defaults backtest.RunConfig) (backtest.RunConfig, error) {
	cfg := defaults
	cfg.StrategyID = req.StrategyID
	cfg.Securities = req.Securities
	cfg.Parameters = req.Parameters

	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return cfg, fmt.Errorf("%w: start_date: %v", backtest.ErrInvalidConfig, err)
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		return cfg, fmt.Errorf("%w: end_date: %v", backtest.ErrInvalidConfig, err)
	}
	cfg.StartDate, cfg.EndDate = start, end

	if req.InitialCapital != nil {
		cfg.InitialCapital = *req.InitialCapital
	}
	if req.Execution != nil {
		cfg.Execution = *req.Execution
	}
	if req.Ledger != nil {
		cfg.Ledger = *req.Ledger
	}
	if req.PersistLimitOneBar != nil {
		cfg.PersistLimitOneBar = *req.PersistLimitOneBar
	}
	if req.RiskFreeRate != nil {
		cfg.RiskFreeRate = *req.RiskFreeRate
	}
	return cfg, cfg.Normalize().Validate()
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	cfg, err := req.RunConfig(s.opts.Defaults)
	if err != nil {
		writeError(w, StatusForError(err), err)
		return
	}
	id, err := s.opts.Runner.Submit(cfg)
	if err != nil {
		writeError(w, StatusForError(err), err)
		return
	}
	s.logger.WithField("run_id", id).WithField("strategy", cfg.StrategyID).Info("Backtest submitted")
	w.Header().Set("Location", "/api/v1/backtests/"+id.String())
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id, Status: models.RunStatusPending})
}

// handleList returns in-process runs. With ?persisted=true it also returns the
// latest stored runs this process does not know about.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	strategyID := q.Get("strategy")
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	seen := make(map[uuid.UUID]bool)
	results := make([]*models.BacktestResult, 0)
	for _, res := range s.opts.Runner.List() {
		if strategyID != "" && res.StrategyID != strategyID {
			continue
		}
		seen[res.ID] = true
		results = append(results, res)
	}

	if q.Get("persisted") == "true" && s.opts.Store != nil {
		var stored []*models.BacktestResult
		var err error
		if strategyID != "" {
			stored, err = s.opts.Store.GetByStrategyID(r.Context(), strategyID, limit)
		} else {
			stored, err = s.opts.Store.GetLatest(r.Context(), limit)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, res := range stored {
			if !seen[res.ID] {
				results = append(results, res)
			}
		}
	}

	if len(results) > limit {
		results = results[len(results)-limit:]
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	res, err := s.opts.Runner.Get(id)
	if errors.Is(err, models.ErrNotFound) && s.opts.Store != nil {
		res, err = s.opts.Store.GetByID(r.Context(), id)
	}
	if err != nil {
		writeError(w, StatusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	if err := s.opts.Runner.Cancel(id); err != nil {
		writeError(w, StatusForError(err), err)
		return
	}
	s.logger.WithField("run_id", id).Info("Backtest cancellation requested")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	out, err := s.history(r.Context(), id)
	if err != nil {
		writeError(w, StatusForError(err), err)
		return
	}
	trades := out.Trades
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	out, err := s.history(r.Context(), id)
	if err != nil {
		writeError(w, StatusForError(err), err)
		return
	}
	curve := analytics.NewEquityCurve(out.Result.InitialCapital.InexactFloat64(), out.Snapshots)

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(curve.ToCSV()))
	case "", "json":
		writeJSON(w, http.StatusOK, curve)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	out, err := s.history(r.Context(), id)
	if out == nil {
		writeError(w, StatusForError(err), err)
		return
	}
	// a failed run still has a report; the status carries its failure kind
	status := http.StatusOK
	if err != nil {
		status = StatusForError(err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(backtest.GenerateConsoleReport(out)))
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Registry.Describe())
}

// history returns the full record of a terminal run, from the runner when it
// is known in-process and from the store otherwise. For a failed run both the
// outcome and its failure cause are returned.
func (s *Server) history(ctx context.Context, id uuid.UUID) (*backtest.Outcome, error) {
	res, err := s.opts.Runner.Get(id)
	if err == nil {
		if !res.Status.IsTerminal() {
			return nil, fmt.Errorf("run %s is %s: %w", id, res.Status, ErrNotTerminal)
		}
		out, runErr := s.opts.Runner.Wait(ctx, id)
		if out == nil {
			return nil, runErr
		}
		if runErr != nil {
			return out, fmt.Errorf("run %s failed: %w", id, runErr)
		}
		return out, nil
	}
	if !errors.Is(err, models.ErrNotFound) || s.opts.Store == nil {
		return nil, err
	}

	res, err = s.opts.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	trades, err := s.opts.Store.GetTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.opts.Store.GetSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &backtest.Outcome{Result: res, Trades: trades, Snapshots: snapshots}
	if res.Status == models.RunStatusFailed {
		return out, &RunFailedError{ID: id, Kind: models.FailureKind(res.ErrorKind), Message: res.ErrorMessage}
	}
	return out, nil
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id %q", r.PathValue("id")))
		return uuid.Nil, false
	}
	return id, true
}
