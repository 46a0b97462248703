package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/models"
)

// ErrNotTerminal is returned when history is requested for an unfinished run
var ErrNotTerminal = errors.New("run has not finished")

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunFailedError is the recorded failure of a stored run whose original
// error value is gone
type RunFailedError struct {
	ID      uuid.UUID
	Kind    models.FailureKind
	Message string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s failed (%s): %s", e.ID, e.Kind, e.Message)
}

// StatusForError maps domain errors and run failure kinds to HTTP status codes
func StatusForError(err error) int {
	var failed *RunFailedError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backtest.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, ErrNotTerminal):
		return http.StatusConflict
	case errors.As(err, &failed):
		return statusForFailure(failed.Kind)
	default:
		return statusForFailure(models.FailureKindOf(err))
	}
}

func statusForFailure(kind models.FailureKind) int {
	switch kind {
	case models.FailureDataGap, models.FailureInvalidRun:
		return http.StatusUnprocessableEntity
	case models.FailureCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
