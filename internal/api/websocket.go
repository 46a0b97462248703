package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourusername/clever-backtest/internal/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StatusFrame is pushed to /watch subscribers
type StatusFrame struct {
	Result *models.BacktestResult `json:"result"`
	Final  bool                   `json:"final"`
}

// handleWatch streams the run's status until it is terminal, then closes
// the connection with a normal closure.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	done, err := s.opts.Runner.Done(id)
	if err != nil {
		writeError(w, StatusForError(err), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// drain client frames so close messages are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.WatchInterval)
	defer ticker.Stop()

	for {
		final := false
		select {
		case <-done:
			final = true
		case <-ticker.C:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}

		res, err := s.opts.Runner.Get(id)
		if err != nil {
			return
		}
		final = final || isClosed(done)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(StatusFrame{Result: res, Final: final}); err != nil {
			s.logger.WithError(err).WithField("run_id", id).Debug("Websocket write failed")
			return
		}
		if final {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(res.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
