package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// progressStream pushes the run's stage checkpoints whenever they change. Stages are
// written by whichever process runs them, so the stream polls the progress store.
func (s *Server) progressStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.pipeline.GetRun(r.Context(), runID); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := logging.WithAttrs(r.Context(),
		slog.String("component", "httpapi.progress"),
		slog.String("run_id", runID),
	)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last []byte
	for {
		progress, err := s.pipeline.GetProgress(ctx, runID)
		if err != nil {
			logging.Warn(ctx, "read progress failed", slog.Any("err", errs.Loggable(err)))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "progress unavailable"),
				time.Now().Add(writeWait))
			return
		}
		if progress == nil {
			progress = []dispatch.Progress{}
		}
		raw, err := json.Marshal(progress)
		if err != nil {
			return
		}
		if !bytes.Equal(raw, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
			last = raw
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
