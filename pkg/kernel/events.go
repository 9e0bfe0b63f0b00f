package kernel

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/services"
)

const sseKeepAlive = 15 * time.Second

// handleRunEvents streams the events of a run in progress as server-sent events.
// The stream ends after the run_finished event.
// GET /v1/runs/{id}/events
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := bindPathID(w, r, "id")
	if !ok {
		return
	}
	runID := domain.RunID(id)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// subscribe before checking liveness so run_finished cannot slip between the two
	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	if !s.runs.IsActive(runID) {
		if _, err := s.runs.Get(r.Context(), runID); err != nil {
			if errors.Is(err, domain.ErrRunNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to get run")
			return
		}
		writeError(w, http.StatusConflict, services.ErrRunInactive.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			if evt.Type == services.EventType(domain.EventRunFinished) {
				return
			}
		}
	}
}
