package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavelanni/studentdash/internal/live"
	"github.com/pavelanni/studentdash/internal/performance"
)

const keepAliveInterval = 25 * time.Second

// handleEvents streams student summaries as server-sent events. Every
// connection owns a view that lives exactly as long as the request.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	v := live.NewView("events", h.config.RecordsPath, performance.StudentPipeline)
	if err := v.Activate(h.source); err != nil {
		slog.Error("failed to activate event view", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer v.Deactivate()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-v.Updates():
			students, ok := v.Current()
			if !ok {
				continue
			}
			data, err := json.Marshal(students)
			if err != nil {
				slog.Error("failed to encode summaries", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: summaries\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
