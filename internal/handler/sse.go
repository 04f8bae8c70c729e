package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/YannKr/wmmaker/internal/db"
)

// VideoSSE streams export progress and completion for one video.
func (h *Handler) VideoSSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.SSE.Subscribe("video:" + id)
	defer unsub()

	// Send initial keepalive
	fmt.Fprintf(w, ": connected\n\n")

	// A client that connects mid-export starts from the stored progress.
	if e, err := db.LatestExport(h.DB, id); err == nil && e != nil && !e.Finished() {
		data, _ := json.Marshal(map[string]any{"export_id": e.ID, "video_id": id, "progress": e.Progress})
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
