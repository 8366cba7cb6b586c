package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvents handles GET /api/v1/events.
// It streams job-lifecycle events as server-sent events until the client
// disconnects. The first frame is a snapshot of the live set so a client can
// render without a separate list call.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	writeSSEEvent(w, flusher, "snapshot", map[string]any{"jobs": h.tracker.Jobs()})

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, string(event.Type), event)
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serialises data as JSON and writes a single SSE event frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
