package httpapi

import (
	"encoding/json"
	"net/http"
)

// Stream serves level-up events as Server-Sent Events, optionally filtered by ?guild=.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.deps.Events == nil {
		unavailable(w, r, "event stream")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	guild := r.URL.Query().Get("guild")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.deps.Events.Subscribe(r.Context())

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		if guild != "" && event.GuildID != guild {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: level_up\nid: " + event.ID + "\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
