package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler streams bus messages as server-sent events. Clients may filter
// with ?types=round-status,page-content-collected and ?tab_id=.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var filter Filter
		if q := r.URL.Query().Get("types"); q != "" {
			for _, t := range strings.Split(q, ",") {
				if t = strings.TrimSpace(t); t != "" {
					filter.Types = append(filter.Types, t)
				}
			}
		}
		filter.TabID = r.URL.Query().Get("tab_id")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe(filter)
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(m)
				if err != nil {
					slog.Warn("bus sse marshal failed", "type", m.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Type, data)
				flusher.Flush()
			}
		}
	}
}
