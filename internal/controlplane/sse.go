package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// pollInterval is how often the stream re-reads the activity table for
// rows past its cursor. There's no push subscription (spec.md section
// 4.5/9: "a monotonic activity table; streams are cursor reads, not push
// subscriptions, which makes crash recovery trivial") and no SSE library
// anywhere in the retrieval pack, so this loop is hand-rolled directly
// against http.Flusher.
const pollInterval = 500 * time.Millisecond

// handleActivityStream serves Server-Sent Events starting after since_id
// (0 if absent, matching spec.md section 8 scenario 6's "Open an SSE
// stream with since_id=0"). A slow client never blocks the Store: each
// tick just re-reads from an ever-advancing cursor, so there is nothing to
// buffer for it.
func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	cursor := uint64(0)
	if v := r.URL.Query().Get("since_id"); v != "" {
		cursor, _ = strconv.ParseUint(v, 10, 32)
	}

	streamID := s.cursors.register(uint(cursor))
	defer s.cursors.unregister(streamID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := s.store.ReadActivity(uint(cursor), 100, "")
			if err != nil {
				s.logHandlerErr("sse read activity", err)
				continue
			}
			for _, event := range events {
				body, err := json.Marshal(event)
				if err != nil {
					s.logHandlerErr("sse marshal event", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Kind, body); err != nil {
					return
				}
				cursor = uint64(event.ID)
			}
			if len(events) > 0 {
				s.cursors.update(streamID, uint(cursor))
				flusher.Flush()
			}
		}
	}
}
