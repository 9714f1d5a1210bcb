package controlplane

import (
	"net/http"
	"strconv"

	"github.com/putplace/assist/internal/store"
)

// handleListActivity backs polling clients: spec.md section 4.5's
// `list({limit, since_id?, kind?})`.
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var sinceID uint64
	if v := q.Get("since_id"); v != "" {
		sinceID, _ = strconv.ParseUint(v, 10, 32)
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, _ := strconv.Atoi(v)
		limit = n
	}

	events, err := s.store.ReadActivity(uint(sinceID), limit, store.EventKind(q.Get("kind")))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, events)
}
