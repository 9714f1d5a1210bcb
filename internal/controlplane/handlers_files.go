package controlplane

import (
	"net/http"
	"strconv"

	"github.com/putplace/assist/internal/store"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilesFilter{
		PathPrefix: q.Get("path_prefix"),
		SHA256:     q.Get("sha256"),
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	files, err := s.store.ListFiles(filter)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	file, err := s.store.GetFile(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "file not found")
		return
	}
	outJSON(w, file)
}
