package controlplane

import (
	"errors"
	"net/http"

	"github.com/putplace/assist/internal/store"
)

type createExcludeRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleListExcludes(w http.ResponseWriter, r *http.Request) {
	excludes, err := s.store.ListExcludes()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, excludes)
}

func (s *Server) handleCreateExclude(w http.ResponseWriter, r *http.Request) {
	var req createExcludeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	exclude, err := s.store.CreateExclude(req.Pattern)
	if errors.Is(err, store.ErrConflict) {
		w.WriteHeader(http.StatusConflict)
		outJSON(w, exclude)
		return
	}
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	outJSON(w, exclude)
}

func (s *Server) handleDeleteExclude(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteExclude(id); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
