package controlplane

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/putplace/assist/internal/store"
)

func idParam(r *http.Request) (uint, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.New("id must be a positive integer")
	}
	return uint(id), nil
}

type createRootRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

func (s *Server) handleListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := s.store.ListRoots()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, roots)
}

// handleCreateRoot registers path for scanning/watching. Registering the
// same path twice returns 409 with the existing root's id, per spec.md
// section 4.5's "conflict indicator" boundary.
func (s *Server) handleCreateRoot(w http.ResponseWriter, r *http.Request) {
	var req createRootRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		httpError(w, http.StatusBadRequest, "path must not be empty")
		return
	}

	root, err := s.store.CreateRoot(req.Path, req.Recursive)
	if errors.Is(err, store.ErrConflict) {
		w.WriteHeader(http.StatusConflict)
		outJSON(w, root)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, root)
}

func (s *Server) handleDeleteRoot(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteRoot(id); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scanResponse struct {
	Started bool `json:"started"`
}

// handleScanRoot dispatches a full walk to a background goroutine and
// returns immediately — spec.md section 4.5: "long operations (scans,
// uploads) are dispatched to background workers and reported via
// activity events."
func (s *Server) handleScanRoot(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetRoot(id); err != nil {
		httpError(w, http.StatusNotFound, "root not found")
		return
	}

	go func() {
		if _, err := s.scanner.Scan(id); err != nil {
			s.logHandlerErr("background scan", err)
		}
	}()

	outJSON(w, scanResponse{Started: true})
}

// handleScanAll triggers a full scan of all enabled roots.
func (s *Server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.scanner.ScanAll(); err != nil {
			s.logHandlerErr("background scan_all", err)
		}
	}()
	outJSON(w, scanResponse{Started: true})
}
