package controlplane

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/putplace/assist/internal/store"
)

// serverResponse is the wire shape for a Server row: it never carries the
// plaintext secret or cached bearer token, per SPEC_FULL.md section 3 — "any
// local audit/debug dump of Server rows runs the secret through the same
// [bcrypt] package's fingerprinting helper so debug output never carries
// the literal credential." secretFingerprint is one-way and salted fresh
// per dump; it exists to show "a secret is set" in a GUI, not to compare
// secrets across calls.
type serverResponse struct {
	ID                uint       `json:"id"`
	Name              string     `json:"name"`
	BaseURL           string     `json:"base_url"`
	Username          string     `json:"username"`
	SecretFingerprint string     `json:"secret_fingerprint,omitempty"`
	IsDefault         bool       `json:"is_default"`
	HasToken          bool       `json:"has_token"`
	TokenExpiry       *time.Time `json:"token_expiry,omitempty"`
}

func toServerResponse(srv store.Server) serverResponse {
	return serverResponse{
		ID:                srv.ID,
		Name:              srv.Name,
		BaseURL:           srv.BaseURL,
		Username:          srv.Username,
		SecretFingerprint: secretFingerprint(srv.Secret),
		IsDefault:         srv.IsDefault,
		HasToken:          srv.Token != "",
		TokenExpiry:       srv.TokenExpiry,
	}
}

func secretFingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return ""
	}
	// first 16 chars of the bcrypt hash (cost+salt prefix) is enough to show
	// "yes, something is set here" without exposing comparable material.
	if len(sum) > 16 {
		return string(sum[:16])
	}
	return string(sum)
}

type createServerRequest struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	Username  string `json:"username"`
	Secret    string `json:"secret"`
	IsDefault bool   `json:"is_default"`
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]serverResponse, len(servers))
	for i, srv := range servers {
		out[i] = toServerResponse(srv)
	}
	outJSON(w, out)
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		httpError(w, http.StatusBadRequest, "name and base_url are required")
		return
	}

	srv, err := s.store.CreateServer(req.Name, req.BaseURL, req.Username, req.Secret, req.IsDefault)
	if errors.Is(err, store.ErrConflict) {
		w.WriteHeader(http.StatusConflict)
		outJSON(w, toServerResponse(*srv))
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, toServerResponse(*srv))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteServer(id); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDefaultServer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetDefaultServer(id); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
