package controlplane

import (
	"net/http"

	"github.com/putplace/assist/internal/uploader"
)

type triggerUploadsRequest struct {
	UploadContent bool   `json:"upload_content"`
	PathPrefix    string `json:"path_prefix,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

type triggerUploadsResponse struct {
	FilesQueued int `json:"files_queued"`
}

// handleTriggerUploads enqueues eligible ready_for_upload files up to
// limit, per spec.md section 4.5. upload_content flips the uploader's
// live content policy for the files this call (and any future claim)
// drains — the policy is daemon-wide, not per-entry, so a second trigger
// with a different flag takes effect for whatever hasn't been claimed yet.
func (s *Server) handleTriggerUploads(w http.ResponseWriter, r *http.Request) {
	var req triggerUploadsRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if s.uploader != nil {
		if req.UploadContent {
			s.uploader.SetPolicy(uploader.PolicyContent)
		} else {
			s.uploader.SetPolicy(uploader.PolicyMetadataOnly)
		}
	}

	queued, err := s.store.TriggerUploads(req.PathPrefix, req.Limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outJSON(w, triggerUploadsResponse{FilesQueued: queued})
}
