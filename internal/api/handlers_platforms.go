package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

// maxCredentialBytes bounds a connect body; key files are a few KB
const maxCredentialBytes = 64 << 10

// handleListPlatforms handles GET /api/platforms
func (s *Server) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.dashboard.ListStatuses(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// handleConnect handles POST /api/platforms/{platform}/connect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	platform, ok := platformFromPath(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCredentialBytes))
	if err != nil {
		respondServiceError(w, r, errors.NewInvalidParameterError("body", "could not read request body"))
		return
	}
	cred, err := types.DecodeCredential(platform, raw)
	if err != nil {
		respondServiceError(w, r, errors.NewInvalidParameterError("credential", err.Error()))
		return
	}

	statuses, err := s.dashboard.Connect(r.Context(), platform, cred)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// handleSync handles POST /api/platforms/{platform}/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	platform, ok := platformFromPath(w, r)
	if !ok {
		return
	}

	statuses, err := s.dashboard.Sync(r.Context(), platform)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// handleSyncAll handles POST /api/platforms/sync
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.dashboard.SyncAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// handleDisconnect handles DELETE /api/platforms/{platform}
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	platform, ok := platformFromPath(w, r)
	if !ok {
		return
	}

	statuses, err := s.dashboard.Disconnect(r.Context(), platform)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// handlePromptContext handles GET /api/prompt-context. The body is the
// markdown section as is; no cached data means 204.
func (s *Server) handlePromptContext(w http.ResponseWriter, r *http.Request) {
	text, err := s.dashboard.GetPromptContext(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if text == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

// platformFromPath parses the {platform} variable, answering 400 itself when
// the name is unknown
func platformFromPath(w http.ResponseWriter, r *http.Request) (types.Platform, bool) {
	name := mux.Vars(r)["platform"]
	platform, ok := types.ParsePlatform(name)
	if !ok {
		respondServiceError(w, r, errors.NewInvalidParameterError("platform", "unknown platform: "+name))
		return "", false
	}
	return platform, true
}
