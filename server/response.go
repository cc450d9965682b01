package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/logger"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
// Anything unrecognized is a 500 and gets logged; the sentinel cases are
// expected request outcomes and stay at debug.
func writeDomainError(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrPipelineNotFound), errors.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrPipelineDisabled):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrWrongPipelineMode), errors.IsInvalidInputError(err):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrInvalidWebhookSecret):
		status = http.StatusForbidden
	case errors.Is(err, errors.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		log.Errorw("Request failed", logger.FieldError, err)
	} else {
		log.Debugw("Request rejected",
			logger.FieldStatusCode, status,
			logger.FieldError, err,
		)
	}
	writeError(w, status, err.Error())
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// extractPathParts extracts path segments after removing a prefix
func extractPathParts(urlPath, prefix string) []string {
	return strings.Split(strings.TrimPrefix(urlPath, prefix), "/")
}

// requireWorkspace reads the workspace scope from the X-Workspace-ID
// header. Admin endpoints are always workspace-scoped.
func requireWorkspace(w http.ResponseWriter, r *http.Request) (string, bool) {
	workspaceID := r.Header.Get("X-Workspace-ID")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "Missing X-Workspace-ID header")
		return "", false
	}
	return workspaceID, true
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
