package server

import (
	"net/http"

	"github.com/inlethq/inlet/logger"
)

// HandleMapping handles requests to /api/ingestion/mappings/{id}
// PATCH: Update a field mapping
// DELETE: Remove a field mapping
func (s *Server) HandleMapping(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/ingestion/mappings/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing mapping ID")
		return
	}
	mappingID := parts[0]

	mapping, err := s.mappings.Get(mappingID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	// Mappings carry no workspace column; scope through the parent pipeline.
	if _, err := s.pipelines.GetForWorkspace(mapping.PipelineID, workspaceID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		pipelineID := mapping.PipelineID
		if !readJSON(w, r, mapping) {
			return
		}
		mapping.ID = mappingID
		mapping.PipelineID = pipelineID

		if err := s.mappings.Update(mapping); err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		s.logger.Infow("Field mapping updated",
			logger.FieldPipelineID, shortID(mapping.PipelineID),
			"mapping_id", shortID(mappingID),
		)
		writeJSON(w, http.StatusOK, mapping)

	case http.MethodDelete:
		deleted, err := s.mappings.Delete(mappingID)
		if err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		s.logger.Infow("Field mapping deleted", "mapping_id", shortID(mappingID))
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
