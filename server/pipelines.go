package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/ingest"
	"github.com/inlethq/inlet/logger"
	"github.com/inlethq/inlet/queue"
)

// HandlePipelines handles requests to /api/ingestion/pipelines
// GET: List workspace pipelines
// POST: Create a pipeline
func (s *Server) HandlePipelines(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleListPipelines(w, workspaceID)
	case http.MethodPost:
		s.handleCreatePipeline(w, r, workspaceID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandlePipeline handles requests to /api/ingestion/pipelines/{id} and
// its sub-resources:
//
//	{id}           GET / PATCH / DELETE
//	{id}/mappings  GET / POST (single mapping or batch)
//	{id}/logs      GET (?limit=)
//	{id}/trigger   POST (manual pull run)
//	{id}/test      POST (dry run, no writes)
func (s *Server) HandlePipeline(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/ingestion/pipelines/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing pipeline ID")
		return
	}
	pipelineID := parts[0]

	if len(parts) > 1 && parts[1] != "" {
		switch parts[1] {
		case "mappings":
			s.handlePipelineMappings(w, r, workspaceID, pipelineID)
		case "logs":
			s.handlePipelineLogs(w, r, workspaceID, pipelineID)
		case "trigger":
			s.handleTriggerPipeline(w, r, workspaceID, pipelineID)
		case "test":
			s.handleTestPipeline(w, r, workspaceID, pipelineID)
		default:
			writeError(w, http.StatusNotFound, "Unknown resource")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetPipeline(w, workspaceID, pipelineID)
	case http.MethodPatch:
		s.handleUpdatePipeline(w, r, workspaceID, pipelineID)
	case http.MethodDelete:
		s.handleDeletePipeline(w, workspaceID, pipelineID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListPipelines(w http.ResponseWriter, workspaceID string) {
	pipelines, err := s.pipelines.List(workspaceID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ListPipelinesResponse{Pipelines: pipelines, Count: len(pipelines)})
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request, workspaceID string) {
	var pipeline ingest.Pipeline
	if !readJSON(w, r, &pipeline) {
		return
	}
	pipeline.ID = ""
	pipeline.WorkspaceID = workspaceID

	if err := s.pipelines.Create(&pipeline); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	if err := s.scheduler.SyncPipeline(&pipeline); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	s.logger.Infow("Pipeline created",
		logger.FieldPipelineID, shortID(pipeline.ID),
		logger.FieldWorkspaceID, workspaceID,
	)
	writeJSON(w, http.StatusCreated, &pipeline)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, workspaceID, pipelineID string) {
	pipeline, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) handleUpdatePipeline(w http.ResponseWriter, r *http.Request, workspaceID, pipelineID string) {
	pipeline, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	// Decode over the stored pipeline: absent fields keep their value.
	if !readJSON(w, r, pipeline) {
		return
	}
	pipeline.ID = pipelineID
	pipeline.WorkspaceID = workspaceID

	if err := s.pipelines.Update(pipeline); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	if err := s.scheduler.SyncPipeline(pipeline); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	s.logger.Infow("Pipeline updated", logger.FieldPipelineID, shortID(pipelineID))
	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, workspaceID, pipelineID string) {
	pipeline, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	// Disable before soft-deleting so the scheduler drops any cron
	// registration for the pipeline.
	pipeline.IsEnabled = false
	if err := s.scheduler.SyncPipeline(pipeline); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	if err := s.pipelines.SoftDelete(pipelineID, workspaceID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	s.logger.Infow("Pipeline deleted", logger.FieldPipelineID, shortID(pipelineID))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePipelineMappings(w http.ResponseWriter, r *http.Request, workspaceID, pipelineID string) {
	if _, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		mappings, err := s.mappings.ListByPipeline(pipelineID)
		if err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ListMappingsResponse{Mappings: mappings, Count: len(mappings)})

	case http.MethodPost:
		mappings, err := readMappingBody(r.Body, pipelineID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if err := s.mappings.CreateMany(mappings); err != nil {
			writeDomainError(w, s.logger, err)
			return
		}

		s.logger.Infow("Field mappings created",
			logger.FieldPipelineID, shortID(pipelineID),
			logger.FieldRecordCount, len(mappings),
		)
		writeJSON(w, http.StatusCreated, ListMappingsResponse{Mappings: mappings, Count: len(mappings)})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// readMappingBody accepts either one mapping object or a batch array.
func readMappingBody(body io.Reader, pipelineID string) ([]*ingest.FieldMapping, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}

	var mappings []*ingest.FieldMapping
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &mappings); err != nil {
			return nil, err
		}
	} else {
		var mapping ingest.FieldMapping
		if err := json.Unmarshal(raw, &mapping); err != nil {
			return nil, err
		}
		mappings = []*ingest.FieldMapping{&mapping}
	}

	for _, m := range mappings {
		m.ID = ""
		m.PipelineID = pipelineID
	}
	return mappings, nil
}

func (s *Server) handlePipelineLogs(w http.ResponseWriter, r *http.Request, workspaceID, pipelineID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	logs, err := s.logs.ListByPipeline(pipelineID, limit)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ListLogsResponse{Logs: logs, Count: len(logs)})
}

// handleTriggerPipeline starts a pull run outside its schedule. The run
// log is created here so the caller gets its ID back immediately; the
// job reuses it instead of opening a second one.
func (s *Server) handleTriggerPipeline(w http.ResponseWriter, r *http.Request, workspaceID, pipelineID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	pipeline, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	if pipeline.Mode != ingest.ModePull {
		writeDomainError(w, s.logger, errors.Wrapf(errors.ErrWrongPipelineMode, "pipeline %s is not a pull pipeline", pipelineID))
		return
	}

	runLog, err := s.logs.CreatePending(pipelineID, ingest.TriggerPull, nil)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	payload, err := json.Marshal(ingest.PullPayload{
		PipelineID:  pipelineID,
		WorkspaceID: workspaceID,
		LogID:       runLog.ID,
	})
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	job := queue.NewJob(ingest.PullJobName, "manual:"+pipelineID, payload)
	if err := s.queue.Enqueue(job); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	s.logger.Infow("Pull run triggered",
		logger.FieldPipelineID, shortID(pipelineID),
		logger.FieldLogID, runLog.ID,
		logger.FieldJobID, job.ID,
	)
	writeJSON(w, http.StatusOK, TriggerResponse{Success: true, LogID: runLog.ID, JobID: job.ID})
}

// handleTestPipeline dry-runs the pipeline's mappings against sample
// records. Nothing is written and relations are left unresolved; a
// record compiling to zero fields counts as invalid.
func (s *Server) handleTestPipeline(w http.ResponseWriter, r *http.Request, workspaceID, pipelineID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.pipelines.GetForWorkspace(pipelineID, workspaceID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	var req TestPipelineRequest
	if !readJSON(w, r, &req) {
		return
	}

	mappings, err := s.mappings.ListByPipeline(pipelineID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	if len(mappings) == 0 {
		writeError(w, http.StatusBadRequest, "No field mappings configured")
		return
	}

	resp := TestPipelineResponse{TotalRecords: len(req.Records)}
	for i, source := range req.Records {
		record := ingest.BuildRecord(source, mappings)
		if len(record) == 0 {
			resp.InvalidRecords++
			resp.Errors = append(resp.Errors, fmt.Sprintf("record %d: no fields mapped", i))
			continue
		}
		resp.ValidRecords++
		resp.PreviewRecords = append(resp.PreviewRecords, previewRecord(record))
	}
	resp.Success = resp.InvalidRecords == 0

	writeJSON(w, http.StatusOK, resp)
}

// previewRecord replaces transient relation references with a plain
// JSON description so the preview is serializable and readable.
func previewRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for field, value := range record {
		if ref, ok := value.(ingest.RelationRef); ok {
			out[field] = map[string]any{
				"relationTarget": ref.TargetObject,
				"matchField":     ref.MatchField,
				"matchValue":     ref.MatchValue,
				"autoCreate":     ref.AutoCreate,
			}
			continue
		}
		out[field] = value
	}
	return out
}
