package server

import "github.com/inlethq/inlet/ingest"

// WebhookResponse acknowledges an accepted push delivery.
type WebhookResponse struct {
	Success     bool   `json:"success"`
	PipelineID  string `json:"pipelineId"`
	LogID       string `json:"logId"`
	RecordCount int    `json:"recordCount"`
}

// ListPipelinesResponse wraps the workspace pipeline listing.
type ListPipelinesResponse struct {
	Pipelines []*ingest.Pipeline `json:"pipelines"`
	Count     int                `json:"count"`
}

// ListMappingsResponse wraps a pipeline's field mapping listing.
type ListMappingsResponse struct {
	Mappings []*ingest.FieldMapping `json:"mappings"`
	Count    int                    `json:"count"`
}

// ListLogsResponse wraps a pipeline's run history.
type ListLogsResponse struct {
	Logs  []*ingest.Log `json:"logs"`
	Count int           `json:"count"`
}

// TriggerResponse acknowledges a manually triggered pull run.
type TriggerResponse struct {
	Success bool   `json:"success"`
	LogID   string `json:"logId"`
	JobID   string `json:"jobId"`
}

// TestPipelineRequest carries sample source records for a dry run.
type TestPipelineRequest struct {
	Records []map[string]any `json:"records"`
}

// TestPipelineResponse reports a dry run: the compiled records, without
// any store writes or relation resolution.
type TestPipelineResponse struct {
	Success        bool             `json:"success"`
	TotalRecords   int              `json:"totalRecords"`
	ValidRecords   int              `json:"validRecords"`
	InvalidRecords int              `json:"invalidRecords"`
	PreviewRecords []map[string]any `json:"previewRecords"`
	Errors         []string         `json:"errors"`
}
