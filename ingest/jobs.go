package ingest

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/logger"
	"github.com/inlethq/inlet/queue"
)

// PullPayload is the queue payload for a pull ingestion run. LogID is
// set when the run was created before dispatch (manual trigger);
// scheduled runs leave it empty and the handler creates the run itself.
type PullPayload struct {
	PipelineID  string `json:"pipelineId"`
	WorkspaceID string `json:"workspaceId"`
	LogID       string `json:"logId,omitempty"`
}

// PushPayload is the queue payload for processing a webhook delivery.
// The run already exists (created by the webhook endpoint) and carries
// the payload snapshot; records travel in the job.
type PushPayload struct {
	PipelineID  string           `json:"pipelineId"`
	WorkspaceID string           `json:"workspaceId"`
	LogID       string           `json:"logId"`
	Records     []map[string]any `json:"records"`
}

// PullJobHandler executes scheduled and manually triggered pull runs:
// fetch from the source API, preprocess, map, and upsert.
type PullJobHandler struct {
	pipelines     *PipelineStore
	mappings      *MappingStore
	logs          *LogStore
	fetcher       *Fetcher
	preprocessors *PreprocessorRegistry
	processor     *Processor
	logger        *zap.SugaredLogger
}

// NewPullJobHandler creates the pull job handler.
func NewPullJobHandler(
	pipelines *PipelineStore,
	mappings *MappingStore,
	logs *LogStore,
	fetcher *Fetcher,
	preprocessors *PreprocessorRegistry,
	processor *Processor,
	log *zap.SugaredLogger,
) *PullJobHandler {
	return &PullJobHandler{
		pipelines:     pipelines,
		mappings:      mappings,
		logs:          logs,
		fetcher:       fetcher,
		preprocessors: preprocessors,
		processor:     processor,
		logger:        log.Named("pull-job"),
	}
}

// Name implements queue.Handler.
func (h *PullJobHandler) Name() string { return PullJobName }

// Execute implements queue.Handler. Precondition failures mark the run
// failed and return nil: retrying a disabled pipeline or missing
// mappings cannot succeed, so the job itself completes.
func (h *PullJobHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload PullPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid pull job payload")
	}

	h.logger.Infow("Starting pull ingestion",
		logger.FieldPipelineID, payload.PipelineID,
		logger.FieldJobID, job.ID,
	)

	runLog, err := h.ensureRunLog(&payload)
	if err != nil {
		return err
	}
	if err := h.logs.MarkRunning(runLog.ID); err != nil {
		return err
	}

	pipeline, err := h.pipelines.GetForWorkspace(payload.PipelineID, payload.WorkspaceID)
	if err != nil && !errors.Is(err, errors.ErrPipelineNotFound) {
		return h.failRun(runLog.ID, err.Error())
	}
	if pipeline == nil || !pipeline.IsEnabled {
		return h.failRun(runLog.ID, "Pipeline not found or disabled")
	}
	if pipeline.SourceURL == "" {
		return h.failRun(runLog.ID, "No source URL configured")
	}

	mappings, err := h.mappings.ListByPipeline(payload.PipelineID)
	if err != nil {
		return h.failRun(runLog.ID, err.Error())
	}
	if len(mappings) == 0 {
		return h.failRun(runLog.ID, "No field mappings configured")
	}

	allRecords, err := h.fetcher.FetchRecords(ctx, pipeline)
	if err != nil {
		return h.failRun(runLog.ID, err.Error())
	}

	if len(allRecords) == 0 {
		_, err := h.logs.MarkCompleted(runLog.ID, 0, &Stats{})
		return err
	}

	preprocessed, err := h.preprocessors.PreProcessRecords(ctx, allRecords, pipeline, payload.WorkspaceID)
	if err != nil {
		return h.failRun(runLog.ID, err.Error())
	}

	h.logger.Infow("Preprocessed records",
		logger.FieldPipelineID, payload.PipelineID,
		logger.FieldRecordCount, len(preprocessed),
	)

	stats, err := h.processor.ProcessRecords(ctx, preprocessed, pipeline, mappings, payload.WorkspaceID)
	if err != nil {
		return h.failRun(runLog.ID, err.Error())
	}

	if _, err := h.logs.MarkCompleted(runLog.ID, len(allRecords), stats); err != nil {
		return err
	}

	h.logger.Infow("Pull ingestion completed",
		logger.FieldPipelineID, payload.PipelineID,
		logger.FieldRecordCount, len(allRecords),
		logger.FieldCreated, stats.RecordsCreated,
		logger.FieldUpdated, stats.RecordsUpdated,
		logger.FieldFailed, stats.RecordsFailed,
	)
	return nil
}

func (h *PullJobHandler) ensureRunLog(payload *PullPayload) (*Log, error) {
	if payload.LogID != "" {
		return h.logs.Get(payload.LogID)
	}
	return h.logs.CreatePending(payload.PipelineID, TriggerPull, nil)
}

func (h *PullJobHandler) failRun(logID, message string) error {
	_, err := h.logs.MarkFailed(logID, message)
	return err
}

// PushProcessJobHandler processes webhook deliveries off the hot path.
// The webhook endpoint validated the secret and mode already, so this
// handler checks existence only.
type PushProcessJobHandler struct {
	pipelines *PipelineStore
	mappings  *MappingStore
	logs      *LogStore
	processor *Processor
	logger    *zap.SugaredLogger
}

// NewPushProcessJobHandler creates the push processing handler.
func NewPushProcessJobHandler(
	pipelines *PipelineStore,
	mappings *MappingStore,
	logs *LogStore,
	processor *Processor,
	log *zap.SugaredLogger,
) *PushProcessJobHandler {
	return &PushProcessJobHandler{
		pipelines: pipelines,
		mappings:  mappings,
		logs:      logs,
		processor: processor,
		logger:    log.Named("push-job"),
	}
}

// Name implements queue.Handler.
func (h *PushProcessJobHandler) Name() string { return PushJobName }

// Execute implements queue.Handler.
func (h *PushProcessJobHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload PushPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid push job payload")
	}

	h.logger.Infow("Processing push ingestion",
		logger.FieldPipelineID, payload.PipelineID,
		logger.FieldLogID, payload.LogID,
		logger.FieldRecordCount, len(payload.Records),
	)

	if err := h.logs.MarkRunning(payload.LogID); err != nil {
		return err
	}

	pipeline, err := h.pipelines.GetForWorkspace(payload.PipelineID, payload.WorkspaceID)
	if err != nil && !errors.Is(err, errors.ErrPipelineNotFound) {
		return h.failRun(payload.LogID, err.Error())
	}
	if pipeline == nil {
		return h.failRun(payload.LogID, "Pipeline not found")
	}

	mappings, err := h.mappings.ListByPipeline(payload.PipelineID)
	if err != nil {
		return h.failRun(payload.LogID, err.Error())
	}
	if len(mappings) == 0 {
		return h.failRun(payload.LogID, "No field mappings configured")
	}

	stats, err := h.processor.ProcessRecords(ctx, payload.Records, pipeline, mappings, payload.WorkspaceID)
	if err != nil {
		return h.failRun(payload.LogID, err.Error())
	}

	if _, err := h.logs.MarkCompleted(payload.LogID, len(payload.Records), stats); err != nil {
		return err
	}

	h.logger.Infow("Push ingestion completed",
		logger.FieldPipelineID, payload.PipelineID,
		logger.FieldCreated, stats.RecordsCreated,
		logger.FieldUpdated, stats.RecordsUpdated,
		logger.FieldFailed, stats.RecordsFailed,
	)
	return nil
}

func (h *PushProcessJobHandler) failRun(logID, message string) error {
	_, err := h.logs.MarkFailed(logID, message)
	return err
}
