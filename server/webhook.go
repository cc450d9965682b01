package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/ingest"
	"github.com/inlethq/inlet/logger"
	"github.com/inlethq/inlet/queue"
)

const (
	// Per-pipeline webhook throttle: 100 deliveries per 60 seconds.
	webhookRateLimit = 100.0 / 60.0
	webhookRateBurst = 100
)

// HandleWebhook handles POST /ingestion/{pipelineId}: the public push
// ingress. The secret (header x-webhook-secret or query ?secret=) must
// match the pipeline's stored secret; a pipeline with no secret accepts
// unauthenticated deliveries. Accepted batches are snapshotted into a
// pending run and processed off the request path by the job queue.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	parts := extractPathParts(r.URL.Path, "/ingestion/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing pipeline ID")
		return
	}
	pipelineID := parts[0]

	log := s.logger.With(logger.FieldPipelineID, shortID(pipelineID))

	// The webhook URL is the only credential a push source holds, so
	// lookup is by pipeline ID alone, not workspace.
	pipeline, err := s.pipelines.GetByID(pipelineID)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	if !pipeline.IsEnabled {
		writeDomainError(w, log, errors.Wrapf(errors.ErrPipelineDisabled, "pipeline %s", pipelineID))
		return
	}
	if pipeline.Mode != ingest.ModePush {
		writeDomainError(w, log, errors.Wrapf(errors.ErrWrongPipelineMode, "pipeline %s is not a push pipeline", pipelineID))
		return
	}

	if pipeline.WebhookSecret != "" {
		secret := r.Header.Get("x-webhook-secret")
		if secret == "" {
			secret = r.URL.Query().Get("secret")
		}
		if secret != pipeline.WebhookSecret {
			writeDomainError(w, log, errors.ErrInvalidWebhookSecret)
			return
		}
	}

	if !s.limiter(pipelineID).Allow() {
		writeDomainError(w, log, errors.Wrapf(errors.ErrRateLimited, "pipeline %s", pipelineID))
		return
	}

	records, err := readWebhookBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	runLog, err := s.logs.CreatePending(pipeline.ID, ingest.TriggerPush, records)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	payload, err := json.Marshal(ingest.PushPayload{
		PipelineID:  pipeline.ID,
		WorkspaceID: pipeline.WorkspaceID,
		LogID:       runLog.ID,
		Records:     records,
	})
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	if err := s.queue.Enqueue(queue.NewJob(ingest.PushJobName, "webhook:"+pipeline.ID, payload)); err != nil {
		writeDomainError(w, log, err)
		return
	}

	log.Infow("Webhook delivery accepted",
		logger.FieldLogID, runLog.ID,
		logger.FieldRecordCount, len(records),
	)

	writeJSON(w, http.StatusOK, WebhookResponse{
		Success:     true,
		PipelineID:  pipeline.ID,
		LogID:       runLog.ID,
		RecordCount: len(records),
	})
}

// readWebhookBody decodes the delivery body. A single JSON object is
// wrapped into a one-element batch.
func readWebhookBody(body io.Reader) ([]map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}

	if raw[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return []map[string]any{record}, nil
}

func (s *Server) limiter(pipelineID string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	l, ok := s.limiters[pipelineID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(webhookRateLimit), webhookRateBurst)
		s.limiters[pipelineID] = l
	}
	return l
}
