package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlethq/inlet/ingest"
)

func (h *serverHarness) createPushPipeline(t *testing.T, secret string) *ingest.Pipeline {
	t.Helper()
	p := &ingest.Pipeline{
		WorkspaceID:  "ws-1",
		Name:         "webhook people",
		Mode:         ingest.ModePush,
		TargetObject: "person",
		IsEnabled:    true,
	}
	require.NoError(t, h.pipelines.Create(p))

	// Create always generates a secret for push pipelines; overwrite it
	// so each test controls whether the check applies.
	p.WebhookSecret = secret
	require.NoError(t, h.pipelines.Update(p))
	return p
}

func (h *serverHarness) postWebhook(t *testing.T, path, secret string, body string) (*http.Response, WebhookResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set("x-webhook-secret", secret)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out WebhookResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestWebhookAcceptsSingleObject(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")

	resp, out := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"first_name": "John"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, p.ID, out.PipelineID)
	assert.Equal(t, 1, out.RecordCount)

	runLog, err := h.logs.Get(out.LogID)
	require.NoError(t, err)
	assert.Equal(t, ingest.LogStatusPending, runLog.Status)
	assert.Equal(t, ingest.TriggerPush, runLog.TriggerType)
	require.Len(t, runLog.IncomingPayload, 1)
	assert.Equal(t, "John", runLog.IncomingPayload[0]["first_name"])
}

func TestWebhookAcceptsBatch(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")

	resp, out := h.postWebhook(t, "/ingestion/"+p.ID, "", `[{"a": 1}, {"a": 2}]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, out.RecordCount)
}

func TestWebhookEnqueuesPushJob(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")

	_, out := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"email": "ada@example.com"}`)

	job, err := h.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, ingest.PushJobName, job.HandlerName)
	assert.Equal(t, "webhook:"+p.ID, job.Source)

	var payload ingest.PushPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, p.ID, payload.PipelineID)
	assert.Equal(t, "ws-1", payload.WorkspaceID)
	assert.Equal(t, out.LogID, payload.LogID)
	require.Len(t, payload.Records, 1)
	assert.Equal(t, "ada@example.com", payload.Records[0]["email"])
}

func TestWebhookSecretValidation(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "s3cret")

	resp, _ := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"a": 1}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.postWebhook(t, "/ingestion/"+p.ID, "wrong", `{"a": 1}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := h.postWebhook(t, "/ingestion/"+p.ID, "s3cret", `{"a": 1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)

	// The secret may also travel as a query parameter.
	resp, _ = h.postWebhook(t, "/ingestion/"+p.ID+"?secret=s3cret", "", `{"a": 1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookUnknownPipeline(t *testing.T) {
	h := newServerHarness(t)

	resp, _ := h.postWebhook(t, "/ingestion/no-such-pipeline", "", `{"a": 1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookDisabledPipeline(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")
	p.IsEnabled = false
	require.NoError(t, h.pipelines.Update(p))

	resp, _ := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"a": 1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebhookDisabledWinsOverWrongMode(t *testing.T) {
	// A pipeline that is both disabled and pull-mode reports disabled:
	// enablement is checked before mode.
	h := newServerHarness(t)
	p := &ingest.Pipeline{
		WorkspaceID:  "ws-1",
		Name:         "disabled pull",
		Mode:         ingest.ModePull,
		TargetObject: "person",
	}
	require.NoError(t, h.pipelines.Create(p))

	resp, _ := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"a": 1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebhookRejectsPullPipeline(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPullPipeline(t, "ws-1")

	resp, _ := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"a": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookRejectsBadBody(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")

	resp, _ := h.postWebhook(t, "/ingestion/"+p.ID, "", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.postWebhook(t, "/ingestion/"+p.ID, "", ``)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")

	resp, err := http.Get(h.ts.URL + "/ingestion/" + p.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebhookRateLimit(t *testing.T) {
	h := newServerHarness(t)
	p := h.createPushPipeline(t, "")

	resp, _ := h.postWebhook(t, "/ingestion/"+p.ID, "", `{"a": 1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Drain the pipeline's bucket so the next delivery is throttled
	// without racing the refill rate.
	limiter := h.server.limiter(p.ID)
	for limiter.Allow() {
	}

	resp, _ = h.postWebhook(t, "/ingestion/"+p.ID, "", `{"a": 1}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
