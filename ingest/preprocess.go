package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/logger"
)

// Preprocessor is a source-specific enrichment strategy applied to raw
// records before mapping. Returning (nil, nil) drops the record silently;
// it does not count as a failure. A returned error aborts the whole run so
// the queue's retry logic can take over.
type Preprocessor interface {
	Name() string

	// Matches decides whether this preprocessor applies to the pipeline.
	Matches(pipeline *Pipeline) bool

	PreProcess(ctx context.Context, payload map[string]any, pipeline *Pipeline, workspaceID string) (map[string]any, error)
}

// PreprocessorRegistry holds the available preprocessors and matches at
// most one against each pipeline.
type PreprocessorRegistry struct {
	mu            sync.RWMutex
	preprocessors []Preprocessor
	logger        *zap.SugaredLogger
}

// NewPreprocessorRegistry creates an empty registry.
func NewPreprocessorRegistry(log *zap.SugaredLogger) *PreprocessorRegistry {
	return &PreprocessorRegistry{logger: log}
}

// Register adds a preprocessor. First match wins at lookup, in
// registration order.
func (r *PreprocessorRegistry) Register(p Preprocessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preprocessors = append(r.preprocessors, p)
}

// Lookup returns the preprocessor for the pipeline, or nil if none match.
func (r *PreprocessorRegistry) Lookup(pipeline *Pipeline) Preprocessor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.preprocessors {
		if p.Matches(pipeline) {
			return p
		}
	}
	return nil
}

// PreProcessRecords runs the matching preprocessor over the batch. Without
// a match the batch passes through unchanged. Dropped records are removed;
// a preprocessor error aborts the run.
func (r *PreprocessorRegistry) PreProcessRecords(ctx context.Context, records []map[string]any, pipeline *Pipeline, workspaceID string) ([]map[string]any, error) {
	preprocessor := r.Lookup(pipeline)
	if preprocessor == nil {
		return records, nil
	}

	r.logger.Infow("Preprocessing records",
		logger.FieldPipelineID, pipeline.ID,
		logger.FieldHandler, preprocessor.Name(),
		logger.FieldRecordCount, len(records),
	)

	processed := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out, err := preprocessor.PreProcess(ctx, record, pipeline, workspaceID)
		if err != nil {
			return nil, err
		}
		if out == nil {
			r.logger.Debugw("Preprocessor dropped record",
				logger.FieldPipelineID, pipeline.ID,
				logger.FieldHandler, preprocessor.Name(),
			)
			continue
		}
		processed = append(processed, out)
	}

	return processed, nil
}

// TTLCache is a small string cache with per-entry expiry and an injected
// clock, for preprocessors that memoize slow external lookups (e.g.
// resolving source list ids to names) across runs.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry
}

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

// NewTTLCache creates a cache whose entries expire after ttl.
func NewTTLCache(ttl time.Duration, now func() time.Time) *TTLCache {
	if now == nil {
		now = time.Now
	}
	return &TTLCache{ttl: ttl, now: now, entries: make(map[string]ttlEntry)}
}

// Get returns the cached value, or false if absent or expired.
func (c *TTLCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set stores a value with a fresh expiry.
func (c *TTLCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Len returns the number of entries, including any not yet evicted.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
