package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/crm"
	"github.com/inlethq/inlet/logger"
)

// Stats accumulates per-record outcomes for one processing batch.
type Stats struct {
	RecordsCreated int           `json:"recordsCreated"`
	RecordsUpdated int           `json:"recordsUpdated"`
	RecordsSkipped int           `json:"recordsSkipped"`
	RecordsFailed  int           `json:"recordsFailed"`
	Errors         []RecordError `json:"errors,omitempty"`
}

// Processor orchestrates one batch: mapping compilation, relation
// resolution, dedup lookup, and create-or-update, with per-record error
// isolation. One record's failure never aborts the batch.
type Processor struct {
	provider crm.Provider
	resolver *Resolver
	logger   *zap.SugaredLogger
}

// NewProcessor creates a record processor.
func NewProcessor(provider crm.Provider, resolver *Resolver, log *zap.SugaredLogger) *Processor {
	return &Processor{provider: provider, resolver: resolver, logger: log}
}

// ProcessRecords runs the batch sequentially, sharing one relation cache
// across all records. An empty batch returns zero stats without touching
// the repository. The returned error is run-level only (repository for the
// target object unavailable); per-record errors land in Stats.Errors.
func (p *Processor) ProcessRecords(ctx context.Context, records []map[string]any, pipeline *Pipeline, mappings []*FieldMapping, workspaceID string) (*Stats, error) {
	stats := &Stats{}
	if len(records) == 0 {
		return stats, nil
	}

	cache := NewRelationCache()

	repo, err := p.provider.Repository(workspaceID, pipeline.TargetObject)
	if err != nil {
		return nil, err
	}

	for i, source := range records {
		if err := p.processOne(ctx, repo, source, pipeline, mappings, workspaceID, cache, stats); err != nil {
			stats.RecordsFailed++
			stats.Errors = append(stats.Errors, RecordError{
				RecordIndex: i,
				Message:     err.Error(),
				SourceData:  source,
			})
			p.logger.Warnw("Failed to process record",
				logger.FieldPipelineID, pipeline.ID,
				logger.FieldRecordIndex, i,
				logger.FieldError, err,
			)
		}
	}

	return stats, nil
}

func (p *Processor) processOne(ctx context.Context, repo crm.Repository, source map[string]any, pipeline *Pipeline, mappings []*FieldMapping, workspaceID string, cache *RelationCache, stats *Stats) error {
	mapped := BuildRecord(source, mappings)
	resolved := p.resolver.ResolveRelations(ctx, mapped, workspaceID, cache)

	if pipeline.DedupFieldName != "" {
		dedupValue := dedupValueFrom(resolved, pipeline.DedupFieldName)

		if dedupValue != nil {
			existing, err := repo.FindOne(ctx, dedupWhere(pipeline.DedupFieldName, dedupValue))
			if err != nil {
				return err
			}

			if existing != nil {
				if err := repo.Update(ctx, existing.ID(), resolved); err != nil {
					return err
				}
				stats.RecordsUpdated++
				return nil
			}
		}
	}

	if _, err := repo.Save(ctx, resolved); err != nil {
		return err
	}
	stats.RecordsCreated++
	return nil
}

// dedupValueFrom reads the dedup value out of the resolved record,
// following a dotted path for composite fields.
func dedupValueFrom(record map[string]any, dedupField string) any {
	if strings.Contains(dedupField, ".") {
		value, _ := ExtractByPath(record, dedupField)
		return value
	}
	return record[dedupField]
}

// dedupWhere builds the lookup predicate. Dotted dedup paths split on the
// first dot into a composite sub-field predicate; deeper nesting stays in
// the sub-field name.
func dedupWhere(dedupField string, value any) crm.Where {
	field, subField, found := strings.Cut(dedupField, ".")
	if !found {
		return crm.Where{field: value}
	}
	return crm.Where{field: crm.Where{subField: value}}
}
