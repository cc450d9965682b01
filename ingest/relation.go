package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/crm"
	"github.com/inlethq/inlet/logger"
)

// RelationCache memoizes resolved relation lookups for the duration of one
// processing batch. Keyed by target object, match field, and the string
// form of the match value, so the same reference costs at most one
// repository round-trip per run.
type RelationCache struct {
	ids map[string]string
}

// NewRelationCache creates an empty per-run cache.
func NewRelationCache() *RelationCache {
	return &RelationCache{ids: make(map[string]string)}
}

func (c *RelationCache) key(ref RelationRef) string {
	return fmt.Sprintf("%s:%s:%s", ref.TargetObject, ref.MatchField, stringify(ref.MatchValue))
}

// Len returns the number of cached resolutions.
func (c *RelationCache) Len() int {
	return len(c.ids)
}

// RefResult is the outcome of resolving one RelationRef. Dropped results
// carry the reason so callers and tests can see why a field disappeared.
type RefResult struct {
	ID      string
	Dropped bool
	Reason  string
}

// Resolver replaces RelationRef values in compiled records with foreign-key
// ids via lookup-or-create against the record store.
//
// Resolution is fail-open: any lookup or create error drops the field and
// logs a warning. A broken relation must never abort the whole record.
type Resolver struct {
	provider crm.Provider
	logger   *zap.SugaredLogger
}

// NewResolver creates a relation resolver backed by the given record store.
func NewResolver(provider crm.Provider, log *zap.SugaredLogger) *Resolver {
	return &Resolver{provider: provider, logger: log}
}

// ResolveRelations returns a copy of record with every RelationRef field
// either substituted with the resolved id or removed. Non-relation fields
// pass through untouched.
func (r *Resolver) ResolveRelations(ctx context.Context, record map[string]any, workspaceID string, cache *RelationCache) map[string]any {
	resolved := make(map[string]any, len(record))

	for field, value := range record {
		ref, ok := value.(RelationRef)
		if !ok {
			resolved[field] = value
			continue
		}

		result := r.Resolve(ctx, ref, workspaceID, cache)
		if result.Dropped {
			r.logger.Warnw("Dropped unresolvable relation field",
				logger.FieldWorkspaceID, workspaceID,
				logger.FieldObjectName, ref.TargetObject,
				"field", field,
				"match_field", ref.MatchField,
				"reason", result.Reason,
			)
			continue
		}
		resolved[field] = result.ID
	}

	return resolved
}

// Resolve resolves a single reference through the cache.
func (r *Resolver) Resolve(ctx context.Context, ref RelationRef, workspaceID string, cache *RelationCache) RefResult {
	key := cache.key(ref)
	if id, ok := cache.ids[key]; ok {
		return RefResult{ID: id}
	}

	repo, err := r.provider.Repository(workspaceID, ref.TargetObject)
	if err != nil {
		return RefResult{Dropped: true, Reason: fmt.Sprintf("no repository for %s: %v", ref.TargetObject, err)}
	}

	existing, err := repo.FindOne(ctx, crm.Where{ref.MatchField: ref.MatchValue})
	if err != nil {
		return RefResult{Dropped: true, Reason: fmt.Sprintf("lookup failed: %v", err)}
	}

	if existing != nil {
		cache.ids[key] = existing.ID()
		return RefResult{ID: existing.ID()}
	}

	if !ref.AutoCreate {
		return RefResult{Dropped: true, Reason: "no match and autoCreate disabled"}
	}

	created, err := repo.Save(ctx, crm.Record{ref.MatchField: ref.MatchValue})
	if err != nil {
		return RefResult{Dropped: true, Reason: fmt.Sprintf("auto-create failed: %v", err)}
	}

	cache.ids[key] = created.ID()
	return RefResult{ID: created.ID()}
}
