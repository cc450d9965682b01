package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlethq/inlet/crm"
	inlettest "github.com/inlethq/inlet/internal/testing"
	"github.com/inlethq/inlet/logger"
)

func newTestResolver(t *testing.T) (*Resolver, crm.Provider) {
	t.Helper()
	db := inlettest.CreateTestDB(t)
	manager := crm.NewManager(db, logger.NewNop())
	return NewResolver(manager, logger.NewNop()), manager
}

func TestResolveFindsExistingRecord(t *testing.T) {
	resolver, provider := newTestResolver(t)
	ctx := context.Background()

	repo, err := provider.Repository("ws-1", "company")
	require.NoError(t, err)
	saved, err := repo.Save(ctx, crm.Record{"name": "Acme"})
	require.NoError(t, err)

	result := resolver.Resolve(ctx, RelationRef{
		TargetObject: "company",
		MatchField:   "name",
		MatchValue:   "Acme",
	}, "ws-1", NewRelationCache())

	assert.False(t, result.Dropped)
	assert.Equal(t, saved.ID(), result.ID)
}

func TestResolveDropsWithoutAutoCreate(t *testing.T) {
	resolver, _ := newTestResolver(t)

	result := resolver.Resolve(context.Background(), RelationRef{
		TargetObject: "company",
		MatchField:   "name",
		MatchValue:   "Nowhere Inc",
		AutoCreate:   false,
	}, "ws-1", NewRelationCache())

	assert.True(t, result.Dropped)
	assert.Contains(t, result.Reason, "autoCreate")
}

func TestResolveAutoCreates(t *testing.T) {
	resolver, provider := newTestResolver(t)
	ctx := context.Background()

	result := resolver.Resolve(ctx, RelationRef{
		TargetObject: "company",
		MatchField:   "name",
		MatchValue:   "Acme",
		AutoCreate:   true,
	}, "ws-1", NewRelationCache())

	require.False(t, result.Dropped)
	require.NotEmpty(t, result.ID)

	repo, err := provider.Repository("ws-1", "company")
	require.NoError(t, err)
	created, err := repo.FindOne(ctx, crm.Where{"name": "Acme"})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, result.ID, created.ID())
}

func TestResolveCachesWithinBatch(t *testing.T) {
	resolver, provider := newTestResolver(t)
	ctx := context.Background()
	cache := NewRelationCache()

	ref := RelationRef{
		TargetObject: "company",
		MatchField:   "name",
		MatchValue:   "Acme",
		AutoCreate:   true,
	}

	first := resolver.Resolve(ctx, ref, "ws-1", cache)
	second := resolver.Resolve(ctx, ref, "ws-1", cache)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, cache.Len())

	// Only one record was created despite two resolutions.
	repo, err := provider.Repository("ws-1", "company")
	require.NoError(t, err)
	all, err := repo.Find(ctx, crm.Where{"name": "Acme"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolveRelationsSubstitutesAndDrops(t *testing.T) {
	resolver, provider := newTestResolver(t)
	ctx := context.Background()

	repo, err := provider.Repository("ws-1", "company")
	require.NoError(t, err)
	company, err := repo.Save(ctx, crm.Record{"name": "Acme"})
	require.NoError(t, err)

	record := map[string]any{
		"email": "ada@example.com",
		"companyId": RelationRef{
			TargetObject: "company",
			MatchField:   "name",
			MatchValue:   "Acme",
		},
		"managerId": RelationRef{
			TargetObject: "person",
			MatchField:   "email",
			MatchValue:   "nobody@example.com",
		},
	}

	resolved := resolver.ResolveRelations(ctx, record, "ws-1", NewRelationCache())

	assert.Equal(t, "ada@example.com", resolved["email"])
	assert.Equal(t, company.ID(), resolved["companyId"])
	_, present := resolved["managerId"]
	assert.False(t, present, "unresolvable relation field should be dropped")
}
