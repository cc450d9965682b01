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

func newTestProcessor(t *testing.T) (*Processor, crm.Provider) {
	t.Helper()
	db := inlettest.CreateTestDB(t)
	manager := crm.NewManager(db, logger.NewNop())
	resolver := NewResolver(manager, logger.NewNop())
	return NewProcessor(manager, resolver, logger.NewNop()), manager
}

func personPipeline(dedupField string) *Pipeline {
	return &Pipeline{
		ID:             "pipe-1",
		WorkspaceID:    "ws-1",
		Name:           "People import",
		Mode:           ModePull,
		TargetObject:   "person",
		DedupFieldName: dedupField,
		IsEnabled:      true,
	}
}

func emailMappings() []*FieldMapping {
	return []*FieldMapping{
		{SourceFieldPath: "email", TargetFieldName: "email"},
		{SourceFieldPath: "city", TargetFieldName: "city"},
	}
}

func TestProcessRecordsEmptyBatch(t *testing.T) {
	processor, _ := newTestProcessor(t)

	stats, err := processor.ProcessRecords(context.Background(), nil, personPipeline("email"), emailMappings(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestProcessRecordsCreatesThenUpdates(t *testing.T) {
	processor, provider := newTestProcessor(t)
	ctx := context.Background()
	pipeline := personPipeline("email")

	stats, err := processor.ProcessRecords(ctx, []map[string]any{
		{"email": "ada@example.com", "city": "London"},
	}, pipeline, emailMappings(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsCreated)
	assert.Equal(t, 0, stats.RecordsUpdated)

	// Same dedup value on the next run updates in place.
	stats, err = processor.ProcessRecords(ctx, []map[string]any{
		{"email": "ada@example.com", "city": "Paris"},
	}, pipeline, emailMappings(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordsCreated)
	assert.Equal(t, 1, stats.RecordsUpdated)

	repo, err := provider.Repository("ws-1", "person")
	require.NoError(t, err)
	all, err := repo.Find(ctx, crm.Where{"email": "ada@example.com"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Paris", all[0]["city"])
}

func TestProcessRecordsWithoutDedupAlwaysCreates(t *testing.T) {
	processor, provider := newTestProcessor(t)
	ctx := context.Background()
	pipeline := personPipeline("")

	record := map[string]any{"email": "ada@example.com"}
	for i := 0; i < 2; i++ {
		stats, err := processor.ProcessRecords(ctx, []map[string]any{record}, pipeline, emailMappings(), "ws-1")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RecordsCreated)
	}

	repo, err := provider.Repository("ws-1", "person")
	require.NoError(t, err)
	all, err := repo.Find(ctx, crm.Where{"email": "ada@example.com"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProcessRecordsDottedDedupField(t *testing.T) {
	processor, _ := newTestProcessor(t)
	ctx := context.Background()
	pipeline := personPipeline("emails.primaryEmail")
	mappings := []*FieldMapping{
		{SourceFieldPath: "email", TargetFieldName: "emails", TargetCompositeSubField: "primaryEmail"},
		{SourceFieldPath: "city", TargetFieldName: "city"},
	}

	stats, err := processor.ProcessRecords(ctx, []map[string]any{
		{"email": "ada@example.com", "city": "London"},
	}, pipeline, mappings, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsCreated)

	stats, err = processor.ProcessRecords(ctx, []map[string]any{
		{"email": "ada@example.com", "city": "Paris"},
	}, pipeline, mappings, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsUpdated)
}

func TestProcessRecordsDedupValueMissingCreates(t *testing.T) {
	processor, _ := newTestProcessor(t)
	pipeline := personPipeline("email")
	mappings := []*FieldMapping{
		{SourceFieldPath: "city", TargetFieldName: "city"},
	}

	// No mapping produces the dedup field, so the lookup is skipped.
	stats, err := processor.ProcessRecords(context.Background(), []map[string]any{
		{"city": "London"},
	}, pipeline, mappings, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsCreated)
}

func TestProcessRecordsResolvesRelations(t *testing.T) {
	processor, provider := newTestProcessor(t)
	ctx := context.Background()
	pipeline := personPipeline("email")
	mappings := []*FieldMapping{
		{SourceFieldPath: "email", TargetFieldName: "email"},
		{
			SourceFieldPath:      "company",
			TargetFieldName:      "companyId",
			RelationTargetObject: "company",
			RelationMatchField:   "name",
			RelationAutoCreate:   true,
		},
	}

	records := []map[string]any{
		{"email": "ada@example.com", "company": "Acme"},
		{"email": "grace@example.com", "company": "Acme"},
	}
	stats, err := processor.ProcessRecords(ctx, records, pipeline, mappings, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsCreated)

	// Both people point at the one auto-created company.
	companies, err := provider.Repository("ws-1", "company")
	require.NoError(t, err)
	all, err := companies.Find(ctx, crm.Where{"name": "Acme"})
	require.NoError(t, err)
	require.Len(t, all, 1)

	people, err := provider.Repository("ws-1", "person")
	require.NoError(t, err)
	ada, err := people.FindOne(ctx, crm.Where{"email": "ada@example.com"})
	require.NoError(t, err)
	require.NotNil(t, ada)
	assert.Equal(t, all[0].ID(), ada["companyId"])
}

func TestProcessRecordsIsolatesPerRecordFailures(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	manager := crm.NewManager(db, logger.NewNop())
	resolver := NewResolver(manager, logger.NewNop())
	processor := NewProcessor(manager, resolver, logger.NewNop())
	pipelines := NewPipelineStore(db, logger.NewNop())
	logs := NewLogStore(db, logger.NewNop())
	ctx := context.Background()

	// The dedup field name is rejected by the repository's predicate
	// builder, so any record carrying a dedup value fails its lookup.
	pipeline := &Pipeline{
		WorkspaceID:    "ws-1",
		Name:           "People import",
		Mode:           ModePull,
		TargetObject:   "person",
		DedupFieldName: "bad'field",
		IsEnabled:      true,
	}
	require.NoError(t, pipelines.Create(pipeline))

	mappings := []*FieldMapping{
		{SourceFieldPath: "email", TargetFieldName: "email"},
		{SourceFieldPath: "flag", TargetFieldName: "bad'field"},
	}

	records := []map[string]any{
		{"email": "ada@example.com", "flag": "x"}, // dedup lookup errors
		{"email": "alan@example.com"},             // no dedup value, saves clean
	}
	stats, err := processor.ProcessRecords(ctx, records, pipeline, mappings, "ws-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.RecordsFailed)
	assert.Equal(t, 1, stats.RecordsCreated)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 0, stats.Errors[0].RecordIndex)
	assert.NotEmpty(t, stats.Errors[0].Message)
	assert.Equal(t, "ada@example.com", stats.Errors[0].SourceData["email"])

	// The failure stays inside the batch: the later record still landed.
	repo, err := manager.Repository("ws-1", "person")
	require.NoError(t, err)
	stored, err := repo.FindOne(ctx, crm.Where{"email": "alan@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, stored)

	// A mixed batch closes out as partial, carrying the record errors.
	pending, err := logs.CreatePending(pipeline.ID, TriggerPull, nil)
	require.NoError(t, err)
	require.NoError(t, logs.MarkRunning(pending.ID))
	run, err := logs.MarkCompleted(pending.ID, len(records), stats)
	require.NoError(t, err)
	assert.Equal(t, LogStatusPartial, run.Status)
	assert.Equal(t, 1, run.RecordsFailed)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, 0, run.Errors[0].RecordIndex)
}

func TestProcessRecordsRunLevelErrorOnBadTarget(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	manager := crm.NewManager(db, logger.NewNop())
	resolver := NewResolver(manager, logger.NewNop())
	processor := NewProcessor(manager, resolver, logger.NewNop())

	pipeline := personPipeline("")
	pipeline.TargetObject = ""

	_, err := processor.ProcessRecords(context.Background(), []map[string]any{
		{"email": "ada@example.com"},
	}, pipeline, emailMappings(), "ws-1")
	assert.Error(t, err)
}
