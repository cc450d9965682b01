package ingest

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlethq/inlet/errors"
	inlettest "github.com/inlethq/inlet/internal/testing"
	"github.com/inlethq/inlet/logger"
)

func newPipelineStore(t *testing.T) (*PipelineStore, *sql.DB) {
	t.Helper()
	db := inlettest.CreateTestDB(t)
	return NewPipelineStore(db, logger.NewNop()), db
}

func createPipeline(t *testing.T, store *PipelineStore, p *Pipeline) *Pipeline {
	t.Helper()
	require.NoError(t, store.Create(p))
	return p
}

func TestPipelineStoreCreateAndGet(t *testing.T) {
	store, _ := newPipelineStore(t)

	p := createPipeline(t, store, &Pipeline{
		WorkspaceID:  "ws-1",
		Name:         "People import",
		Description:  "nightly sync",
		Mode:         ModePull,
		TargetObject: "person",
		SourceURL:    "https://api.example.com/people",
		Schedule:     "0 2 * * *",
		AuthConfig:   &AuthConfig{Kind: AuthBearer, Token: "tok"},
		PaginationConfig: &PaginationConfig{
			Kind: PaginationOffset, ParamName: "offset", PageSize: 100,
		},
		DedupFieldName: "email",
	})
	require.NotEmpty(t, p.ID)

	got, err := store.GetForWorkspace(p.ID, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "People import", got.Name)
	assert.Equal(t, ModePull, got.Mode)
	assert.Equal(t, "0 2 * * *", got.Schedule)
	require.NotNil(t, got.AuthConfig)
	assert.Equal(t, AuthBearer, got.AuthConfig.Kind)
	require.NotNil(t, got.PaginationConfig)
	assert.Equal(t, 100, got.PaginationConfig.PageSize)
	assert.False(t, got.IsEnabled)
	assert.Empty(t, got.WebhookSecret)
}

func TestPipelineStoreCreateRejectsInvalid(t *testing.T) {
	store, _ := newPipelineStore(t)

	err := store.Create(&Pipeline{WorkspaceID: "ws-1", Name: "x", Mode: "stream", TargetObject: "person"})
	assert.True(t, errors.IsInvalidInputError(err))
}

func TestPipelineStorePushCreateGeneratesSecret(t *testing.T) {
	store, _ := newPipelineStore(t)

	p := createPipeline(t, store, &Pipeline{
		WorkspaceID:  "ws-1",
		Name:         "Webhook intake",
		Mode:         ModePush,
		TargetObject: "person",
	})

	got, err := store.GetForWorkspace(p.ID, "ws-1")
	require.NoError(t, err)
	assert.Len(t, got.WebhookSecret, 64)
}

func TestPipelineStoreWorkspaceIsolation(t *testing.T) {
	store, _ := newPipelineStore(t)

	p := createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "A", Mode: ModePush, TargetObject: "person",
	})

	_, err := store.GetForWorkspace(p.ID, "ws-2")
	assert.True(t, errors.Is(err, errors.ErrPipelineNotFound))

	// GetByID ignores workspace: the webhook endpoint looks up by id alone.
	got, err := store.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPipelineStoreUpdate(t *testing.T) {
	store, _ := newPipelineStore(t)

	p := createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "A", Mode: ModePull, TargetObject: "person",
	})

	p.Name = "B"
	p.IsEnabled = true
	p.Schedule = "*/5 * * * *"
	require.NoError(t, store.Update(p))

	got, err := store.GetForWorkspace(p.ID, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)
	assert.True(t, got.IsEnabled)
	assert.Equal(t, "*/5 * * * *", got.Schedule)
}

func TestPipelineStoreUpdateMissingPipeline(t *testing.T) {
	store, _ := newPipelineStore(t)

	err := store.Update(&Pipeline{
		ID: "ghost", WorkspaceID: "ws-1", Name: "A", Mode: ModePull, TargetObject: "person",
	})
	assert.True(t, errors.Is(err, errors.ErrPipelineNotFound))
}

func TestPipelineStoreSoftDelete(t *testing.T) {
	store, _ := newPipelineStore(t)

	p := createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "A", Mode: ModePush, TargetObject: "person",
	})
	require.NoError(t, store.SoftDelete(p.ID, "ws-1"))

	_, err := store.GetForWorkspace(p.ID, "ws-1")
	assert.True(t, errors.Is(err, errors.ErrPipelineNotFound))

	list, err := store.List("ws-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPipelineStoreListEnabledPull(t *testing.T) {
	store, _ := newPipelineStore(t)

	scheduled := createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "scheduled", Mode: ModePull, TargetObject: "person",
		Schedule: "0 * * * *", IsEnabled: true,
	})
	createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "disabled", Mode: ModePull, TargetObject: "person",
		Schedule: "0 * * * *",
	})
	createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "no schedule", Mode: ModePull, TargetObject: "person",
		IsEnabled: true,
	})
	createPipeline(t, store, &Pipeline{
		WorkspaceID: "ws-1", Name: "push", Mode: ModePush, TargetObject: "person",
		IsEnabled: true,
	})

	list, err := store.ListEnabledPull()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, scheduled.ID, list[0].ID)
}
