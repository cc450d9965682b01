package crm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inlettest "github.com/inlethq/inlet/internal/testing"
	"github.com/inlethq/inlet/logger"
)

func newTestRepository(t *testing.T, objectName string) Repository {
	t.Helper()

	manager := NewManager(inlettest.CreateTestDB(t), logger.NewNop())
	repo, err := manager.Repository("ws-1", objectName)
	require.NoError(t, err)
	return repo
}

func TestRepositoryValidation(t *testing.T) {
	manager := NewManager(inlettest.CreateTestDB(t), logger.NewNop())

	_, err := manager.Repository("", "person")
	require.Error(t, err)

	_, err = manager.Repository("ws-1", "")
	require.Error(t, err)
}

func TestSaveAssignsID(t *testing.T) {
	repo := newTestRepository(t, "person")

	saved, err := repo.Save(context.Background(), Record{"name": "Ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID())
	assert.Equal(t, "Ada", saved["name"])
}

func TestFindOneByField(t *testing.T) {
	repo := newTestRepository(t, "person")
	ctx := context.Background()

	_, err := repo.Save(ctx, Record{"email": "ada@example.com", "name": "Ada"})
	require.NoError(t, err)

	found, err := repo.FindOne(ctx, Where{"email": "ada@example.com"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Ada", found["name"])

	missing, err := repo.FindOne(ctx, Where{"email": "nobody@example.com"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindOneByCompositeSubField(t *testing.T) {
	repo := newTestRepository(t, "person")
	ctx := context.Background()

	_, err := repo.Save(ctx, Record{
		"name":   "Ada",
		"phones": map[string]any{"primaryPhoneNumber": "+15551234567"},
	})
	require.NoError(t, err)

	found, err := repo.FindOne(ctx, Where{
		"phones": Where{"primaryPhoneNumber": "+15551234567"},
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Ada", found["name"])
}

func TestRepositoriesAreScoped(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	manager := NewManager(db, logger.NewNop())
	ctx := context.Background()

	people, err := manager.Repository("ws-1", "person")
	require.NoError(t, err)
	companies, err := manager.Repository("ws-1", "company")
	require.NoError(t, err)
	otherWorkspace, err := manager.Repository("ws-2", "person")
	require.NoError(t, err)

	_, err = people.Save(ctx, Record{"name": "Ada"})
	require.NoError(t, err)

	found, err := companies.FindOne(ctx, Where{"name": "Ada"})
	require.NoError(t, err)
	assert.Nil(t, found, "object types must not leak")

	found, err = otherWorkspace.FindOne(ctx, Where{"name": "Ada"})
	require.NoError(t, err)
	assert.Nil(t, found, "workspaces must not leak")
}

func TestUpdatePatchesFields(t *testing.T) {
	repo := newTestRepository(t, "person")
	ctx := context.Background()

	saved, err := repo.Save(ctx, Record{"name": "Ada", "city": "London"})
	require.NoError(t, err)

	err = repo.Update(ctx, saved.ID(), Record{"city": "Cambridge"})
	require.NoError(t, err)

	found, err := repo.FindOne(ctx, Where{"name": "Ada"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Cambridge", found["city"])
	assert.Equal(t, "Ada", found["name"], "untouched fields survive")
}

func TestUpdateMissingRecord(t *testing.T) {
	repo := newTestRepository(t, "person")

	err := repo.Update(context.Background(), "no-such-id", Record{"city": "Oz"})
	require.Error(t, err)
}

func TestFindReturnsAllMatches(t *testing.T) {
	repo := newTestRepository(t, "person")
	ctx := context.Background()

	for _, name := range []string{"Ada", "Grace"} {
		_, err := repo.Save(ctx, Record{"name": name, "team": "eng"})
		require.NoError(t, err)
	}

	records, err := repo.Find(ctx, Where{"team": "eng"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFlattenWhereRejectsHostileKeys(t *testing.T) {
	_, err := flattenWhere(Where{"a'] OR 1=1 --": "x"})
	require.Error(t, err)
}
