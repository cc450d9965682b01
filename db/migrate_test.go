package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("successfully opens database and runs migrations", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, conn)
		defer conn.Close()

		for _, table := range []string{
			"schema_migrations",
			"ingestion_pipelines",
			"ingestion_field_mappings",
			"ingestion_logs",
			"ingestion_jobs",
			"ingestion_schedules",
			"crm_records",
		} {
			var exists int
			err = conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&exists)
			require.NoError(t, err)
			assert.Equal(t, 1, exists, "table %s should exist after migrations", table)
		}
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Running again against the same database is a no-op
		require.NoError(t, Migrate(conn, nil))

		var applied int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
		assert.GreaterOrEqual(t, applied, 5)
	})
}

func TestOpenEnablesForeignKeys(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	conn, err := Open(dbPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	var fk int
	require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}
