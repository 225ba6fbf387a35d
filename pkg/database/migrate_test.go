package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames_SortedSQLOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_chat.sql":   {Data: []byte("SELECT 1")},
		"migrations/001_schema.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":      {Data: []byte("notes")},
	}

	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_schema.sql", "002_chat.sql"}, names)
}

func TestEmbeddedMigrations_CreateRecordingsTable(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, names)

	schema, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	assert.Contains(t, string(schema), "CREATE TABLE IF NOT EXISTS recordings")
	assert.Contains(t, string(schema), "'PROCESSING', 'READY', 'FAILED'")
}
