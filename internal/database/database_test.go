package database

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("postgresql://localhost/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("pgx5://localhost/db"))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))

	trigger, err := fs.ReadFile(migrations, "migrations/000003_notify_zone_changes.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(trigger), "pg_notify('zone_changes'")
}
