package main

import (
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/db"
)

func TestEmbeddedMigrationsParse(t *testing.T) {
	goose.SetBaseFS(db.Migrations)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	migrations, err := goose.CollectMigrations(db.MigrationsDir, 0, goose.MaxVersion)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, int64(1), migrations[0].Version)
	assert.Equal(t, int64(2), migrations[len(migrations)-1].Version)
}

func TestMigrationsDirEnvOverride(t *testing.T) {
	t.Setenv("MIGRATIONS_DIR", "/custom/migrations")
	assert.Equal(t, "/custom/migrations", migrationsDir())
}

func TestMigrationsDirDefault(t *testing.T) {
	t.Setenv("MIGRATIONS_DIR", "")
	assert.Equal(t, "db/migrations", migrationsDir())
}
