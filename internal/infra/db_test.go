package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	assert.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "0001_init.up.sql")
	assert.Contains(t, names, "0001_init.down.sql")
}
