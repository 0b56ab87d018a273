package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://bot:secret@db:5433/fluxbot?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 5433, Database: "fluxbot", User: "bot", Password: "secret", SSLMode: "require"}),
	)
	assert.Equal(t,
		"postgres://u:p@localhost:5432/x?sslmode=disable",
		DSN(ClientConfig{Host: "localhost", Database: "x", User: "u", Password: "p"}),
	)
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_positions.sql", "002_audit_log.sql", "003_archived_positions.sql"}, names)
}
