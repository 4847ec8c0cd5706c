// Package dbtest opens migrated in-memory databases for tests
package dbtest

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/database"
)

// Open returns a fresh in-memory database with every migration applied. It
// is closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := database.Open(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = database.MigrateUp(conn)
	require.NoError(t, err)

	return conn
}
