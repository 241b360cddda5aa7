package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"listsync/internal/database"
)

// SQLite returns a migrated in-memory database closed at test cleanup.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.OpenAndMigrate(context.Background(), database.DriverSQLite, ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
