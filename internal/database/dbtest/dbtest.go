// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"fmt"
	"testing"

	"catalogsync/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// New returns a migrated in-memory SQLite database private to the test.
func New(t testing.TB) *database.Database {
	t.Helper()

	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.New(url, database.WithQueryLogging(false))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}
