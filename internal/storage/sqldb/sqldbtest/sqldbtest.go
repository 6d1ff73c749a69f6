// Package sqldbtest opens throwaway SQLite stores for tests.
package sqldbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage/sqldb"
)

// New opens a migrated store backed by a temp file. The store is closed when
// the test ends.
func New(t testing.TB) *sqldb.Store {
	t.Helper()

	ctx := context.Background()
	store, err := sqldb.Open(ctx, sqldb.Config{
		Driver: sqldb.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Failed to close test database: %v", cerr)
		}
	})

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return store
}
