// Package db test helpers. Tests should use NewTestStore to get an
// in-memory, fully migrated store with cleanup wired to the test.
package db

import (
	"testing"
)

// NewTestStore creates an in-memory store for testing.
// The store is automatically closed when the test completes and schema
// migrations are applied.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    store := db.NewTestStore(t)
//	    // use store...
//	}
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
