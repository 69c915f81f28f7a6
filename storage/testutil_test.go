package storage

import (
	"path/filepath"
	"testing"
)

// newTestStore opens a fresh database with the maintenance loop disabled.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenWithOptions(filepath.Join(t.TempDir(), DefaultDBFileName), Options{MaintenanceInterval: -1})
	if err != nil {
		t.Fatalf("OpenWithOptions failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return store
}
