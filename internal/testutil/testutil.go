// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

// TestDB creates a temporary SQLite database migrated to the latest schema.
// It is closed automatically.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "ansuz-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return db
}

// TestVault creates a temporary vault directory with a filesystem store.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir, "")
	if err != nil {
		t.Fatal(err)
	}
	return store.Root(), store
}

// WriteNote writes raw note content to the vault with the given modification time.
func WriteNote(t *testing.T, store *storage.FS, id models.Identity, content string, modified time.Time) models.Fingerprint {
	t.Helper()
	fp, err := store.Write(context.Background(), id, []byte(content), modified)
	if err != nil {
		t.Fatal(err)
	}
	return fp
}
