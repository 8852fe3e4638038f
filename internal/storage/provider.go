// Package storage defines the vault file-system abstraction: the leader side
// of the sync engine.
package storage

import (
	"context"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// Provider is the interface for vault file operations. Identities map to
// files as <root>/<identity><ext>.
type Provider interface {
	// Fingerprints stats every note file in the vault.
	Fingerprints(ctx context.Context) (map[models.Identity]models.Fingerprint, error)
	// Stat fingerprints one note; a missing file yields apperr.ErrNotFound.
	Stat(ctx context.Context, id models.Identity) (models.Fingerprint, error)
	// Read returns the note bytes and the fingerprint of the file that was read.
	Read(ctx context.Context, id models.Identity) ([]byte, models.Fingerprint, error)
	// Write atomically replaces the note file and sets its mtime to modified.
	Write(ctx context.Context, id models.Identity, content []byte, modified time.Time) (models.Fingerprint, error)
	// Delete removes the note file.
	Delete(ctx context.Context, id models.Identity) error
	// Move renames a note file.
	Move(ctx context.Context, from, to models.Identity) error
	// Root returns the absolute vault directory.
	Root() string
	// IdentityOf maps an absolute file path to its identity; ok is false for
	// paths that are not note files inside the vault.
	IdentityOf(absPath string) (models.Identity, bool)
}
