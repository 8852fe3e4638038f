package index

import (
	"context"

	"github.com/starford/ansuz/internal/models"
)

// NoteIndex defines the read and write operations the service layer needs.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type NoteIndex interface {
	WriteNote(ctx context.Context, n NoteRow) error
	DeleteNote(ctx context.Context, id models.Identity) error
	RenameNote(ctx context.Context, from models.Identity, to NoteRow) error
	GetNote(ctx context.Context, id models.Identity) (*NoteRow, error)
	Fingerprints(ctx context.Context, ids ...models.Identity) (map[models.Identity]models.Fingerprint, error)
	Search(ctx context.Context, query string, limit int) ([]Match, error)
	Suggestions(ctx context.Context, query string, opts SuggestOptions) ([]Suggestion, error)
	RenameSuggestions(ctx context.Context, query string, current models.Identity, limit int) ([]Suggestion, error)
	RecentNotes(ctx context.Context, limit int) ([]Match, error)
	Migrate(ctx context.Context) (MigrationResult, error)
	Rebuild(ctx context.Context) (MigrationResult, error)
	State() MigrationState
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)

// Verify the detectors satisfy Detector at compile time.
var (
	_ Detector = Ticker{}
	_ Detector = (*Watcher)(nil)
)
