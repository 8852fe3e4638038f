package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// NoteRow represents a row in the notes table. Modified and Size are the
// follower fingerprint and must come from the same stat as Body.
type NoteRow struct {
	Identity models.Identity
	Title    string
	Body     string
	Modified int64
	Size     int64
}

// Fingerprint returns the row's follower fingerprint.
func (r NoteRow) Fingerprint() models.Fingerprint {
	return models.Fingerprint{Identity: r.Identity, Modified: r.Modified, Size: r.Size}
}

// WriteNote upserts a note in one transaction. Triggers on notes carry the
// change into the full-text mirror.
func (db *DB) WriteNote(ctx context.Context, n NoteRow) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.inTx(ctx, "write", func(tx *sql.Tx) error {
		return upsertTx(ctx, tx, n)
	})
}

// DeleteNote removes a note; its mirror row goes with it. Deleting an absent
// note is not an error.
func (db *DB) DeleteNote(ctx context.Context, id models.Identity) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.inTx(ctx, "delete", func(tx *sql.Tx) error {
		return deleteTx(ctx, tx, id)
	})
}

// RenameNote replaces the row for from with to in one transaction.
func (db *DB) RenameNote(ctx context.Context, from models.Identity, to NoteRow) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.inTx(ctx, "rename", func(tx *sql.Tx) error {
		if err := deleteTx(ctx, tx, from); err != nil {
			return err
		}
		return upsertTx(ctx, tx, to)
	})
}

func upsertTx(ctx context.Context, tx *sql.Tx, n NoteRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notes (identity, title, body, modified, size, indexed_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(identity) DO UPDATE SET
			title      = excluded.title,
			body       = excluded.body,
			modified   = excluded.modified,
			size       = excluded.size,
			indexed_at = excluded.indexed_at
	`, string(n.Identity), n.Title, n.Body, n.Modified, n.Size)
	if err != nil {
		return fmt.Errorf("upsert note %s: %w", n.Identity, err)
	}
	return nil
}

func deleteTx(ctx context.Context, tx *sql.Tx, id models.Identity) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE identity = ?`, string(id)); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	return nil
}

func (db *DB) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := db.db().BeginTx(ctx, nil)
	if err != nil {
		return apperr.IO("index "+op, "", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := fn(tx); err != nil {
		return apperr.IO("index "+op, "", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.IO("index "+op, "", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// GetNote returns the indexed row for id.
func (db *DB) GetNote(ctx context.Context, id models.Identity) (*NoteRow, error) {
	var r NoteRow
	var ident string
	err := db.db().QueryRowContext(ctx,
		`SELECT identity, title, body, modified, size FROM notes WHERE identity = ?`, string(id),
	).Scan(&ident, &r.Title, &r.Body, &r.Modified, &r.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get note", string(id))
	}
	if err != nil {
		return nil, apperr.Query("get note", err)
	}
	r.Identity = models.Identity(ident)
	return &r, nil
}

// Fingerprints enumerates follower fingerprints: every row when ids is
// empty, otherwise only the listed identities that are indexed.
func (db *DB) Fingerprints(ctx context.Context, ids ...models.Identity) (map[models.Identity]models.Fingerprint, error) {
	out := make(map[models.Identity]models.Fingerprint)
	if len(ids) == 0 {
		if err := db.scanFingerprints(ctx, out, `SELECT identity, modified, size FROM notes`); err != nil {
			return nil, err
		}
		return out, nil
	}

	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		args := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			args = append(args, string(id))
		}
		q := `SELECT identity, modified, size FROM notes WHERE identity IN (?` +
			strings.Repeat(",?", len(args)-1) + `)`
		if err := db.scanFingerprints(ctx, out, q, args...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) scanFingerprints(ctx context.Context, out map[models.Identity]models.Fingerprint, q string, args ...any) error {
	rows, err := db.db().QueryContext(ctx, q, args...)
	if err != nil {
		return apperr.Query("fingerprints", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var fp models.Fingerprint
		if err := rows.Scan(&id, &fp.Modified, &fp.Size); err != nil {
			return apperr.Query("fingerprints", err)
		}
		fp.Identity = models.Identity(id)
		out[fp.Identity] = fp
	}
	if err := rows.Err(); err != nil {
		return apperr.Query("fingerprints", err)
	}
	return nil
}

// Count returns the number of indexed notes.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.db().QueryRowContext(ctx, `SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, apperr.Query("count", err)
	}
	return n, nil
}
