// Package editor keeps an in-memory editing buffer consistent with the
// persisted copy of a note using last-write-wins reconciliation.
package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/fingerprint"
	"github.com/starford/ansuz/internal/models"
)

// SaveState says whether a buffer diverges from what was last persisted.
type SaveState int

const (
	Unsaved SaveState = iota
	Saving
	Saved
)

func (s SaveState) String() string {
	switch s {
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	default:
		return "unsaved"
	}
}

// MarshalText encodes the state by name.
func (s SaveState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *SaveState) UnmarshalText(b []byte) error {
	for _, v := range []SaveState{Unsaved, Saving, Saved} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("editor: unknown save state %q", b)
}

// Buffer is the editing surface. The zero Buffer has no open note.
type Buffer struct {
	Identity models.Identity `json:"identity,omitempty"`
	Modified time.Time       `json:"modified"`
	Text     string          `json:"text"`
	State    SaveState       `json:"state"`
}

// Empty reports whether no note is open.
func (b Buffer) Empty() bool { return b.Identity == "" }

// Fingerprint returns the buffer's fingerprint, or nil when empty.
func (b Buffer) Fingerprint() *models.Fingerprint {
	if b.Empty() {
		return nil
	}
	fp := models.NewFingerprint(b.Identity, b.Modified, int64(len(b.Text)))
	return &fp
}

// Edit replaces the text, marks the buffer unsaved and stamps it with now.
func (b Buffer) Edit(text string, now time.Time) Buffer {
	b.Text = text
	b.Modified = now
	b.State = Unsaved
	return b
}

// Record is a freshly loaded persisted note.
type Record struct {
	Identity models.Identity `json:"identity"`
	Modified time.Time       `json:"modified"`
	Text     string          `json:"text"`
}

// Fingerprint returns the record's fingerprint, or nil for a nil record.
func (r *Record) Fingerprint() *models.Fingerprint {
	if r == nil {
		return nil
	}
	fp := models.NewFingerprint(r.Identity, r.Modified, int64(len(r.Text)))
	return &fp
}

// Buffer opens r as a saved buffer.
func (r Record) Buffer() Buffer {
	return Buffer{Identity: r.Identity, Modified: r.Modified, Text: r.Text, State: Saved}
}

// Saver persists a buffer.
type Saver interface {
	Save(ctx context.Context, buf Buffer) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, buf Buffer) error

// Save implements Saver.
func (f SaverFunc) Save(ctx context.Context, buf Buffer) error { return f(ctx, buf) }

// Outcome describes what Reconcile did to the buffer.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeKeptBuffer
	OutcomeAdopted
	OutcomeConflictKeptBuffer
	OutcomeSwitched
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKeptBuffer:
		return "kept_buffer"
	case OutcomeAdopted:
		return "adopted"
	case OutcomeConflictKeptBuffer:
		return "conflict_kept_buffer"
	case OutcomeSwitched:
		return "switched"
	default:
		return "unchanged"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// ConflictPolicy resolves a Conflict between buffer and record.
type ConflictPolicy int

// ConflictKeepBuffer keeps the buffer as is when both sides carry the same
// second but differ in size. The caller learns about it through
// OutcomeConflictKeptBuffer.
const ConflictKeepBuffer ConflictPolicy = 0

// ErrNoSaver is returned when an unsaved buffer must be persisted but no
// Saver was supplied.
var ErrNoSaver = errors.New("editor: unsaved buffer and no saver")

// Reconcile merges loaded into buf.
//
// For the same identity the newer side wins; a conflict keeps the buffer.
// When loaded names a different note the outgoing buffer is saved first
// unless already saved; if that save fails the buffer is returned unchanged
// with the error and loaded is not adopted.
func Reconcile(ctx context.Context, buf Buffer, loaded *Record, saver Saver) (Buffer, Outcome, error) {
	if loaded != nil && !buf.Empty() && loaded.Identity != buf.Identity {
		if buf.State != Saved {
			if saver == nil {
				return buf, OutcomeUnchanged, ErrNoSaver
			}
			if err := saver.Save(ctx, buf); err != nil {
				return buf, OutcomeUnchanged, err
			}
		}
		return loaded.Buffer(), OutcomeSwitched, nil
	}

	switch fingerprint.Classify(buf.Fingerprint(), loaded.Fingerprint()) {
	case fingerprint.LeftNewer:
		return buf, OutcomeKeptBuffer, nil
	case fingerprint.RightNewer, fingerprint.RightOnly:
		return loaded.Buffer(), OutcomeAdopted, nil
	case fingerprint.Conflict:
		return buf, OutcomeConflictKeptBuffer, nil
	default:
		// Same, LeftOnly, or nothing on either side.
		return buf, OutcomeUnchanged, nil
	}
}
