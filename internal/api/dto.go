package api

import (
	"time"

	"github.com/starford/ansuz/internal/changeset"
	"github.com/starford/ansuz/internal/editor"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/noteservice"
)

// WriteNoteRequest is the request body for creating or replacing a note.
type WriteNoteRequest struct {
	Title string `json:"title" example:"Idea One"`
	Body  string `json:"body" example:"first idea" validate:"required"`
}

// RenameNoteRequest is the request body for moving a note to a new identity.
type RenameNoteRequest struct {
	From string `json:"from" example:"drafts/idea" validate:"required"`
	To   string `json:"to" example:"projects/idea" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.Match `json:"results" validate:"required"`
}

// RecentResponse wraps the most recently modified notes.
type RecentResponse struct {
	Notes []index.Match `json:"notes" validate:"required"`
}

// SuggestionsResponse wraps an ordered suggestion list.
type SuggestionsResponse struct {
	Suggestions []index.Suggestion `json:"suggestions" validate:"required"`
}

// AutosaveRequest carries an editor buffer and the signal that asked for a save.
type AutosaveRequest struct {
	Buffer  editor.Buffer `json:"buffer" validate:"required"`
	Trigger string        `json:"trigger" example:"blur" enums:"timer,blur,background,scene_phase,navigate"`
}

// AutosaveResponse returns the buffer with its new save state.
type AutosaveResponse struct {
	Buffer editor.Buffer `json:"buffer" validate:"required"`
	Wrote  bool          `json:"wrote" example:"true"`
}

// NavigateRequest moves the editor from Buffer to the note Next.
type NavigateRequest struct {
	Buffer editor.Buffer `json:"buffer"`
	Next   string        `json:"next" example:"projects/beta" validate:"required"`
}

// NavigateResponse returns the buffer now open and what reconciliation did.
type NavigateResponse struct {
	Buffer  editor.Buffer  `json:"buffer" validate:"required"`
	Outcome editor.Outcome `json:"outcome" swaggertype:"string" example:"switched"`
}

// SyncResponse summarises a reconciliation pass.
type SyncResponse struct {
	Generation uint64             `json:"generation" example:"3"`
	StartedAt  time.Time          `json:"started_at"`
	Counts     map[string]int     `json:"counts"`
	Changes    []changeset.Change `json:"changes" validate:"required"`
}

// MigrationResponse reports the outcome of a migrate or rebuild request.
type MigrationResponse struct {
	State       string `json:"state" example:"ready"`
	FromVersion int    `json:"from_version" example:"1"`
	ToVersion   int    `json:"to_version" example:"3"`
	Applied     []int  `json:"applied"`
}

// StateResponse reports the index migration state.
type StateResponse struct {
	State string `json:"state" example:"ready"`
}

func syncResponse(cs changeset.ChangeSet) SyncResponse {
	counts := make(map[string]int)
	for st, n := range cs.Counts() {
		counts[st.String()] = n
	}
	changes := cs.Pending()
	if changes == nil {
		changes = []changeset.Change{}
	}
	return SyncResponse{
		Generation: cs.Generation,
		StartedAt:  cs.StartedAt,
		Counts:     counts,
		Changes:    changes,
	}
}

func migrationResponse(state index.MigrationState, res index.MigrationResult) MigrationResponse {
	applied := res.Applied
	if applied == nil {
		applied = []int{}
	}
	return MigrationResponse{
		State:       state.String(),
		FromVersion: res.FromVersion,
		ToVersion:   res.ToVersion,
		Applied:     applied,
	}
}
