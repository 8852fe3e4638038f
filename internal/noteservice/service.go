// Package noteservice is the collaborator surface over the vault, the index
// and the syncer. Transports (HTTP, MCP, CLI) call it; they never touch the
// store or the index directly.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/changeset"
	"github.com/starford/ansuz/internal/editor"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// Event kinds passed to a Publisher.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Publisher receives note changes made through the service.
type Publisher interface {
	PublishNoteEvent(kind string, id models.Identity)
}

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	models.Note
	Fingerprint models.Fingerprint `json:"fingerprint"`
}

// Record returns the note as a freshly loaded editor record. Its modification
// time is the file's, the same clock the syncer compares.
func (d NoteDetail) Record() editor.Record {
	return editor.Record{Identity: d.Identity, Modified: d.Fingerprint.ModifiedTime(), Text: d.Body}
}

// Limits bounds query results.
type Limits struct {
	Search       int
	Recent       int
	History      int
	Suggestions  int
	RenameTarget int
}

// Service coordinates storage and index operations.
type Service struct {
	store     storage.Provider
	db        *index.DB
	syncer    *index.Syncer
	logger    *slog.Logger
	now       func() time.Time
	limits    Limits
	publisher Publisher
	autosaver *editor.Autosaver
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock used to stamp written notes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLimits overrides the default result limits. Zero fields keep defaults.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		if l.Search > 0 {
			s.limits.Search = l.Search
		}
		if l.Recent > 0 {
			s.limits.Recent = l.Recent
		}
		if l.History > 0 {
			s.limits.History = l.History
		}
		if l.Suggestions > 0 {
			s.limits.Suggestions = l.Suggestions
		}
		if l.RenameTarget > 0 {
			s.limits.RenameTarget = l.RenameTarget
		}
	}
}

// WithPublisher registers p to receive note changes.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a new note service.
func NewService(store storage.Provider, db *index.DB, syncer *index.Syncer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		db:     db,
		syncer: syncer,
		logger: slog.Default(),
		now:    time.Now,
		limits: Limits{Search: 20, Recent: 5, History: 3, Suggestions: 5, RenameTarget: 5},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.autosaver = editor.NewAutosaver(s, s.logger)
	return s
}

// Verify *Service persists editor buffers at compile time.
var _ editor.Saver = (*Service)(nil)

// State returns the index migration state.
func (s *Service) State() index.MigrationState { return s.db.State() }

func (s *Service) ready(op string) error {
	if st := s.db.State(); st != index.StateReady {
		return &apperr.Error{Kind: apperr.ErrUpgrading, Op: op, Err: fmt.Errorf("index state %s", st)}
	}
	return nil
}

// Migrate brings the index schema up to date.
func (s *Service) Migrate(ctx context.Context) (index.MigrationResult, error) {
	return s.db.Migrate(ctx)
}

// Rebuild recreates the index from scratch and repopulates it from the vault.
func (s *Service) Rebuild(ctx context.Context) (index.MigrationResult, error) {
	res, err := s.db.Rebuild(ctx)
	if err != nil {
		return res, err
	}
	if _, err := s.syncer.Sync(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Sync runs a full reconciliation pass.
func (s *Service) Sync(ctx context.Context) (changeset.ChangeSet, error) {
	if err := s.ready("sync"); err != nil {
		return changeset.ChangeSet{}, err
	}
	return s.syncer.Sync(ctx)
}

// Search returns ranked matches. Engine failures degrade to an empty result.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.Match, error) {
	if err := s.ready("search"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.limits.Search
	}
	res, err := s.db.Search(ctx, query, limit)
	if err != nil {
		return degrade(s.logger, "search", query, err, []index.Match{})
	}
	metrics.Searches.WithLabelValues("search", "ok").Inc()
	return res, nil
}

// SearchSuggestions returns the ordered suggestion list for query.
func (s *Service) SearchSuggestions(ctx context.Context, query string) ([]index.Suggestion, error) {
	if err := s.ready("suggestions"); err != nil {
		return nil, err
	}
	res, err := s.db.Suggestions(ctx, query, index.SuggestOptions{
		RecentLimit:  s.limits.Recent,
		HistoryLimit: s.limits.History,
		EntryLimit:   s.limits.Suggestions,
	})
	if err != nil {
		return degrade(s.logger, "suggestions", query, err, []index.Suggestion{})
	}
	metrics.Searches.WithLabelValues("suggestions", "ok").Inc()
	return res, nil
}

// RenameSuggestions returns rename targets for the note current.
func (s *Service) RenameSuggestions(ctx context.Context, query string, current models.Identity) ([]index.Suggestion, error) {
	if err := s.ready("rename suggestions"); err != nil {
		return nil, err
	}
	res, err := s.db.RenameSuggestions(ctx, query, current, s.limits.RenameTarget)
	if err != nil {
		return degrade(s.logger, "rename_suggestions", query, err, []index.Suggestion{})
	}
	metrics.Searches.WithLabelValues("rename_suggestions", "ok").Inc()
	return res, nil
}

// degrade logs a query failure and returns empty instead. Only query errors
// degrade; anything else still surfaces.
func degrade[T any](logger *slog.Logger, kind, query string, err error, empty []T) ([]T, error) {
	if !errors.Is(err, apperr.ErrQuery) {
		metrics.Searches.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	metrics.Searches.WithLabelValues(kind, "degraded").Inc()
	logger.Warn("noteservice: query failed, returning no results",
		slog.String("kind", kind),
		slog.String("query", query),
		slog.String("error", err.Error()))
	return empty, nil
}

// Recent returns the most recently modified notes.
func (s *Service) Recent(ctx context.Context, limit int) ([]index.Match, error) {
	if err := s.ready("recent"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.limits.Search
	}
	return s.db.RecentNotes(ctx, limit)
}

// Read loads a note from the vault.
func (s *Service) Read(ctx context.Context, id models.Identity) (*NoteDetail, error) {
	if !id.Valid() {
		return nil, apperr.NotFound("read", string(id))
	}
	data, fp, err := s.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{Note: parser.Note(id, data, fp.ModifiedTime()), Fingerprint: fp}, nil
}

// Write creates or replaces a note with the given title and body, stamped
// with the current time. Created and unrecognised headers of an existing
// note are kept.
func (s *Service) Write(ctx context.Context, id models.Identity, title, body string) (*NoteDetail, error) {
	if err := s.ready("write"); err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Second)
	note, existed, err := s.existing(ctx, id)
	if err != nil {
		return nil, err
	}
	note.Title = strings.TrimSpace(title)
	note.Body = body
	note.Modified = now
	if note.Created.IsZero() {
		note.Created = now
	}
	return s.persist(ctx, note, existed)
}

// Save persists an editor buffer. The buffer's text becomes the body and its
// modification time the note's Modified header and file mtime.
func (s *Service) Save(ctx context.Context, buf editor.Buffer) error {
	if buf.Empty() {
		return errors.New("noteservice: save: empty buffer")
	}
	if err := s.ready("save"); err != nil {
		return err
	}
	note, existed, err := s.existing(ctx, buf.Identity)
	if err != nil {
		return err
	}
	note.Body = buf.Text
	note.Modified = buf.Modified.UTC().Truncate(time.Second)
	if note.Created.IsZero() {
		note.Created = note.Modified
	}
	_, err = s.persist(ctx, note, existed)
	return err
}

// Open loads a note into a fresh editor buffer and registers it as the
// persisted state for autosave.
func (s *Service) Open(ctx context.Context, id models.Identity) (editor.Buffer, error) {
	detail, err := s.Read(ctx, id)
	if err != nil {
		return editor.Buffer{}, err
	}
	buf := detail.Record().Buffer()
	s.autosaver.Observe(buf)
	return buf, nil
}

// Autosave persists buf for trigger t unless it matches what was last saved.
// Triggers for the same note are queued, never run concurrently.
func (s *Service) Autosave(ctx context.Context, buf editor.Buffer, t editor.Trigger) (editor.Buffer, bool, error) {
	if err := s.ready("autosave"); err != nil {
		return buf, false, err
	}
	return s.autosaver.Trigger(ctx, buf, t)
}

// Navigate moves the editor from buf to the note next. An unsaved outgoing
// buffer is saved first; if that fails buf is returned unchanged.
func (s *Service) Navigate(ctx context.Context, buf editor.Buffer, next models.Identity) (editor.Buffer, editor.Outcome, error) {
	if err := s.ready("navigate"); err != nil {
		return buf, editor.OutcomeUnchanged, err
	}
	detail, err := s.Read(ctx, next)
	if err != nil {
		return buf, editor.OutcomeUnchanged, err
	}
	rec := detail.Record()
	return s.autosaver.Navigate(ctx, buf, &rec)
}

// existing returns the note currently stored for id with only its explicit
// headers, or a fresh note when none exists.
func (s *Service) existing(ctx context.Context, id models.Identity) (models.Note, bool, error) {
	if !id.Valid() {
		return models.Note{}, false, apperr.IO("write", string(id), errors.New("invalid identity"))
	}
	data, _, err := s.store.Read(ctx, id)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return models.Note{Identity: id}, false, nil
	case err != nil:
		return models.Note{}, false, err
	}
	res := parser.Parse(data)
	return models.Note{
		Identity:    id,
		Title:       res.Title,
		ContentType: res.ContentType,
		Created:     res.Created,
		Headers:     res.Headers,
	}, true, nil
}

func (s *Service) persist(ctx context.Context, note models.Note, existed bool) (*NoteDetail, error) {
	fp, err := s.store.Write(ctx, note.Identity, parser.Encode(note), note.Modified)
	if err != nil {
		return nil, err
	}
	if err := s.db.WriteNote(ctx, rowFor(note, fp)); err != nil {
		return nil, err
	}
	kind := EventCreated
	if existed {
		kind = EventUpdated
	}
	s.publish(kind, note.Identity)
	if note.Title == "" {
		note.Title = parser.DeriveTitle(note.Body, note.Identity)
	}
	return &NoteDetail{Note: note, Fingerprint: fp}, nil
}

// Delete removes a note from the vault and the index.
func (s *Service) Delete(ctx context.Context, id models.Identity) error {
	if err := s.ready("delete"); err != nil {
		return err
	}
	if !id.Valid() {
		return apperr.NotFound("delete", string(id))
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.db.DeleteNote(ctx, id); err != nil {
		return err
	}
	s.publish(EventDeleted, id)
	return nil
}

// Rename moves a note to a new identity in the vault and the index.
func (s *Service) Rename(ctx context.Context, from, to models.Identity) (*NoteDetail, error) {
	if err := s.ready("rename"); err != nil {
		return nil, err
	}
	if !from.Valid() {
		return nil, apperr.NotFound("rename", string(from))
	}
	if !to.Valid() {
		return nil, apperr.IO("rename", string(to), errors.New("invalid identity"))
	}
	if from == to {
		return s.Read(ctx, from)
	}
	if err := s.store.Move(ctx, from, to); err != nil {
		return nil, err
	}
	detail, err := s.Read(ctx, to)
	if err != nil {
		return nil, err
	}
	if err := s.db.RenameNote(ctx, from, rowFor(detail.Note, detail.Fingerprint)); err != nil {
		return nil, err
	}
	s.publish(EventDeleted, from)
	s.publish(EventCreated, to)
	return detail, nil
}

func (s *Service) publish(kind string, id models.Identity) {
	if s.publisher != nil {
		s.publisher.PublishNoteEvent(kind, id)
	}
}

func rowFor(note models.Note, fp models.Fingerprint) index.NoteRow {
	title := note.Title
	if title == "" {
		title = parser.DeriveTitle(note.Body, note.Identity)
	}
	return index.NoteRow{
		Identity: note.Identity,
		Title:    title,
		Body:     note.Body,
		Modified: fp.Modified,
		Size:     fp.Size,
	}
}
