package index

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/changeset"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// Observer is called after every successful pass with the changes that were
// actually applied.
type Observer func(cs changeset.ChangeSet)

// Syncer applies leader-wins change sets from the vault to the index. Passes
// never overlap: a pass started while another runs waits for it.
type Syncer struct {
	db       *DB
	store    storage.Provider
	logger   *slog.Logger
	now      func() time.Time
	observer Observer

	sem *semaphore.Weighted
	gen atomic.Uint64
}

// SyncOption configures a Syncer.
type SyncOption func(*Syncer)

// WithSyncLogger sets the syncer's logger.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(s *Syncer) { s.logger = l }
}

// WithObserver registers fn to receive applied change sets.
func WithObserver(fn Observer) SyncOption {
	return func(s *Syncer) { s.observer = fn }
}

// WithSyncClock overrides the clock used for ChangeSet.StartedAt.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer creates a Syncer that reconciles db against store.
func NewSyncer(db *DB, store storage.Provider, opts ...SyncOption) *Syncer {
	s := &Syncer{
		db:     db,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		sem:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generation returns the generation of the most recently started pass.
// Callers holding an older ChangeSet can treat it as stale.
func (s *Syncer) Generation() uint64 { return s.gen.Load() }

// Sync runs a full pass over the whole vault.
func (s *Syncer) Sync(ctx context.Context) (changeset.ChangeSet, error) {
	return s.run(ctx, nil)
}

// SyncIdentities runs a pass restricted to ids. An identity missing from the
// vault but present in the index is deleted from the index.
func (s *Syncer) SyncIdentities(ctx context.Context, ids []models.Identity) (changeset.ChangeSet, error) {
	if len(ids) == 0 {
		return changeset.ChangeSet{Changes: []changeset.Change{}, StartedAt: s.now()}, nil
	}
	return s.run(ctx, ids)
}

func (s *Syncer) run(ctx context.Context, ids []models.Identity) (changeset.ChangeSet, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return changeset.ChangeSet{}, err
	}
	defer s.sem.Release(1)

	scope := "full"
	if ids != nil {
		scope = "scoped"
	}
	gen := s.gen.Add(1)
	started := s.now()
	t0 := time.Now()
	metrics.SyncPasses.WithLabelValues(scope).Inc()

	skip := make(map[models.Identity]struct{})
	leader, err := s.leader(ctx, ids, skip)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	follower, err := s.db.Fingerprints(ctx, ids...)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	for id := range skip {
		delete(follower, id)
	}

	cs := changeset.Diff(leader, follower)
	cs.Generation = gen
	cs.StartedAt = started

	for _, c := range cs.Pending() {
		if err := ctx.Err(); err != nil {
			return changeset.ChangeSet{}, err
		}
		if err := s.apply(ctx, c); err != nil {
			skip[c.Identity] = struct{}{}
			metrics.SyncItemFailures.Inc()
			s.logger.Warn("sync: apply failed",
				slog.String("identity", c.Identity.String()),
				slog.String("status", c.Status.String()),
				slog.String("error", err.Error()))
			continue
		}
		metrics.SyncChanges.WithLabelValues(c.Status.String()).Inc()
		s.logger.Debug("sync: applied",
			slog.String("identity", c.Identity.String()),
			slog.String("status", c.Status.String()))
	}

	out := cs.Without(skip)
	metrics.SyncDuration.Observe(time.Since(t0).Seconds())
	s.logger.Info("sync: pass complete",
		slog.String("scope", scope),
		slog.Uint64("generation", gen),
		slog.Int("pending", len(out.Pending())),
		slog.Int("failed", len(skip)),
		slog.Duration("took", time.Since(t0)))

	if s.observer != nil {
		s.observer(out)
	}
	return out, nil
}

// leader enumerates vault fingerprints. For a scoped pass each identity is
// stat'ed; a stat failure other than NotFound marks the identity skipped so
// the pass neither upserts nor deletes it.
func (s *Syncer) leader(ctx context.Context, ids []models.Identity, skip map[models.Identity]struct{}) (map[models.Identity]models.Fingerprint, error) {
	if ids == nil {
		return s.store.Fingerprints(ctx)
	}
	out := make(map[models.Identity]models.Fingerprint, len(ids))
	for _, id := range ids {
		fp, err := s.store.Stat(ctx, id)
		switch {
		case err == nil:
			out[id] = fp
		case apperr.KindOf(err) == apperr.ErrNotFound:
		default:
			skip[id] = struct{}{}
			metrics.SyncItemFailures.Inc()
			s.logger.Warn("sync: stat failed",
				slog.String("identity", id.String()),
				slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// apply performs the leader-wins action for one change. The stored
// fingerprint comes from the same read as the content, so a follow-up pass
// over an unchanged vault classifies everything as Same.
func (s *Syncer) apply(ctx context.Context, c changeset.Change) error {
	if c.NeedsDelete() {
		return s.db.DeleteNote(ctx, c.Identity)
	}
	if !c.NeedsUpsert() {
		return nil
	}
	data, fp, err := s.store.Read(ctx, c.Identity)
	if err != nil {
		return err
	}
	note := parser.Note(c.Identity, data, fp.ModifiedTime())
	return s.db.WriteNote(ctx, NoteRow{
		Identity: c.Identity,
		Title:    note.Title,
		Body:     note.Body,
		Modified: fp.Modified,
		Size:     fp.Size,
	})
}
