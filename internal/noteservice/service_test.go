package noteservice

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/editor"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishNoteEvent(kind string, id models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+id.String())
}

var clock = time.Date(2024, 9, 1, 8, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *storage.FS, *index.DB, *recorder) {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	rec := &recorder{}
	svc := NewService(store, db, index.NewSyncer(db, store),
		WithClock(func() time.Time { return clock }),
		WithPublisher(rec))
	return svc, store, db, rec
}

func TestWriteAndRead(t *testing.T) {
	svc, _, db, rec := newService(t)
	ctx := context.Background()

	written, err := svc.Write(ctx, "projects/alpha", "Alpha", "first draft\n")
	require.NoError(t, err)
	assert.Equal(t, clock, written.Modified)
	assert.Equal(t, clock, written.Created)

	got, err := svc.Read(ctx, "projects/alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Title)
	assert.Equal(t, "first draft\n", got.Body)
	assert.Equal(t, written.Fingerprint, got.Fingerprint)

	row, err := db.GetNote(ctx, "projects/alpha")
	require.NoError(t, err)
	assert.Equal(t, got.Fingerprint, row.Fingerprint(), "index holds the fingerprint of the written file")

	assert.Equal(t, []string{"created:projects/alpha"}, rec.events)
}

func TestWrite_UpdateKeepsCreatedAndHeaders(t *testing.T) {
	svc, store, _, rec := newService(t)
	ctx := context.Background()
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	testutil.WriteNote(t, store, "n", "Created: 2020-01-01T00:00:00Z\nMood: calm\n\nold\n", created)

	got, err := svc.Write(ctx, "n", "New Title", "new\n")
	require.NoError(t, err)
	assert.Equal(t, created, got.Created)
	assert.Equal(t, "calm", got.Headers["Mood"])

	reread, err := svc.Read(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, "New Title", reread.Title)
	assert.Equal(t, "calm", reread.Headers["Mood"])
	assert.Equal(t, []string{"updated:n"}, rec.events)
}

func TestWrite_RejectsInvalidIdentity(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.Write(context.Background(), "../escape", "x", "y")
	assert.ErrorIs(t, err, apperr.ErrIO)
}

func TestSave_RoundTripsThroughReconcile(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "idea-one", "", "hello")
	require.NoError(t, err)

	loaded, err := svc.Read(ctx, "idea-one")
	require.NoError(t, err)
	buf := loaded.Record().Buffer().Edit("hello, world", clock.Add(time.Minute))

	require.NoError(t, svc.Save(ctx, buf))

	reloaded, err := svc.Read(ctx, "idea-one")
	require.NoError(t, err)
	rec := reloaded.Record()
	saved := buf
	saved.State = editor.Saved
	_, outcome, err := editor.Reconcile(ctx, saved, &rec, nil)
	require.NoError(t, err)
	assert.Equal(t, editor.OutcomeUnchanged, outcome, "saved buffer and reloaded record must agree")
	assert.Equal(t, "hello, world", reloaded.Body)
	assert.Equal(t, "hello, world", reloaded.Title, "derived title follows the first line")
}

func TestSave_NavigationNeverDropsEdits(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "one", "One", "first")
	require.NoError(t, err)
	_, err = svc.Write(ctx, "two", "Two", "second")
	require.NoError(t, err)

	one, _ := svc.Read(ctx, "one")
	two, _ := svc.Read(ctx, "two")
	buf := one.Record().Buffer().Edit("first, edited", clock.Add(time.Hour))
	next := two.Record()

	got, outcome, err := editor.Reconcile(ctx, buf, &next, svc)
	require.NoError(t, err)
	assert.Equal(t, editor.OutcomeSwitched, outcome)
	assert.Equal(t, models.Identity("two"), got.Identity)

	persisted, err := svc.Read(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "first, edited", persisted.Body)
}

func TestDelete(t *testing.T) {
	svc, _, db, rec := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "gone", "Gone", "bye")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "gone"))
	_, err = db.GetNote(ctx, "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Read(ctx, "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "gone"), apperr.ErrNotFound)
	assert.Equal(t, []string{"created:gone", "deleted:gone"}, rec.events)
}

func TestRename(t *testing.T) {
	svc, _, db, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "draft", "Draft", "body")
	require.NoError(t, err)

	got, err := svc.Rename(ctx, "draft", "final/essay")
	require.NoError(t, err)
	assert.Equal(t, models.Identity("final/essay"), got.Identity)

	_, err = db.GetNote(ctx, "draft")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	row, err := db.GetNote(ctx, "final/essay")
	require.NoError(t, err)
	assert.Equal(t, "Draft", row.Title)

	_, err = svc.Write(ctx, "other", "Other", "x")
	require.NoError(t, err)
	_, err = svc.Rename(ctx, "other", "final/essay")
	assert.Error(t, err, "rename onto an existing note fails")
}

func TestUpgradingGate(t *testing.T) {
	_, store := testutil.TestVault(t)
	db, err := index.Open(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewService(store, db, index.NewSyncer(db, store))
	ctx := context.Background()

	_, err = svc.Search(ctx, "x", 0)
	assert.ErrorIs(t, err, apperr.ErrUpgrading)
	_, err = svc.Write(ctx, "a", "A", "b")
	assert.ErrorIs(t, err, apperr.ErrUpgrading)
	_, err = svc.Sync(ctx)
	assert.ErrorIs(t, err, apperr.ErrUpgrading)

	_, err = svc.Migrate(ctx)
	require.NoError(t, err)
	_, err = svc.Search(ctx, "x", 0)
	assert.NoError(t, err)
}

func TestSearch_DegradesQueryFailures(t *testing.T) {
	svc, _, db, _ := newService(t)
	require.NoError(t, db.Close())

	res, err := svc.Search(context.Background(), "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, res)

	sugg, err := svc.SearchSuggestions(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, sugg)
}

func TestSuggestionsAndRecent(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "garden-plan", "Garden Plan", "tomatoes")
	require.NoError(t, err)

	sugg, err := svc.SearchSuggestions(ctx, "garden")
	require.NoError(t, err)
	require.NotEmpty(t, sugg)
	assert.Equal(t, index.SuggestSearch, sugg[0].Kind)
	assert.Equal(t, index.SuggestCreate, sugg[len(sugg)-1].Kind)

	recent, err := svc.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.Identity("garden-plan"), recent[0].Identity)

	renames, err := svc.RenameSuggestions(ctx, "Garden Notes", "garden-plan")
	require.NoError(t, err)
	require.NotEmpty(t, renames)
	assert.Equal(t, models.Identity("garden-notes"), renames[0].Identity)
}

func TestRebuildRepopulatesFromVault(t *testing.T) {
	svc, store, db, _ := newService(t)
	ctx := context.Background()
	testutil.WriteNote(t, store, "a", "alpha", clock)
	testutil.WriteNote(t, store, "b", "beta", clock)

	res, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, index.LatestVersion(index.Migrations), res.ToVersion)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cs, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, cs.AllSame())
}

func TestAutosave_WritesOnceAndRoundTrips(t *testing.T) {
	svc, _, _, rec := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "journal", "Journal", "day one")
	require.NoError(t, err)

	buf, err := svc.Open(ctx, "journal")
	require.NoError(t, err)
	assert.Equal(t, editor.Saved, buf.State)

	_, wrote, err := svc.Autosave(ctx, buf, editor.TriggerTimer)
	require.NoError(t, err)
	assert.False(t, wrote, "an opened buffer is already persisted")

	edited := buf.Edit("day one, later", clock.Add(time.Minute))
	got, wrote, err := svc.Autosave(ctx, edited, editor.TriggerBlur)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, editor.Saved, got.State)

	_, wrote, err = svc.Autosave(ctx, edited, editor.TriggerBackground)
	require.NoError(t, err)
	assert.False(t, wrote, "same state is not written twice")

	reopened, err := svc.Open(ctx, "journal")
	require.NoError(t, err)
	assert.Equal(t, "day one, later", reopened.Text)
	assert.Equal(t, got.Fingerprint(), reopened.Fingerprint())
	assert.Equal(t, []string{"created:journal", "updated:journal"}, rec.events)
}

func TestNavigate_SavesOutgoingBuffer(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "one", "One", "first")
	require.NoError(t, err)
	_, err = svc.Write(ctx, "two", "Two", "second")
	require.NoError(t, err)

	buf, err := svc.Open(ctx, "one")
	require.NoError(t, err)
	buf = buf.Edit("first, edited", clock.Add(time.Hour))

	got, outcome, err := svc.Navigate(ctx, buf, "two")
	require.NoError(t, err)
	assert.Equal(t, editor.OutcomeSwitched, outcome)
	assert.Equal(t, "second", got.Text)

	persisted, err := svc.Read(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "first, edited", persisted.Body)

	_, _, err = svc.Navigate(ctx, got, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNavigate_SameSecondEditIsSaved(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "one", "One", "teh cat")
	require.NoError(t, err)
	_, err = svc.Write(ctx, "two", "Two", "second")
	require.NoError(t, err)

	buf, err := svc.Open(ctx, "one")
	require.NoError(t, err)
	buf = buf.Edit("the cat", buf.Modified.Add(300*time.Millisecond))

	got, outcome, err := svc.Navigate(ctx, buf, "two")
	require.NoError(t, err)
	assert.Equal(t, editor.OutcomeSwitched, outcome)
	assert.Equal(t, models.Identity("two"), got.Identity)

	persisted, err := svc.Read(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "the cat", persisted.Body, "a same-length edit in the same second is not dropped")
}

func TestAutosave_SameSecondEditIsSaved(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "one", "One", "teh cat")
	require.NoError(t, err)

	buf, err := svc.Open(ctx, "one")
	require.NoError(t, err)
	_, wrote, err := svc.Autosave(ctx, buf.Edit("the cat", buf.Modified.Add(400*time.Millisecond)), editor.TriggerTimer)
	require.NoError(t, err)
	assert.True(t, wrote)

	persisted, err := svc.Read(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "the cat", persisted.Body)
}

func TestNavigate_ReloadAdoptsExternalRewrite(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Write(ctx, "one", "One", "original")
	require.NoError(t, err)

	buf, err := svc.Open(ctx, "one")
	require.NoError(t, err)

	// An external editor keeps the header block but rewrites the body later.
	content := "Modified: " + clock.Format(time.RFC3339) + "\nTitle: One\n\nrewritten elsewhere"
	testutil.WriteNote(t, store, "one", content, clock.Add(time.Hour))

	got, outcome, err := svc.Navigate(ctx, buf, "one")
	require.NoError(t, err)
	assert.Equal(t, editor.OutcomeAdopted, outcome)
	assert.Equal(t, "rewritten elsewhere", got.Text)
}
