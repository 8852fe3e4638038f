package index

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/changeset"
	"github.com/starford/ansuz/internal/fingerprint"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

func testVault(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir(), "")
	require.NoError(t, err)
	return fs
}

func putNote(t *testing.T, fs *storage.FS, id models.Identity, content string, modified time.Time) models.Fingerprint {
	t.Helper()
	fp, err := fs.Write(context.Background(), id, []byte(content), modified)
	require.NoError(t, err)
	return fp
}

// failingStore fails reads for one identity.
type failingStore struct {
	storage.Provider
	fail models.Identity
}

func (f failingStore) Read(ctx context.Context, id models.Identity) ([]byte, models.Fingerprint, error) {
	if id == f.fail {
		return nil, models.Fingerprint{}, errors.New("disk on fire")
	}
	return f.Provider.Read(ctx, id)
}

func TestSync_ConcreteScenario(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	ctx := context.Background()

	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	putNote(t, vault, "idea-one", "Title: Idea One\n\nfirst idea\n", mod)
	writeRow(t, db, "old-note", "Old", "gone from disk", 10)

	cs, err := NewSyncer(db, vault).Sync(ctx)
	require.NoError(t, err)

	st, ok := cs.Status("idea-one")
	require.True(t, ok)
	assert.Equal(t, fingerprint.LeftOnly, st)
	st, ok = cs.Status("old-note")
	require.True(t, ok)
	assert.Equal(t, fingerprint.RightOnly, st)

	got, err := db.GetNote(ctx, "idea-one")
	require.NoError(t, err)
	assert.Equal(t, "Idea One", got.Title)
	assert.Equal(t, "first idea\n", got.Body)
	assert.Equal(t, mod.Unix(), got.Modified)

	_, err = db.GetNote(ctx, "old-note")
	assert.Error(t, err)
}

func TestSync_Idempotent(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	ctx := context.Background()
	putNote(t, vault, "a", "alpha", time.Unix(1000, 0))
	putNote(t, vault, "dir/b", "beta", time.Unix(2000, 0))

	s := NewSyncer(db, vault)
	first, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, first.Pending(), 2)

	second, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, second.AllSame(), "second pass must be a no-op: %+v", second.Pending())
	assert.Greater(t, second.Generation, first.Generation)
}

func TestSync_LeaderWinsEitherDirection(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	ctx := context.Background()
	s := NewSyncer(db, vault)

	putNote(t, vault, "n", "version one", time.Unix(1000, 0))
	_, err := s.Sync(ctx)
	require.NoError(t, err)

	// Leader newer.
	putNote(t, vault, "n", "version two", time.Unix(2000, 0))
	cs, err := s.Sync(ctx)
	require.NoError(t, err)
	st, _ := cs.Status("n")
	assert.Equal(t, fingerprint.LeftNewer, st)
	got, _ := db.GetNote(ctx, "n")
	assert.Equal(t, "version two", got.Body)

	// Follower newer still takes the leader copy.
	putNote(t, vault, "n", "version three", time.Unix(500, 0))
	cs, err = s.Sync(ctx)
	require.NoError(t, err)
	st, _ = cs.Status("n")
	assert.Equal(t, fingerprint.RightNewer, st)
	got, _ = db.GetNote(ctx, "n")
	assert.Equal(t, "version three", got.Body)
	assert.Equal(t, int64(500), got.Modified)

	// Same mtime, different size.
	putNote(t, vault, "n", "version three, longer", time.Unix(500, 0))
	cs, err = s.Sync(ctx)
	require.NoError(t, err)
	st, _ = cs.Status("n")
	assert.Equal(t, fingerprint.Conflict, st)
	got, _ = db.GetNote(ctx, "n")
	assert.Equal(t, "version three, longer", got.Body)
}

func TestSync_ItemFailureIsSkipped(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	ctx := context.Background()
	putNote(t, vault, "good", "fine", time.Unix(1000, 0))
	putNote(t, vault, "bad", "unreadable", time.Unix(1000, 0))

	cs, err := NewSyncer(db, failingStore{Provider: vault, fail: "bad"}).Sync(ctx)
	require.NoError(t, err, "a per-item failure must not fail the pass")

	_, ok := cs.Status("bad")
	assert.False(t, ok, "failed item excluded from the returned change set")
	_, ok = cs.Status("good")
	assert.True(t, ok)

	_, err = db.GetNote(ctx, "good")
	assert.NoError(t, err)
	_, err = db.GetNote(ctx, "bad")
	assert.Error(t, err)

	// A later healthy pass picks the item up.
	cs, err = NewSyncer(db, vault).Sync(ctx)
	require.NoError(t, err)
	st, _ := cs.Status("bad")
	assert.Equal(t, fingerprint.LeftOnly, st)
}

func TestSyncIdentities_Scoped(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	ctx := context.Background()
	s := NewSyncer(db, vault)

	putNote(t, vault, "a", "alpha", time.Unix(1000, 0))
	putNote(t, vault, "b", "beta", time.Unix(1000, 0))
	_, err := s.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(vault.Root(), "a.md")))
	require.NoError(t, os.Remove(filepath.Join(vault.Root(), "b.md")))

	cs, err := s.SyncIdentities(ctx, []models.Identity{"a"})
	require.NoError(t, err)
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, fingerprint.RightOnly, cs.Changes[0].Status)

	_, err = db.GetNote(ctx, "a")
	assert.Error(t, err)
	_, err = db.GetNote(ctx, "b")
	assert.NoError(t, err, "identities outside the scope are untouched")

	empty, err := s.SyncIdentities(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Changes)
}

func TestSync_PassesDoNotOverlap(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	putNote(t, vault, "a", "alpha", time.Unix(1000, 0))

	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	s := NewSyncer(db, vault, WithObserver(func(changeset.ChangeSet) {
		if first {
			first = false
			close(entered)
			<-release
		}
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background())
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Sync(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "second pass must wait for the first")

	close(release)
	require.NoError(t, <-done)

	_, err = s.Sync(context.Background())
	assert.NoError(t, err)
}

func TestSync_ObserverReceivesAppliedChanges(t *testing.T) {
	db := testDB(t)
	vault := testVault(t)
	putNote(t, vault, "a", "alpha", time.Unix(1000, 0))

	var seen []changeset.ChangeSet
	s := NewSyncer(db, vault, WithObserver(func(cs changeset.ChangeSet) { seen = append(seen, cs) }))
	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, uint64(1), seen[0].Generation)
	assert.Equal(t, s.Generation(), seen[0].Generation)
	assert.Len(t, seen[0].Upserts(), 1)
}

func TestSync_ConvergesOnRandomCorpus(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		db := testDB(t)
		vault := testVault(t)
		ctx := context.Background()

		for i := 0; i < 30; i++ {
			id := models.Identity(fmt.Sprintf("n%02d", rng.Intn(40)))
			switch rng.Intn(3) {
			case 0:
				putNote(t, vault, id, fmt.Sprintf("body %d", rng.Intn(1000)), time.Unix(int64(1000+rng.Intn(50)), 0))
			case 1:
				writeRow(t, db, id, "stale", fmt.Sprintf("old %d", rng.Intn(1000)), int64(1000+rng.Intn(50)))
			default:
				putNote(t, vault, id, "both", time.Unix(1000, 0))
				writeRow(t, db, id, "both", "both", 1000)
			}
		}

		_, err := NewSyncer(db, vault).Sync(ctx)
		require.NoError(t, err)

		leader, err := vault.Fingerprints(ctx)
		require.NoError(t, err)
		follower, err := db.Fingerprints(ctx)
		require.NoError(t, err)
		assert.Equal(t, leader, follower, "round %d: follower must equal leader after one pass", round)
		assert.True(t, changeset.Diff(leader, follower).AllSame())
	}
}
