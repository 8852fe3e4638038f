// Package changeset diffs a leader fingerprint set (the vault) against a
// follower fingerprint set (the index).
package changeset

import (
	"sort"
	"time"

	"github.com/starford/ansuz/internal/fingerprint"
	"github.com/starford/ansuz/internal/models"
)

// Change is the reconciliation decision for one identity.
type Change struct {
	Identity models.Identity    `json:"identity"`
	Left     *models.Fingerprint `json:"left,omitempty"`
	Right    *models.Fingerprint `json:"right,omitempty"`
	Status   fingerprint.Status `json:"status"`
}

// NeedsUpsert reports whether the leader copy must be written into the follower.
func (c Change) NeedsUpsert() bool {
	switch c.Status {
	case fingerprint.LeftOnly, fingerprint.LeftNewer, fingerprint.RightNewer, fingerprint.Conflict:
		return true
	}
	return false
}

// NeedsDelete reports whether the follower row must be removed.
func (c Change) NeedsDelete() bool {
	return c.Status == fingerprint.RightOnly
}

// ChangeSet is the result of one diff pass, sorted by identity.
type ChangeSet struct {
	Changes    []Change  `json:"changes"`
	Generation uint64    `json:"generation,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Diff classifies every identity in the union of leader and follower.
func Diff(leader, follower map[models.Identity]models.Fingerprint) ChangeSet {
	ids := make(map[models.Identity]struct{}, len(leader)+len(follower))
	for id := range leader {
		ids[id] = struct{}{}
	}
	for id := range follower {
		ids[id] = struct{}{}
	}

	changes := make([]Change, 0, len(ids))
	for id := range ids {
		c := Change{Identity: id}
		if l, ok := leader[id]; ok {
			c.Left = &l
		}
		if r, ok := follower[id]; ok {
			c.Right = &r
		}
		c.Status = fingerprint.Classify(c.Left, c.Right)
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Identity < changes[j].Identity })

	return ChangeSet{Changes: changes}
}

// Pending returns every change that is not Same.
func (cs ChangeSet) Pending() []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.Status != fingerprint.Same {
			out = append(out, c)
		}
	}
	return out
}

// Upserts returns the changes resolved by re-reading the leader.
func (cs ChangeSet) Upserts() []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.NeedsUpsert() {
			out = append(out, c)
		}
	}
	return out
}

// Deletes returns the changes resolved by deleting from the follower.
func (cs ChangeSet) Deletes() []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.NeedsDelete() {
			out = append(out, c)
		}
	}
	return out
}

// Counts tallies changes per status.
func (cs ChangeSet) Counts() map[fingerprint.Status]int {
	out := make(map[fingerprint.Status]int)
	for _, c := range cs.Changes {
		out[c.Status]++
	}
	return out
}

// AllSame reports whether the pass found nothing to do.
func (cs ChangeSet) AllSame() bool {
	for _, c := range cs.Changes {
		if c.Status != fingerprint.Same {
			return false
		}
	}
	return true
}

// Status returns the status recorded for id, and whether id is in the set.
func (cs ChangeSet) Status(id models.Identity) (fingerprint.Status, bool) {
	i := sort.Search(len(cs.Changes), func(i int) bool { return cs.Changes[i].Identity >= id })
	if i < len(cs.Changes) && cs.Changes[i].Identity == id {
		return cs.Changes[i].Status, true
	}
	return fingerprint.Invalid, false
}

// Without returns a copy of cs with the given identities dropped.
func (cs ChangeSet) Without(skip map[models.Identity]struct{}) ChangeSet {
	if len(skip) == 0 {
		return cs
	}
	out := cs
	out.Changes = make([]Change, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		if _, ok := skip[c.Identity]; !ok {
			out.Changes = append(out.Changes, c)
		}
	}
	return out
}
