package index

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Match is one ranked search hit.
type Match struct {
	Identity models.Identity `json:"identity"`
	Title    string          `json:"title"`
	Snippet  string          `json:"snippet"`
	Modified time.Time       `json:"modified"`
}

// SuggestionKind says what confirming a suggestion does.
type SuggestionKind string

const (
	SuggestSearch  SuggestionKind = "search"  // run the verbatim query
	SuggestHistory SuggestionKind = "history" // re-run a past query
	SuggestEntry   SuggestionKind = "entry"   // open an existing note
	SuggestCreate  SuggestionKind = "create"  // create a note from the query
	SuggestRename  SuggestionKind = "rename"  // rename to a fresh identity
)

// Suggestion is one row of the suggestion list.
type Suggestion struct {
	Kind     SuggestionKind  `json:"kind"`
	Query    string          `json:"query,omitempty"`
	Identity models.Identity `json:"identity,omitempty"`
	Title    string          `json:"title,omitempty"`
}

// SuggestOptions bounds each suggestion section.
type SuggestOptions struct {
	RecentLimit  int // entries shown for a blank query
	HistoryLimit int // past queries shown
	EntryLimit   int // title matches shown for a non-blank query
}

func (o SuggestOptions) withDefaults() SuggestOptions {
	if o.RecentLimit <= 0 {
		o.RecentLimit = 5
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 3
	}
	if o.EntryLimit <= 0 {
		o.EntryLimit = 5
	}
	return o
}

// Search returns ranked matches for query and records it in the search
// history. A blank query returns no results and records nothing.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Match{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if err := db.logQuery(ctx, query); err != nil {
		return nil, err
	}

	rows, err := searchMirror(ctx, db.db(), query, limit)
	if err != nil {
		return nil, apperr.Query("search", err)
	}
	out := []Match{}
	if rows == nil {
		return out, nil
	}
	defer rows.Close()
	for rows.Next() {
		var m Match
		var id string
		var mod int64
		if err := rows.Scan(&id, &m.Title, &m.Snippet, &mod); err != nil {
			return nil, apperr.Query("search", err)
		}
		m.Identity = models.Identity(id)
		m.Modified = time.Unix(mod, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Query("search", err)
	}
	return out, nil
}

func (db *DB) logQuery(ctx context.Context, query string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	_, err := db.db().ExecContext(ctx,
		`INSERT INTO search_history (id, query, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), query, db.now().Unix())
	if err != nil {
		return apperr.Query("log query", err)
	}
	return nil
}

// Suggestions builds the suggestion list for query.
//
// Blank query: most frequent past queries, then most recently modified notes.
// Otherwise, in this exact order: the verbatim query, matching past queries,
// notes whose title matches, then a "create" suggestion. Callers confirm the
// first entry, so the order is part of the contract.
func (db *DB) Suggestions(ctx context.Context, query string, opts SuggestOptions) ([]Suggestion, error) {
	opts = opts.withDefaults()
	query = strings.TrimSpace(query)

	if query == "" {
		history, err := db.frequentQueries(ctx, "", opts.HistoryLimit)
		if err != nil {
			return nil, err
		}
		recent, err := db.RecentNotes(ctx, opts.RecentLimit)
		if err != nil {
			return nil, err
		}
		out := make([]Suggestion, 0, len(history)+len(recent))
		for _, q := range history {
			out = append(out, Suggestion{Kind: SuggestHistory, Query: q})
		}
		for _, m := range recent {
			out = append(out, Suggestion{Kind: SuggestEntry, Identity: m.Identity, Title: m.Title})
		}
		return out, nil
	}

	out := []Suggestion{{Kind: SuggestSearch, Query: query}}

	history, err := db.frequentQueries(ctx, query, opts.HistoryLimit+1)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, q := range history {
		if q == query || n == opts.HistoryLimit {
			continue
		}
		out = append(out, Suggestion{Kind: SuggestHistory, Query: q})
		n++
	}

	entries, err := db.titleMatches(ctx, query, "", opts.EntryLimit)
	if err != nil {
		return nil, err
	}
	for _, m := range entries {
		out = append(out, Suggestion{Kind: SuggestEntry, Identity: m.Identity, Title: m.Title})
	}

	out = append(out, Suggestion{Kind: SuggestCreate, Query: query, Identity: Slugify(query), Title: query})
	return out, nil
}

// RenameSuggestions proposes rename targets for the note current: a fresh
// identity derived from query when it is free, then existing notes whose
// title matches, never current itself.
func (db *DB) RenameSuggestions(ctx context.Context, query string, current models.Identity, limit int) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = 5
	}
	var out []Suggestion
	if query != "" {
		slug := Slugify(query)
		if slug != current {
			_, err := db.GetNote(ctx, slug)
			switch {
			case apperr.KindOf(err) == apperr.ErrNotFound:
				out = append(out, Suggestion{Kind: SuggestRename, Query: query, Identity: slug, Title: query})
			case err != nil:
				return nil, err
			}
		}
	}
	entries, err := db.titleMatches(ctx, query, current, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range entries {
		out = append(out, Suggestion{Kind: SuggestEntry, Identity: m.Identity, Title: m.Title})
	}
	if out == nil {
		out = []Suggestion{}
	}
	return out, nil
}

// RecentNotes returns the most recently modified notes.
func (db *DB) RecentNotes(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.db().QueryContext(ctx,
		`SELECT identity, title, substr(body, 1, 200), modified FROM notes ORDER BY modified DESC, identity LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Query("recent notes", err)
	}
	return scanMatches(rows, "recent notes")
}

// titleMatches returns notes whose title or identity contains query,
// excluding exclude. A blank query matches everything.
func (db *DB) titleMatches(ctx context.Context, query string, exclude models.Identity, limit int) ([]Match, error) {
	like := "%" + escapeLike(query) + "%"
	rows, err := db.db().QueryContext(ctx, `
		SELECT identity, title, substr(body, 1, 200), modified
		FROM notes
		WHERE (title LIKE ? ESCAPE '\' OR identity LIKE ? ESCAPE '\')
		  AND identity != ?
		ORDER BY modified DESC, identity
		LIMIT ?
	`, like, like, string(exclude), limit)
	if err != nil {
		return nil, apperr.Query("title matches", err)
	}
	return scanMatches(rows, "title matches")
}

// frequentQueries returns past queries starting with prefix, most frequent
// first, ties broken by recency.
func (db *DB) frequentQueries(ctx context.Context, prefix string, limit int) ([]string, error) {
	rows, err := db.db().QueryContext(ctx, `
		SELECT query
		FROM search_history
		WHERE query LIKE ? ESCAPE '\'
		GROUP BY query
		ORDER BY count(*) DESC, max(created_at) DESC, query
		LIMIT ?
	`, escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, apperr.Query("query history", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, apperr.Query("query history", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Query("query history", err)
	}
	return out, nil
}

func scanMatches(rows *sql.Rows, op string) ([]Match, error) {
	defer rows.Close()
	out := []Match{}
	for rows.Next() {
		var m Match
		var id string
		var mod int64
		if err := rows.Scan(&id, &m.Title, &m.Snippet, &mod); err != nil {
			return nil, apperr.Query(op, err)
		}
		m.Identity = models.Identity(id)
		m.Modified = time.Unix(mod, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Query(op, err)
	}
	return out, nil
}

// searchTerms splits free text into terms stripped of surrounding punctuation.
func searchTerms(query string) []string {
	var out []string
	for _, f := range strings.Fields(query) {
		t := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Slugify derives an identity from free text: lowercase ASCII letters and
// digits separated by single dashes, "/" preserved as a path separator.
func Slugify(input string) models.Identity {
	var segments []string
	for _, part := range strings.Split(strings.ToLower(input), "/") {
		var b strings.Builder
		lastDash := false
		for _, r := range part {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
				lastDash = false
				continue
			}
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
		if seg := strings.Trim(b.String(), "-"); seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return "untitled"
	}
	return models.Identity(strings.Join(segments, "/"))
}
