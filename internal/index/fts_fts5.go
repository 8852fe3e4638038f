//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"strings"
)

const mirrorSchemaSQL = `
CREATE VIRTUAL TABLE note_search USING fts5(
	identity UNINDEXED,
	title,
	body,
	tokenize = 'unicode61 remove_diacritics 2'
);
` + mirrorTriggersSQL

// matchExpr turns free text into an FTS5 expression of quoted prefix terms,
// so user punctuation never reaches the FTS5 query parser.
func matchExpr(query string) string {
	terms := searchTerms(query)
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		parts = append(parts, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " ")
}

// searchMirror runs an FTS5 MATCH, best rank first, title hits weighted up.
func searchMirror(ctx context.Context, conn *sql.DB, query string, limit int) (*sql.Rows, error) {
	expr := matchExpr(query)
	if expr == "" {
		return nil, nil
	}
	return conn.QueryContext(ctx, `
		SELECT n.identity,
		       n.title,
		       snippet(note_search, 2, '<b>', '</b>', '...', 24),
		       n.modified
		FROM note_search
		JOIN notes n ON n.identity = note_search.identity
		WHERE note_search MATCH ?
		ORDER BY bm25(note_search, 0.0, 5.0, 1.0), n.modified DESC
		LIMIT ?
	`, expr, limit)
}
