//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"strings"
)

// Without FTS5 the mirror is a plain table searched with LIKE.
const mirrorSchemaSQL = `
CREATE TABLE note_search (
	identity TEXT PRIMARY KEY,
	title    TEXT NOT NULL DEFAULT '',
	body     TEXT NOT NULL DEFAULT ''
);
` + mirrorTriggersSQL

// searchMirror requires every term to appear in the title or body. Title
// hits rank before body-only hits, then most recently modified first.
func searchMirror(ctx context.Context, conn *sql.DB, query string, limit int) (*sql.Rows, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	var where, titleHit []string
	var args, rankArgs []any
	for _, t := range terms {
		like := "%" + escapeLike(t) + "%"
		where = append(where, `(s.title LIKE ? ESCAPE '\' OR s.body LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
		titleHit = append(titleHit, `s.title LIKE ? ESCAPE '\'`)
		rankArgs = append(rankArgs, like)
	}
	q := `
		SELECT s.identity, s.title, substr(s.body, 1, 200), n.modified
		FROM note_search s
		JOIN notes n ON n.identity = s.identity
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY CASE WHEN ` + strings.Join(titleHit, " AND ") + ` THEN 0 ELSE 1 END, n.modified DESC
		LIMIT ?`
	all := append(append(args, rankArgs...), limit)
	return conn.QueryContext(ctx, q, all...)
}
