//go:build sqlite_fts5

package index

import (
	"context"
	"strings"
	"testing"
)

func TestFTS5_MirrorIsVirtualTable(t *testing.T) {
	db := testDB(t)
	var sql string
	if err := db.db().QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'note_search'`).Scan(&sql); err != nil {
		t.Fatalf("note_search missing: %v", err)
	}
	if want := "VIRTUAL TABLE"; !strings.Contains(sql, want) {
		t.Errorf("note_search is not an fts5 table: %s", sql)
	}
}

func TestFTS5_SnippetAndPrefix(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	writeRow(t, db, "fts", "FTS Note", "Ansuz provides powerful full-text search capabilities.", 10)

	results, err := db.Search(ctx, "power", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_PunctuationDoesNotBreakQuery(t *testing.T) {
	db := testDB(t)
	writeRow(t, db, "p", "Quotes", `she said "hello" (loudly) AND left`, 10)
	if _, err := db.Search(context.Background(), `"hello" (AND OR NEAR`, 10); err != nil {
		t.Fatalf("Search with FTS5 syntax characters: %v", err)
	}
}

func TestMatchExpr(t *testing.T) {
	if got := matchExpr(`foo "bar`); got != `"foo"* "bar"*` {
		t.Errorf("matchExpr = %s", got)
	}
}
