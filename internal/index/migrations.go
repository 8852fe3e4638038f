package index

// Migration is one versioned schema script. Versions start at 1 and increase
// by exactly one.
type Migration struct {
	Version int
	Script  string
}

// Migrations is the compiled-in schema history. Never edit an entry that has
// shipped; append a new one instead.
var Migrations = []Migration{
	{
		Version: 1,
		Script: `
CREATE TABLE notes (
	identity   TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	modified   INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX idx_notes_modified ON notes(modified DESC);
`,
	},
	{
		Version: 2,
		Script:  mirrorSchemaSQL,
	},
	{
		Version: 3,
		Script: `
CREATE TABLE search_history (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX idx_search_history_query ON search_history(query);
`,
	},
}

// mirrorTriggersSQL keeps note_search in step with notes. Nothing else
// writes the mirror.
const mirrorTriggersSQL = `
CREATE TRIGGER notes_mirror_insert AFTER INSERT ON notes BEGIN
	INSERT INTO note_search (identity, title, body) VALUES (new.identity, new.title, new.body);
END;

CREATE TRIGGER notes_mirror_update AFTER UPDATE OF identity, title, body ON notes BEGIN
	DELETE FROM note_search WHERE identity = old.identity;
	INSERT INTO note_search (identity, title, body) VALUES (new.identity, new.title, new.body);
END;

CREATE TRIGGER notes_mirror_delete AFTER DELETE ON notes BEGIN
	DELETE FROM note_search WHERE identity = old.identity;
END;
`

// LatestVersion returns the highest version in ms, or 0 when empty.
func LatestVersion(ms []Migration) int {
	if len(ms) == 0 {
		return 0
	}
	return ms[len(ms)-1].Version
}
