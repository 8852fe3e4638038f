// Package index provides the SQLite-backed follower index: versioned schema
// migrations, a single-writer note writer with a full-text mirror, ranked
// queries and suggestions, and the sync applier that keeps it consistent with
// the vault.
package index

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	connMu sync.RWMutex // guards conn replacement during Rebuild
	conn   *sql.DB

	writeMu sync.Mutex // single writer

	migrations []Migration
	stateMu    sync.Mutex
	state      MigrationState
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for index diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithMigrations replaces the compiled-in migration list.
func WithMigrations(m []Migration) Option {
	return func(db *DB) { db.migrations = m }
}

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// Open opens (or creates) the SQLite database. The schema is not touched;
// call Migrate before using content operations.
func Open(path string, opts ...Option) (*DB, error) {
	db := &DB{
		path:       path,
		logger:     slog.Default(),
		now:        time.Now,
		migrations: Migrations,
		state:      StateUnknown,
	}
	for _, opt := range opts {
		opt(db)
	}
	conn, err := openConn(path)
	if err != nil {
		return nil, err
	}
	db.conn = conn
	return db, nil
}

func openConn(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", path+sep+"_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	return conn, nil
}

// db returns the current connection pool.
func (db *DB) db() *sql.DB {
	db.connMu.RLock()
	defer db.connMu.RUnlock()
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	db.connMu.Lock()
	defer db.connMu.Unlock()
	return db.conn.Close()
}
