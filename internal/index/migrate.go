package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/metrics"
)

// MigrationState tracks the migration runner lifecycle:
// unknown → migrating → ready | broken.
type MigrationState int

const (
	StateUnknown MigrationState = iota
	StateMigrating
	StateReady
	StateBroken
)

func (s MigrationState) String() string {
	switch s {
	case StateMigrating:
		return "migrating"
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// MigrationResult reports what a Migrate or Rebuild call did.
type MigrationResult struct {
	FromVersion int   `json:"from_version"`
	ToVersion   int   `json:"to_version"`
	Applied     []int `json:"applied"`
}

// State returns the current migration state.
func (db *DB) State() MigrationState {
	db.stateMu.Lock()
	defer db.stateMu.Unlock()
	return db.state
}

func (db *DB) setState(s MigrationState) {
	db.stateMu.Lock()
	db.state = s
	db.stateMu.Unlock()
	metrics.IndexReady.Set(boolGauge(s == StateReady))
}

// Version reads the persisted schema version.
func (db *DB) Version(ctx context.Context) (int, error) {
	var v int
	if err := db.db().QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, apperr.Schema("read user_version", err)
	}
	return v, nil
}

// Migrate applies every migration newer than the persisted version, each in
// its own transaction. Any failure leaves the runner broken; the only way
// out is Rebuild.
func (db *DB) Migrate(ctx context.Context) (MigrationResult, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.migrateLocked(ctx)
}

func (db *DB) migrateLocked(ctx context.Context) (MigrationResult, error) {
	if db.State() == StateBroken {
		return MigrationResult{}, apperr.Schema("migrate", errors.New("index is broken; rebuild required"))
	}
	db.setState(StateMigrating)

	res, err := db.applyMigrations(ctx)
	if err != nil {
		db.setState(StateBroken)
		metrics.MigrationFailures.Inc()
		db.logger.Error("index: migration failed",
			slog.Int("from_version", res.FromVersion),
			slog.Int("at_version", res.ToVersion),
			slog.String("error", err.Error()))
		return res, err
	}
	db.setState(StateReady)
	if len(res.Applied) > 0 {
		db.logger.Info("index: migrated",
			slog.Int("from_version", res.FromVersion),
			slog.Int("to_version", res.ToVersion),
			slog.Any("applied", res.Applied))
	}
	return res, nil
}

func (db *DB) applyMigrations(ctx context.Context) (MigrationResult, error) {
	if err := validateMigrations(db.migrations); err != nil {
		return MigrationResult{}, err
	}
	current, err := db.Version(ctx)
	if err != nil {
		return MigrationResult{}, err
	}
	res := MigrationResult{FromVersion: current, ToVersion: current, Applied: []int{}}

	latest := LatestVersion(db.migrations)
	if current > latest {
		return res, apperr.Schema("migrate", fmt.Errorf("store version %d is ahead of latest known version %d", current, latest))
	}

	for _, m := range db.migrations {
		if m.Version <= current {
			continue
		}
		if m.Version != current+1 {
			return res, apperr.Schema("migrate", fmt.Errorf("migration %d requires store at version %d, found %d", m.Version, m.Version-1, current))
		}
		if err := db.applyOne(ctx, m); err != nil {
			return res, err
		}
		current = m.Version
		res.ToVersion = current
		res.Applied = append(res.Applied, m.Version)
	}
	return res, nil
}

func (db *DB) applyOne(ctx context.Context, m Migration) error {
	tx, err := db.db().BeginTx(ctx, nil)
	if err != nil {
		return apperr.Schema(fmt.Sprintf("migration %d: begin", m.Version), err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.Script); err != nil {
		return apperr.Schema(fmt.Sprintf("migration %d", m.Version), err)
	}
	// user_version is transactional in SQLite.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return apperr.Schema(fmt.Sprintf("migration %d: set version", m.Version), err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Schema(fmt.Sprintf("migration %d: commit", m.Version), err)
	}
	return nil
}

func validateMigrations(ms []Migration) error {
	for i, m := range ms {
		if m.Version != i+1 {
			return apperr.Schema("validate migrations", fmt.Errorf("migration at position %d has version %d, want %d", i, m.Version, i+1))
		}
	}
	return nil
}

// Rebuild deletes the database file and re-runs every migration from
// version zero. Existing index data is discarded; run a sync afterwards to
// repopulate it from the vault.
func (db *DB) Rebuild(ctx context.Context) (MigrationResult, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.logger.Warn("index: rebuilding", slog.String("path", db.path))

	db.connMu.Lock()
	if err := db.conn.Close(); err != nil {
		db.logger.Warn("index: close before rebuild failed", slog.String("error", err.Error()))
	}
	if err := removeDBFiles(db.path); err != nil {
		db.connMu.Unlock()
		db.setState(StateBroken)
		return MigrationResult{}, apperr.IO("rebuild", db.path, err)
	}
	conn, err := openConn(db.path)
	if err != nil {
		db.connMu.Unlock()
		db.setState(StateBroken)
		return MigrationResult{}, apperr.IO("rebuild", db.path, err)
	}
	db.conn = conn
	db.connMu.Unlock()

	metrics.Rebuilds.Inc()
	db.setState(StateUnknown)
	return db.migrateLocked(ctx)
}

func removeDBFiles(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
