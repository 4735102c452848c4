// Package sqlite stores the run history in an embedded SQLite database.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the runner builds without CGo and
// cross-compiles like any other Go binary. The database is one file next to the
// artifact directory; nothing else has to be deployed.
//
// sql.DB is a connection POOL, not a connection. Rows must be closed, and every
// query takes the caller's context so a canceled request stops its query.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.RunRepository.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/runner.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (great for tests, lost on close)
//
// The parent directory of a file-based database is created if missing.
func New(dbPath string) (*DB, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating database dir: %w", err)
		}
	}

	// "sqlite" is the driver name registered by the blank import above.
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// IN-MEMORY GOTCHA:
	// Every connection to ":memory:" gets its OWN empty database. With a pool of
	// several connections, a table created on one is invisible on another.
	// Pinning the pool to a single connection keeps one shared database.
	if dbPath == memoryPath {
		conn.SetMaxOpenConns(1)
	}

	// Ping verifies the connection actually works, so a bad path surfaces here
	// and not on the first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode allows concurrent reads WHILE a write is happening. Every
	// finished job writes a row, and /runs reads them, so this matters.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Concurrent jobs finishing at once would otherwise get SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

const memoryPath = ":memory:"

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to repeat. Columns added later go through
// addColumnIfNotExists so that old database files keep working.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			job_id       TEXT NOT NULL,
			language     TEXT NOT NULL,
			status       TEXT NOT NULL,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			output_bytes INTEGER NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
		CREATE INDEX IF NOT EXISTS idx_runs_language ON runs(language);
	`)
	if err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}

	if err := db.addColumnIfNotExists("runs", "stage", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding stage to runs: %w", err)
	}
	if err := db.addColumnIfNotExists("runs", "code_bytes", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding code_bytes to runs: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
