// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary as a single file.
// No separate database server to install or manage, and ":memory:" gives every
// test its own throwaway database.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which needs a C compiler and makes cross-compilation
// painful. modernc.org/sqlite is a pure Go translation of SQLite.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB      — a connection pool (NOT a single connection!)
//   - sql.Row     — a single result row
//   - rows.Scan   — reads columns into Go variables
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements both
// repository.UserRepository and repository.StatsRepository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/devstats.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would otherwise get its OWN empty
	// database. One connection keeps tests (and tiny deployments) coherent.
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode lets readers proceed while a sync is writing its results.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite; github_stats references users.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS makes it idempotent.
func (db *DB) migrate() error {
	// encrypted_token is NULL whenever github_connected is 0.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id               TEXT PRIMARY KEY,
			github_id        INTEGER NOT NULL DEFAULT 0,
			github_login     TEXT NOT NULL DEFAULT '',
			github_connected INTEGER NOT NULL DEFAULT 0,
			avatar_url       TEXT NOT NULL DEFAULT '',
			profile_url      TEXT NOT NULL DEFAULT '',
			encrypted_token  TEXT,
			last_synced_at   DATETIME,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_github_id ON users(github_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// top_languages is a JSON object keyed by language name,
	// top_repos a JSON array of at most 6 entries.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS github_stats (
			user_id            TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			total_public_repos INTEGER NOT NULL DEFAULT 0,
			total_stars        INTEGER NOT NULL DEFAULT 0,
			total_forks        INTEGER NOT NULL DEFAULT 0,
			followers          INTEGER NOT NULL DEFAULT 0,
			following          INTEGER NOT NULL DEFAULT 0,
			top_languages      TEXT NOT NULL DEFAULT '{}',
			top_repos          TEXT NOT NULL DEFAULT '[]',
			last_calculated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating github_stats table: %w", err)
	}

	return nil
}
