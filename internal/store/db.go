// Package store implements the execution store (SPEC_FULL §4.2): the
// workflow/task/action execution tables and the delayed-call queue, backed
// by SQLite or Turso/libsql.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a *sql.DB opened against either a local SQLite file or a
// Turso/libsql remote database, detected from the URL scheme.
type DB struct {
	conn *sql.DB
}

// Open opens databaseURL, which may be a local file path, "libsql://...",
// or "https://...". Local SQLite connections are tuned for single-writer
// concurrent access (WAL mode, busy timeout).
func Open(databaseURL string) (*DB, error) {
	isLibSQL := strings.HasPrefix(databaseURL, "libsql://") ||
		strings.HasPrefix(databaseURL, "http://") ||
		strings.HasPrefix(databaseURL, "https://")

	if isLibSQL {
		conn, err := sql.Open("libsql", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open libsql database: %w", err)
		}
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)
		if err := conn.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to libsql database: %w", err)
		}
		return &DB{conn: conn}, nil
	}

	if dbDir := filepath.Dir(databaseURL); dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	var conn *sql.DB
	var err error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if err = conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
			}
			conn.Close()
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		break
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{conn: conn}, nil
}

// Conn returns the underlying *sql.DB for repositories and transactions.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close releases the database, waiting for in-flight connections to drain.
func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)
	return db.conn.Close()
}

// Migrate applies every embedded goose migration that has not yet run.
func (db *DB) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
