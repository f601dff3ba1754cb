package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the execution store described in SPEC_FULL §4.2. It wraps a *DB
// together with the keyed locks the dispatcher uses to emulate per-execution
// row locking on SQLite.
type Store struct {
	db    *DB
	Locks *ExecutionLocks
}

// New wraps an already-opened and migrated DB.
func New(db *DB) *Store {
	return &Store{db: db, Locks: NewExecutionLocks()}
}

// Tx is a begun transaction. Every Store method that mutates state takes one
// so the dispatcher can group a task/workflow FSM transition into a single
// commit (SPEC_FULL §4.6).
type Tx struct {
	tx *sql.Tx
}

// BeginImmediate starts a transaction with a 30-second busy timeout. It
// opens an ordinary deferred transaction, not BEGIN IMMEDIATE, so SQLite's
// write lock is taken on the transaction's first write rather than up front.
// Combined with an ExecutionLocks hold, this is how the dispatcher emulates
// "SELECT ... FOR UPDATE" against a database with no real row locks.
func (s *Store) BeginImmediate(ctx context.Context) (*Tx, error) {
	tx, err := s.db.Conn().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA busy_timeout = 30000"); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNull(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func rawJSON(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func bytesFromNull(n sql.NullString) []byte {
	if !n.Valid {
		return nil
	}
	return []byte(n.String)
}
