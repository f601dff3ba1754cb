package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupStore opens a fresh migrated SQLite database in a temp directory and
// returns a ready-to-use Store, mirroring the teacher's db.New+Migrate test
// setup pattern.
func setupStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return New(db)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())
}

func TestMigrate_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestBeginImmediate_CommitAndRollback(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tx, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = s.BeginImmediate(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}
