package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/store"
	"orchestra/pkg/models"
)

func setupCmdStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return store.New(db)
}

func TestPrintExecution_ReportsStateAndTasks(t *testing.T) {
	st := setupCmdStore(t)
	ctx := context.Background()

	we := &models.WorkflowExecution{SpecName: "demo", SpecNamespace: "default", SpecVersion: 1, State: models.StateRunning}
	require.NoError(t, st.CreateWorkflowExecution(ctx, we))

	tx, err := st.BeginImmediate(ctx)
	require.NoError(t, err)
	task := &models.TaskExecution{WorkflowExecID: we.ID, TaskName: "fetch", Spec: []byte(`{}`), State: models.StateSuccess}
	require.NoError(t, st.CreateTaskExecution(ctx, tx, task))
	require.NoError(t, tx.Commit())

	out := captureStdout(t, func() {
		require.NoError(t, printExecution(ctx, st, we.ID))
	})

	assert.Contains(t, out, we.ID)
	assert.Contains(t, out, string(models.StateRunning))
	assert.Contains(t, out, "fetch")
	assert.Contains(t, out, string(models.StateSuccess))
}

func TestPrintExecution_IncludesErrorReason(t *testing.T) {
	st := setupCmdStore(t)
	ctx := context.Background()

	reason := "boom"
	we := &models.WorkflowExecution{
		SpecName: "demo", SpecNamespace: "default", SpecVersion: 1,
		State: models.StateError, ErrorReason: &reason,
	}
	require.NoError(t, st.CreateWorkflowExecution(ctx, we))

	out := captureStdout(t, func() {
		require.NoError(t, printExecution(ctx, st, we.ID))
	})

	assert.Contains(t, out, "error: boom")
}

func TestPrintExecution_NotFoundPropagatesError(t *testing.T) {
	st := setupCmdStore(t)
	err := printExecution(context.Background(), st, "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCodeFor(err))
}
