package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/pkg/models"
)

func TestCreateDelayedCall_AndFindReady(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	we := createTestWorkflowExecution(t, s)

	tx, err := s.BeginImmediate(ctx)
	require.NoError(t, err)

	past := &models.DelayedCall{Kind: models.DelayKindWaitBefore, WorkflowExecID: we.ID, Deadline: time.Now().Add(-time.Minute)}
	require.NoError(t, s.CreateDelayedCall(ctx, tx, past))

	future := &models.DelayedCall{Kind: models.DelayKindTimeout, WorkflowExecID: we.ID, Deadline: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateDelayedCall(ctx, tx, future))
	require.NoError(t, tx.Commit())

	ready, err := s.FindReadyDelayedCalls(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, past.ID, ready[0].ID)
	assert.False(t, ready[0].Fired)
}

func TestMarkDelayedCallFired_ExcludesFromReady(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	we := createTestWorkflowExecution(t, s)

	tx, err := s.BeginImmediate(ctx)
	require.NoError(t, err)

	d := &models.DelayedCall{Kind: models.DelayKindRetry, WorkflowExecID: we.ID, Deadline: time.Now().Add(-time.Second)}
	require.NoError(t, s.CreateDelayedCall(ctx, tx, d))
	require.NoError(t, tx.Commit())

	require.NoError(t, s.MarkDelayedCallFired(ctx, d.ID))

	ready, err := s.FindReadyDelayedCalls(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestFindReadyDelayedCalls_RespectsLimitAndOrder(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	we := createTestWorkflowExecution(t, s)

	tx, err := s.BeginImmediate(ctx)
	require.NoError(t, err)

	older := &models.DelayedCall{Kind: models.DelayKindWaitAfter, WorkflowExecID: we.ID, Deadline: time.Now().Add(-time.Hour)}
	require.NoError(t, s.CreateDelayedCall(ctx, tx, older))
	newer := &models.DelayedCall{Kind: models.DelayKindWaitAfter, WorkflowExecID: we.ID, Deadline: time.Now().Add(-time.Minute)}
	require.NoError(t, s.CreateDelayedCall(ctx, tx, newer))
	require.NoError(t, tx.Commit())

	ready, err := s.FindReadyDelayedCalls(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, older.ID, ready[0].ID)
}
