package delay

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/dispatch"
	"orchestra/internal/store"
	"orchestra/pkg/models"
)

type fakeEngine struct {
	mu        sync.Mutex
	published []dispatch.Event
}

func (f *fakeEngine) Publish(ctx context.Context, namespace string, event dispatch.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return nil
}

func (f *fakeEngine) SubscribeDurable(namespace, consumer string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return nil, nil
}

func (f *fakeEngine) Close() {}

func (f *fakeEngine) events() []dispatch.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispatch.Event, len(f.published))
	copy(out, f.published)
	return out
}

func setupDelayStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return store.New(db)
}

func TestPollOnce_PublishesTimerFiredForDueCalls(t *testing.T) {
	st := setupDelayStore(t)
	ctx := context.Background()

	we := &models.WorkflowExecution{SpecName: "demo", SpecNamespace: "default", SpecVersion: 1, State: models.StateRunning}
	require.NoError(t, st.CreateWorkflowExecution(ctx, we))

	tx, err := st.BeginImmediate(ctx)
	require.NoError(t, err)
	task := &models.TaskExecution{WorkflowExecID: we.ID, TaskName: "fetch", Spec: []byte(`{}`), State: models.StateDelayed}
	require.NoError(t, st.CreateTaskExecution(ctx, tx, task))
	require.NoError(t, tx.Commit())

	tx2, err := st.BeginImmediate(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CreateDelayedCall(ctx, tx2, &models.DelayedCall{
		Kind: models.DelayKindWaitBefore, WorkflowExecID: we.ID, TaskExecID: &task.ID,
		Deadline: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, tx2.Commit())

	engine := &fakeEngine{}
	w := New(st, engine, "default")

	require.NoError(t, w.pollOnce(ctx))

	events := engine.events()
	require.Len(t, events, 1)
	assert.Equal(t, dispatch.EventTimerFired, events[0].Kind)
	assert.Equal(t, task.ID, events[0].TaskExecutionID)
	assert.Equal(t, string(models.DelayKindWaitBefore), events[0].TimerKind)

	ready, err := st.FindReadyDelayedCalls(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ready, "fired calls must not be redelivered")
}

func TestPollOnce_SkipsCallsNotYetDue(t *testing.T) {
	st := setupDelayStore(t)
	ctx := context.Background()

	we := &models.WorkflowExecution{SpecName: "demo", SpecNamespace: "default", SpecVersion: 1, State: models.StateRunning}
	require.NoError(t, st.CreateWorkflowExecution(ctx, we))

	tx, err := st.BeginImmediate(ctx)
	require.NoError(t, err)
	task := &models.TaskExecution{WorkflowExecID: we.ID, TaskName: "fetch", Spec: []byte(`{}`), State: models.StateDelayed}
	require.NoError(t, st.CreateTaskExecution(ctx, tx, task))
	require.NoError(t, st.CreateDelayedCall(ctx, tx, &models.DelayedCall{
		Kind: models.DelayKindTimeout, WorkflowExecID: we.ID, TaskExecID: &task.ID,
		Deadline: time.Now().Add(time.Hour),
	}))
	require.NoError(t, tx.Commit())

	engine := &fakeEngine{}
	w := New(st, engine, "default")
	require.NoError(t, w.pollOnce(ctx))

	assert.Empty(t, engine.events())
}

func TestPollOnce_TasklessCallIsMarkedFiredWithoutPublishing(t *testing.T) {
	st := setupDelayStore(t)
	ctx := context.Background()

	we := &models.WorkflowExecution{SpecName: "demo", SpecNamespace: "default", SpecVersion: 1, State: models.StateRunning}
	require.NoError(t, st.CreateWorkflowExecution(ctx, we))

	tx, err := st.BeginImmediate(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CreateDelayedCall(ctx, tx, &models.DelayedCall{
		Kind: models.DelayKindWaitBefore, WorkflowExecID: we.ID, Deadline: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, tx.Commit())

	engine := &fakeEngine{}
	w := New(st, engine, "default")
	require.NoError(t, w.pollOnce(ctx))

	assert.Empty(t, engine.events())

	ready, err := st.FindReadyDelayedCalls(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestPollOnce_NilTransportStillMarksFired(t *testing.T) {
	st := setupDelayStore(t)
	ctx := context.Background()

	we := &models.WorkflowExecution{SpecName: "demo", SpecNamespace: "default", SpecVersion: 1, State: models.StateRunning}
	require.NoError(t, st.CreateWorkflowExecution(ctx, we))

	tx, err := st.BeginImmediate(ctx)
	require.NoError(t, err)
	task := &models.TaskExecution{WorkflowExecID: we.ID, TaskName: "fetch", Spec: []byte(`{}`), State: models.StateDelayed}
	require.NoError(t, st.CreateTaskExecution(ctx, tx, task))
	require.NoError(t, st.CreateDelayedCall(ctx, tx, &models.DelayedCall{
		Kind: models.DelayKindRetry, WorkflowExecID: we.ID, TaskExecID: &task.ID, Deadline: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, tx.Commit())

	w := New(st, nil, "default")
	require.NoError(t, w.pollOnce(ctx))

	ready, err := st.FindReadyDelayedCalls(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ready)
}
