// Package dispatch implements the event-driven scheduler described in
// SPEC_FULL §4.6: begin transaction, get-for-update, apply the task state
// machine, evaluate successors, apply the workflow state machine, commit.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"orchestra/internal/actionrunner"
	"orchestra/internal/dataflow"
	"orchestra/internal/engine"
	"orchestra/internal/logging"
	"orchestra/internal/store"
	"orchestra/internal/telemetry"
	"orchestra/internal/workflows"
	"orchestra/pkg/models"
)

// logTaskTransition and logWorkflowTransition emit the structured transition
// lines SPEC_FULL §7.1 asks for: key=value fields so a transition is easy to
// grep or pipe into a log processor.
func logTaskTransition(eventID, executionID, taskID string, from, to models.State) {
	logging.Info("task transition event_id=%s execution_id=%s task_id=%s from_state=%s to_state=%s", eventID, executionID, taskID, from, to)
}

func logWorkflowTransition(eventID, executionID string, from, to models.State) {
	logging.Info("workflow transition event_id=%s execution_id=%s from_state=%s to_state=%s", eventID, executionID, from, to)
}

// Dispatcher pulls events off the transport and applies them to the
// execution store under the task/workflow state machines, grounded on the
// teacher's WorkflowConsumer.
type Dispatcher struct {
	store       *store.Store
	transport   Engine
	taskFSM     *engine.TaskFSM
	workflowFSM *engine.WorkflowFSM
	runners     *actionrunner.Registry
	namespace   string
	workers     int
	telem       *telemetry.Telemetry

	stopCh chan struct{}
}

// WithTelemetry attaches t so HandleEvent opens/closes spans and records
// metrics per workflow execution and per task execution (SPEC_FULL §7.1). A
// nil t (the default) leaves the dispatcher's telemetry calls as no-ops.
func (d *Dispatcher) WithTelemetry(t *telemetry.Telemetry) *Dispatcher {
	d.telem = t
	return d
}

// New returns a Dispatcher over st, publishing/consuming through transport.
// transport may be nil: Start then consumes nothing, and the events a handler
// produces are applied in-process (the CLI's one-shot commands and the tests
// run this way).
func New(st *store.Store, transport Engine, runners *actionrunner.Registry, namespace string, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 10
	}
	return &Dispatcher{
		store:       st,
		transport:   transport,
		taskFSM:     engine.NewTaskFSM(),
		workflowFSM: engine.NewWorkflowFSM(),
		runners:     runners,
		namespace:   namespace,
		workers:     workers,
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to the event stream and runs a bounded worker pool
// pulling and handling events concurrently across unrelated executions
// (SPEC_FULL §4.6 "Transport"). It also sweeps for pending executions to
// recover on startup, mirroring the teacher's recoverPendingRuns.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.transport == nil {
		logging.Info("dispatch: no transport configured, running in no-op mode")
		return nil
	}

	msgCh := make(chan *nats.Msg, d.workers*4)
	_, err := d.transport.SubscribeDurable(d.namespace, "", func(msg *nats.Msg) {
		select {
		case msgCh <- msg:
		case <-d.stopCh:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-d.stopCh:
					return nil
				case <-gctx.Done():
					return nil
				case msg, ok := <-msgCh:
					if !ok {
						return nil
					}
					d.handleMessage(gctx, msg)
				}
			}
		})
	}

	go d.recoverPending(ctx)

	go func() {
		_ = g.Wait()
	}()

	return nil
}

// Stop halts the worker pool. In-flight handlers finish their current
// event.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

func (d *Dispatcher) recoverPending(ctx context.Context) {
	time.Sleep(2 * time.Second)
	pending, err := d.store.ListPendingExecutions(ctx, 100)
	if err != nil {
		logging.Error("dispatch: failed to list pending executions: %v", err)
		return
	}
	for _, we := range pending {
		logging.Info("dispatch: re-publishing start for recovered execution %s (state=%s)", we.ID, we.State)
		_ = d.transport.Publish(ctx, d.namespace, Event{
			EventID:             uuid.NewString(),
			Kind:                EventStart,
			WorkflowExecutionID: we.ID,
		})
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logging.Error("dispatch: failed to unmarshal event: %v", err)
		_ = msg.Nak()
		return
	}

	if err := d.HandleEvent(ctx, event); err != nil {
		logging.Error("dispatch: event %s (%s) failed: %v", event.EventID, event.Kind, err)
	}
	_ = msg.Ack()
}

// HandleEvent applies one event under the affected execution's lock,
// inside a single transaction (SPEC_FULL §4.6 steps 1-6). It is exported so
// a single-process caller (CLI, tests) can drive the engine without going
// through NATS.
func (d *Dispatcher) HandleEvent(ctx context.Context, event Event) error {
	unlock := d.store.Locks.Lock(event.WorkflowExecutionID)
	defer unlock()

	tx, err := d.store.BeginImmediate(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	we, err := d.store.GetWorkflowExecutionForUpdate(ctx, tx, event.WorkflowExecutionID)
	if err != nil {
		return fmt.Errorf("loading workflow execution %s: %w", event.WorkflowExecutionID, err)
	}

	spec, err := d.loadSpec(ctx, we)
	if err != nil {
		return fmt.Errorf("loading spec for execution %s: %w", we.ID, err)
	}

	switch event.Kind {
	case EventStart:
		err = d.handleStart(ctx, tx, we, spec, event.EventID)
	case EventActionDone:
		err = d.handleActionDone(ctx, tx, we, spec, event)
	case EventTimerFired:
		err = d.handleTimerFired(ctx, tx, we, spec, event)
	case EventStop:
		err = d.handleStop(ctx, tx, we, spec, event.EventID)
	case EventCancel:
		err = d.handleCancel(ctx, tx, we, spec, event.EventID)
	case EventRerun:
		err = d.handleRerun(ctx, tx, we, spec, event)
	default:
		err = fmt.Errorf("unknown event kind %q", event.Kind)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event %s: %w", event.EventID, err)
	}
	committed = true
	return nil
}

func (d *Dispatcher) loadSpec(ctx context.Context, we *models.WorkflowExecution) (*workflows.WorkflowSpec, error) {
	stored, err := d.store.GetSpecVersion(ctx, we.SpecName, we.SpecNamespace, we.SpecVersion)
	if err != nil {
		return nil, err
	}
	spec, _, err := workflows.ValidateSpec(stored.Document)
	if err != nil {
		return nil, err
	}
	return spec, nil
}

func loadContext(we *models.WorkflowExecution) map[string]interface{} {
	ctx := map[string]interface{}{}
	if len(we.Context) > 0 {
		_ = json.Unmarshal(we.Context, &ctx)
	}
	if len(we.Input) > 0 {
		var input map[string]interface{}
		if err := json.Unmarshal(we.Input, &input); err == nil {
			ctx["input"] = input
		}
	}
	return ctx
}

func saveContext(we *models.WorkflowExecution, ctx map[string]interface{}) error {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return err
	}
	we.Context = raw
	return nil
}

func joinTotalFor(spec *workflows.WorkflowSpec, taskName string) int {
	total := 0
	count := func(successors []workflows.Successor) {
		for _, s := range successors {
			if s.Task == taskName {
				total++
			}
		}
	}
	for _, t := range spec.Tasks {
		count(t.Policies.All())
	}
	count(spec.Policies.All())
	return total
}

func (d *Dispatcher) handleStart(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, eventID string) error {
	ctx = d.telem.StartExecutionSpan(ctx, we.ID, spec.Name)

	from := we.State
	if err := d.workflowFSM.Start(we); err != nil {
		return err
	}
	logWorkflowTransition(eventID, we.ID, from, we.State)

	initial, err := d.workflowFSM.InitialTaskSet(spec)
	if err != nil {
		return err
	}

	wfCtx := loadContext(we)

	for _, name := range initial {
		taskSpec, ok := spec.Tasks[name]
		if !ok {
			return fmt.Errorf("start-task %q not found in spec %s", name, spec.Name)
		}
		if err := d.scheduleTask(ctx, tx, we, spec, taskSpec, wfCtx, eventID); err != nil {
			return err
		}
	}

	if err := saveContext(we, wfCtx); err != nil {
		return err
	}
	return d.store.UpdateWorkflowExecution(ctx, tx, we)
}

// scheduleTask creates a task execution row and starts it; if the task
// begins RUNNING immediately (no wait-before), its actions are dispatched
// synchronously through the action runner registry and an action_done event
// is published per item so aggregation and successor evaluation proceed
// through the normal event path.
func (d *Dispatcher) scheduleTask(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, taskSpec workflows.TaskSpec, wfCtx map[string]interface{}, eventID string) error {
	snapshot, err := json.Marshal(taskSpec)
	if err != nil {
		return err
	}

	t := &models.TaskExecution{
		WorkflowExecID: we.ID,
		TaskName:       taskSpec.Name,
		Spec:           snapshot,
		State:          models.StateIdle,
		JoinTotal:      joinTotalFor(spec, taskSpec.Name),
		JoinIsAll:      taskSpec.Join != nil && taskSpec.Join.All,
		JoinRequired:   joinRequiredFor(taskSpec),
	}

	from := t.State
	outcome, err := d.taskFSM.Start(t, taskSpec, wfCtx)
	if err != nil {
		return err
	}
	logTaskTransition(eventID, we.ID, t.TaskName, from, t.State)
	if err := d.store.CreateTaskExecution(ctx, tx, t); err != nil {
		return err
	}
	ctx = d.telem.StartTaskSpan(ctx, we.ID, t.ID, t.TaskName)

	if outcome.Delay != nil {
		if err := d.store.CreateDelayedCall(ctx, tx, &models.DelayedCall{
			Kind:           outcome.Delay.Kind,
			WorkflowExecID: we.ID,
			TaskExecID:     &t.ID,
			Deadline:       time.Now().UTC().Add(outcome.Delay.For),
		}); err != nil {
			return err
		}
		return nil
	}

	return d.dispatchActions(ctx, tx, we, spec, t, taskSpec, wfCtx)
}

// taskFailureFor returns the error to record on a task's span, or nil for a
// task that did not end in ERROR.
func taskFailureFor(t *models.TaskExecution) error {
	if t.State != models.StateError {
		return nil
	}
	if t.ErrorReason != nil {
		return errors.New(*t.ErrorReason)
	}
	return errors.New("task failed")
}

func joinRequiredFor(taskSpec workflows.TaskSpec) int {
	if taskSpec.Join == nil {
		return 0
	}
	if taskSpec.Join.All {
		return 0
	}
	return taskSpec.Join.N
}

// dispatchActions runs (possibly fans out over with-items) a RUNNING task's
// action synchronously through the runner registry, recording one
// ActionExecution per item and publishing an action_done event per item. When
// no transport is configured (single-process CLI runs, tests) each
// action_done is applied in-process against the same transaction rather than
// published, since HandleEvent's own locking/transaction management assumes
// it is entered from outside any in-flight event.
func (d *Dispatcher) dispatchActions(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, t *models.TaskExecution, taskSpec workflows.TaskSpec, wfCtx map[string]interface{}) error {
	if taskSpec.IsSubWorkflow() {
		// Sub-workflow tasks are out of scope for synchronous dispatch here;
		// they are driven by the child WorkflowExecution's own lifecycle.
		return nil
	}

	var input map[string]interface{}
	_ = json.Unmarshal(t.Input, &input)

	items := itemsFor(taskSpec, wfCtx)
	if len(items) == 0 {
		items = []interface{}{nil}
	}

	for i, item := range items {
		itemIndex := -1
		itemInput := input
		if taskSpec.WithItems != "" {
			itemIndex = i
			itemInput = map[string]interface{}{}
			for k, v := range input {
				itemInput[k] = v
			}
			itemInput["item"] = item
		}

		actionCtx := workflows.ActionContext{
			WorkflowExecID: we.ID,
			TaskID:         t.ID,
			ItemIndex:      itemIndex,
			Attempt:        t.Attempt,
		}
		key := workflows.StableActionKey(actionCtx)

		result, runErr := d.runners.Run(ctx, key, taskSpec.Action, itemInput)

		event := Event{
			EventID:             uuid.NewString(),
			Kind:                EventActionDone,
			WorkflowExecutionID: we.ID,
			TaskExecutionID:     t.ID,
			TaskName:            t.TaskName,
			ItemIndex:           itemIndex,
			Attempt:             t.Attempt,
		}
		if runErr != nil {
			event.Success = false
			event.ErrorMsg = runErr.Error()
		} else {
			event.Success = result.Success
			event.Output = result.Output
			event.ErrorMsg = result.Reason
		}

		if d.transport != nil {
			if err := d.transport.Publish(ctx, d.namespace, event); err != nil {
				return fmt.Errorf("publishing action_done for task %s item %d: %w", t.TaskName, itemIndex, err)
			}
			continue
		}
		if err := d.handleActionDone(ctx, tx, we, spec, event); err != nil {
			return err
		}
	}
	return nil
}

func itemsFor(taskSpec workflows.TaskSpec, wfCtx map[string]interface{}) []interface{} {
	if taskSpec.WithItems == "" {
		return nil
	}
	val, err := dataflow.NewEvaluator().EvaluateExpression(taskSpec.WithItems, wfCtx)
	if err != nil {
		return nil
	}
	items, _ := val.([]interface{})
	return items
}

func (d *Dispatcher) handleActionDone(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, event Event) error {
	t, err := d.store.GetTaskExecutionForUpdate(ctx, tx, event.TaskExecutionID)
	if err != nil {
		return err
	}
	taskSpec, ok := spec.Tasks[t.TaskName]
	if !ok {
		return fmt.Errorf("task %q not found in spec %s", t.TaskName, spec.Name)
	}

	idempotencyKey := fmt.Sprintf("%s:%d", workflows.IdempotencyKey(we.ID, t.TaskName, event.Attempt), event.ItemIndex)
	if existing, err := d.store.FindActionByIdempotencyKey(ctx, tx, idempotencyKey); err == nil && existing != nil {
		return nil // P5: replayed action_done is a no-op.
	} else if err != nil && err != store.ErrNotFound {
		return err
	}

	action := &models.ActionExecution{
		TaskExecID:     t.ID,
		ActionName:     taskSpec.Action,
		ItemIndex:      event.ItemIndex,
		Attempt:        event.Attempt,
		IdempotencyKey: idempotencyKey,
		State:          models.StateSuccess,
	}
	if !event.Success {
		action.State = models.StateError
		reason := event.ErrorMsg
		action.ErrorReason = &reason
	}
	if raw, err := json.Marshal(event.Output); err == nil {
		action.Output = raw
	}
	if err := d.store.CreateActionExecution(ctx, tx, action); err != nil {
		return err
	}

	allActions, err := d.store.ListActionsForTask(ctx, tx, t.ID)
	if err != nil {
		return err
	}

	// ListActionsForTask returns every attempt's rows; a prior attempt's
	// failure must not keep failing the aggregate once a later attempt's
	// items have all succeeded, so only the current attempt's rows count.
	var results []engine.ActionResult
	for _, a := range allActions {
		if a.Attempt != event.Attempt {
			continue
		}
		var out map[string]interface{}
		_ = json.Unmarshal(a.Output, &out)
		reason := ""
		if a.ErrorReason != nil {
			reason = *a.ErrorReason
		}
		results = append(results, engine.ActionResult{
			ItemIndex: a.ItemIndex,
			Success:   a.State == models.StateSuccess,
			Output:    out,
			ErrorMsg:  reason,
		})
	}

	itemsExpected := 1
	wfCtx := loadContext(we)
	if taskSpec.WithItems != "" {
		itemsExpected = len(itemsFor(taskSpec, wfCtx))
	}

	fromState := t.State
	outcome, err := d.taskFSM.ActionDone(t, taskSpec, results, itemsExpected, dataflow.AggregateArray, wfCtx)
	if err != nil {
		return err
	}
	if t.State != fromState {
		logTaskTransition(event.EventID, we.ID, t.TaskName, fromState, t.State)
	}

	for k, v := range outcome.Publish {
		wfCtx[k] = v
	}

	if err := d.store.UpdateTaskExecution(ctx, tx, t); err != nil {
		return err
	}

	if outcome.Delay != nil {
		if err := d.store.CreateDelayedCall(ctx, tx, &models.DelayedCall{
			Kind:           outcome.Delay.Kind,
			WorkflowExecID: we.ID,
			TaskExecID:     &t.ID,
			Deadline:       time.Now().UTC().Add(outcome.Delay.For),
		}); err != nil {
			return err
		}
	}

	// A task that collected every expected item result but is still
	// RUNNING with no delay scheduled means handleFailure chose an
	// immediate retry (retry.delay <= 0): re-dispatch right away. A task
	// still RUNNING because fewer item results have arrived than expected
	// just waits for the rest.
	if len(results) >= itemsExpected && t.State == models.StateRunning && outcome.Delay == nil {
		if err := saveContext(we, wfCtx); err != nil {
			return err
		}
		return d.dispatchActions(ctx, tx, we, spec, t, taskSpec, wfCtx)
	}

	if err := saveContext(we, wfCtx); err != nil {
		return err
	}

	if t.State.IsTerminal() {
		d.telem.EndTaskSpan(t.ID, t.TaskName, string(t.State), time.Since(t.CreatedAt), taskFailureFor(t))
		return d.onTaskTerminal(ctx, tx, we, spec, t, wfCtx, event.EventID)
	}
	return d.store.UpdateWorkflowExecution(ctx, tx, we)
}

// onTaskTerminal evaluates successor policies and join bookkeeping
// (SPEC_FULL §4.6 step 4), then checks whether the workflow itself is done.
func (d *Dispatcher) onTaskTerminal(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, t *models.TaskExecution, wfCtx map[string]interface{}, eventID string) error {
	taskSpec := spec.Tasks[t.TaskName]
	succeeded := t.State == models.StateSuccess

	successors, err := d.workflowFSM.SelectSuccessors(taskSpec, succeeded, spec, wfCtx)
	if err != nil {
		return err
	}

	allTasks, err := d.store.ListTasksForWorkflow(ctx, tx, we.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]*models.TaskExecution, len(allTasks))
	for _, at := range allTasks {
		byName[at.TaskName] = at
	}

	anyNewOrPending := false
	for _, s := range successors {
		successorSpec, ok := spec.Tasks[s.Task]
		if !ok {
			continue
		}
		existing, already := byName[s.Task]

		if successorSpec.Join != nil {
			var target *models.TaskExecution
			if already {
				target = existing
			} else {
				target = &models.TaskExecution{
					WorkflowExecID: we.ID,
					TaskName:       s.Task,
					State:          models.StateIdle,
					JoinTotal:      joinTotalFor(spec, s.Task),
					JoinIsAll:      successorSpec.Join.All,
					JoinRequired:   joinRequiredFor(successorSpec),
				}
				snap, _ := json.Marshal(successorSpec)
				target.Spec = snap
				if err := d.store.CreateTaskExecution(ctx, tx, target); err != nil {
					return err
				}
				byName[s.Task] = target
			}

			switch engine.RecordJoinArrival(target, succeeded) {
			case engine.JoinReady:
				if err := d.scheduleTask(ctx, tx, we, spec, successorSpec, wfCtx, eventID); err != nil {
					return err
				}
			case engine.JoinUnsatisfiable:
				reason := fmt.Sprintf("join for task %s can no longer be satisfied", s.Task)
				target.State = models.StateError
				target.ErrorReason = &reason
			}
			if err := d.store.UpdateTaskExecution(ctx, tx, target); err != nil {
				return err
			}
			anyNewOrPending = true
			continue
		}

		if already {
			continue
		}
		if err := d.scheduleTask(ctx, tx, we, spec, successorSpec, wfCtx, eventID); err != nil {
			return err
		}
		anyNewOrPending = true
	}

	if err := saveContext(we, wfCtx); err != nil {
		return err
	}

	if !succeeded && len(successors) == 0 {
		reason := "task failed with no error-handling successor"
		if t.ErrorReason != nil {
			reason = *t.ErrorReason
		}
		fromState := we.State
		if err := d.workflowFSM.Fail(we, reason); err != nil {
			return err
		}
		logWorkflowTransition(eventID, we.ID, fromState, we.State)
		d.telem.EndExecutionSpan(ctx, we.ID, spec.Name, string(we.State), time.Since(we.CreatedAt), errors.New(reason))
		return d.store.UpdateWorkflowExecution(ctx, tx, we)
	}

	if anyNewOrPending {
		return d.store.UpdateWorkflowExecution(ctx, tx, we)
	}

	return d.maybeComplete(ctx, tx, we, spec, wfCtx, eventID)
}

// maybeComplete checks whether every task has reached a terminal state; if
// so, it evaluates the workflow's output expression and transitions to
// SUCCESS (or ERROR if any task failed unhandled).
func (d *Dispatcher) maybeComplete(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, wfCtx map[string]interface{}, eventID string) error {
	allTasks, err := d.store.ListTasksForWorkflow(ctx, tx, we.ID)
	if err != nil {
		return err
	}

	anyNonTerminal := false
	anyFailed := false
	for _, t := range allTasks {
		if !t.State.IsTerminal() {
			anyNonTerminal = true
		}
		if t.State == models.StateError {
			anyFailed = true
		}
	}

	if anyNonTerminal {
		return d.store.UpdateWorkflowExecution(ctx, tx, we)
	}

	if anyFailed {
		reason := "one or more tasks ended in error"
		fromState := we.State
		if err := d.workflowFSM.Fail(we, reason); err != nil {
			return err
		}
		logWorkflowTransition(eventID, we.ID, fromState, we.State)
		d.telem.EndExecutionSpan(ctx, we.ID, spec.Name, string(we.State), time.Since(we.CreatedAt), errors.New(reason))
		return d.store.UpdateWorkflowExecution(ctx, tx, we)
	}

	output, err := d.workflowFSM.EvaluateOutput(spec, wfCtx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return err
	}
	fromState := we.State
	if err := d.workflowFSM.Complete(we, raw); err != nil {
		return err
	}
	logWorkflowTransition(eventID, we.ID, fromState, we.State)
	d.telem.EndExecutionSpan(ctx, we.ID, spec.Name, string(we.State), time.Since(we.CreatedAt), nil)
	return d.store.UpdateWorkflowExecution(ctx, tx, we)
}

func (d *Dispatcher) handleTimerFired(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, event Event) error {
	t, err := d.store.GetTaskExecutionForUpdate(ctx, tx, event.TaskExecutionID)
	if err != nil {
		return err
	}
	taskSpec := spec.Tasks[t.TaskName]

	fromState := t.State
	outcome, err := d.taskFSM.TimerFired(t, models.DelayedCallKind(event.TimerKind))
	if err != nil {
		return err
	}
	logTaskTransition(event.EventID, we.ID, t.TaskName, fromState, t.State)
	if err := d.store.UpdateTaskExecution(ctx, tx, t); err != nil {
		return err
	}

	if outcome.State == models.StateRunning {
		wfCtx := loadContext(we)
		if err := d.dispatchActions(ctx, tx, we, spec, t, taskSpec, wfCtx); err != nil {
			return err
		}
	}

	if t.State.IsTerminal() {
		d.telem.EndTaskSpan(t.ID, t.TaskName, string(t.State), time.Since(t.CreatedAt), taskFailureFor(t))
		wfCtx := loadContext(we)
		return d.onTaskTerminal(ctx, tx, we, spec, t, wfCtx, event.EventID)
	}
	return d.store.UpdateWorkflowExecution(ctx, tx, we)
}

func (d *Dispatcher) handleStop(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, eventID string) error {
	fromState := we.State
	if err := d.workflowFSM.Stop(we); err != nil {
		return err
	}
	logWorkflowTransition(eventID, we.ID, fromState, we.State)
	return d.stopOrCancelTasks(ctx, tx, we, false, eventID)
}

func (d *Dispatcher) handleCancel(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, eventID string) error {
	fromState := we.State
	if err := d.workflowFSM.Cancel(we); err != nil {
		return err
	}
	logWorkflowTransition(eventID, we.ID, fromState, we.State)
	reason := "workflow cancelled"
	if we.ErrorReason != nil {
		reason = *we.ErrorReason
	}
	d.telem.EndExecutionSpan(ctx, we.ID, spec.Name, string(we.State), time.Since(we.CreatedAt), errors.New(reason))
	return d.stopOrCancelTasks(ctx, tx, we, true, eventID)
}

// handleRerun implements SPEC_FULL §4.5 rerun(task_id): the target task must
// be terminal and everything transitively downstream of it must be terminal
// or IDLE (engine.CanRerun); downstream task rows are discarded along with
// the context names they published, the target itself is rescheduled from
// scratch, and the workflow returns to RUNNING.
func (d *Dispatcher) handleRerun(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, spec *workflows.WorkflowSpec, event Event) error {
	taskSpec, ok := spec.Tasks[event.TaskName]
	if !ok {
		return fmt.Errorf("rerun: task %q not found in spec %s", event.TaskName, spec.Name)
	}

	allTasks, err := d.store.ListTasksForWorkflow(ctx, tx, we.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]*models.TaskExecution, len(allTasks))
	for _, t := range allTasks {
		byName[t.TaskName] = t
	}

	if !engine.CanRerun(event.TaskName, byName, spec) {
		return engine.ErrRerunRejected
	}

	wfCtx := loadContext(we)

	for name := range taskSpec.Publish {
		delete(wfCtx, name)
	}
	for _, name := range engine.Downstream(event.TaskName, spec) {
		ds, ok := byName[name]
		if !ok {
			continue
		}
		if dsSpec, ok := spec.Tasks[name]; ok {
			for published := range dsSpec.Publish {
				delete(wfCtx, published)
			}
		}
		if err := d.store.DeleteTaskExecution(ctx, tx, ds.ID); err != nil {
			return err
		}
	}

	target := byName[event.TaskName]
	if err := d.store.DeleteTaskExecution(ctx, tx, target.ID); err != nil {
		return err
	}

	fromState := we.State
	if err := d.workflowFSM.Rerun(we); err != nil {
		return err
	}
	logWorkflowTransition(event.EventID, we.ID, fromState, we.State)

	if err := d.scheduleTask(ctx, tx, we, spec, taskSpec, wfCtx, event.EventID); err != nil {
		return err
	}

	if err := saveContext(we, wfCtx); err != nil {
		return err
	}
	return d.store.UpdateWorkflowExecution(ctx, tx, we)
}

func (d *Dispatcher) stopOrCancelTasks(ctx context.Context, tx *store.Tx, we *models.WorkflowExecution, cancel bool, eventID string) error {
	tasks, err := d.store.ListTasksForWorkflow(ctx, tx, we.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fromState := t.State
		var outcome *engine.TaskOutcome
		if cancel {
			outcome, err = d.taskFSM.Cancel(t)
		} else {
			outcome, err = d.taskFSM.Stop(t)
		}
		if err != nil {
			return err
		}
		_ = outcome
		logTaskTransition(eventID, we.ID, t.TaskName, fromState, t.State)
		if err := d.store.UpdateTaskExecution(ctx, tx, t); err != nil {
			return err
		}
		d.telem.EndTaskSpan(t.ID, t.TaskName, string(t.State), time.Since(t.CreatedAt), taskFailureFor(t))
	}
	return d.store.UpdateWorkflowExecution(ctx, tx, we)
}
