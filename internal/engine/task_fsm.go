package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"orchestra/internal/dataflow"
	"orchestra/internal/workflows"
	"orchestra/pkg/models"
)

// TaskEvent is one of the five events the task state machine responds to
// (SPEC_FULL §4.4).
type TaskEvent string

const (
	EventStart      TaskEvent = "start"
	EventActionDone TaskEvent = "action_done"
	EventTimerFired TaskEvent = "timer_fired"
	EventStop       TaskEvent = "stop"
	EventCancel     TaskEvent = "cancel"
)

// ActionResult is one action's (or with-items item's) outcome reported back
// to the task FSM via an action_done event.
type ActionResult struct {
	ItemIndex int // -1 when the task has no with-items
	Success   bool
	Output    map[string]interface{}
	ErrorMsg  string
}

// DelayRequest asks the caller to enqueue a DelayedCall and leave the task
// in DELAYED until it fires.
type DelayRequest struct {
	Kind models.DelayedCallKind
	For  time.Duration
}

// TaskOutcome is what applying an event to the task FSM produced: the task's
// new state plus zero or one side effect for the caller to carry out.
type TaskOutcome struct {
	State   models.State
	Delay   *DelayRequest
	Publish map[string]interface{} // names to write into the workflow context
}

// TaskFSM evaluates task transitions. It is stateless; all state lives on
// the models.TaskExecution passed in.
type TaskFSM struct {
	eval *dataflow.Evaluator
}

func NewTaskFSM() *TaskFSM {
	return &TaskFSM{eval: dataflow.NewEvaluator()}
}

// Start computes the task's input and either begins RUNNING immediately or
// moves to DELAYED for wait-before (SPEC_FULL §4.4 "IDLE -> RUNNING").
func (f *TaskFSM) Start(t *models.TaskExecution, spec workflows.TaskSpec, workflowCtx map[string]interface{}) (*TaskOutcome, error) {
	input, err := f.eval.EvaluateMap(spec.Input, workflowCtx)
	if err != nil {
		return nil, fmt.Errorf("task %s: evaluating input: %w", spec.Name, err)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("task %s: marshalling input: %w", spec.Name, err)
	}
	t.Input = raw

	if spec.WaitBefore != "" {
		d, err := time.ParseDuration(spec.WaitBefore)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid wait-before %q: %w", spec.Name, spec.WaitBefore, err)
		}
		if d > 0 {
			if _, err := Transition(t.State, models.StateDelayed); err != nil {
				return nil, err
			}
			t.State = models.StateDelayed
			return &TaskOutcome{State: t.State, Delay: &DelayRequest{Kind: models.DelayKindWaitBefore, For: d}}, nil
		}
	}

	if _, err := Transition(t.State, models.StateRunning); err != nil {
		return nil, err
	}
	t.State = models.StateRunning
	return &TaskOutcome{State: t.State}, nil
}

// ResumeAfterDelay moves a DELAYED task back to RUNNING once its wait-before
// or wait-after timer fires.
func (f *TaskFSM) ResumeAfterDelay(t *models.TaskExecution) (*TaskOutcome, error) {
	if _, err := Transition(t.State, models.StateRunning); err != nil {
		return nil, err
	}
	t.State = models.StateRunning
	return &TaskOutcome{State: t.State}, nil
}

// withItemsAggregate collects every recorded item result (action rows, as
// loaded by the caller) and reports whether the task as a whole succeeded.
func withItemsAggregate(results []ActionResult, continueOnFailure bool) (ok bool, outputs []interface{}) {
	ok = true
	for _, r := range results {
		if !r.Success && !continueOnFailure {
			ok = false
		}
		outputs = append(outputs, map[string]interface{}(r.Output))
	}
	return ok, outputs
}

// ActionDone applies a completed action's result. allItemResults is the
// full set of per-item results recorded so far for a with-items task (or a
// single-element slice for a plain task); mode selects how per-item outputs
// combine into the task's published result (SPEC_FULL §4.4 "with-items
// fan-out").
func (f *TaskFSM) ActionDone(
	t *models.TaskExecution,
	spec workflows.TaskSpec,
	allItemResults []ActionResult,
	itemsExpected int,
	mode dataflow.AggregationMode,
	workflowCtx map[string]interface{},
) (*TaskOutcome, error) {
	if len(allItemResults) < itemsExpected {
		// Not every with-items action has reported yet; stay RUNNING.
		return &TaskOutcome{State: t.State}, nil
	}

	continueOnFailure := spec.Retry != nil && spec.Retry.ContinueOn == "error"
	ok, outputs := withItemsAggregate(allItemResults, continueOnFailure)

	if !ok {
		return f.handleFailure(t, spec, collectReason(allItemResults))
	}

	result := dataflow.AggregateItemOutputs(outputs, mode)
	publishCtx := map[string]interface{}{}
	for k, v := range workflowCtx {
		publishCtx[k] = v
	}
	publishCtx["task"] = map[string]interface{}{"result": result}

	published, err := f.eval.EvaluateMap(spec.Publish, publishCtx)
	if err != nil {
		return nil, fmt.Errorf("task %s: evaluating publish: %w", spec.Name, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("task %s: marshalling output: %w", spec.Name, err)
	}
	t.Output = raw
	t.Attempt = 0

	if spec.WaitAfter != "" {
		d, err := time.ParseDuration(spec.WaitAfter)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid wait-after %q: %w", spec.Name, spec.WaitAfter, err)
		}
		if d > 0 {
			if _, err := Transition(t.State, models.StateDelayed); err != nil {
				return nil, err
			}
			t.State = models.StateDelayed
			return &TaskOutcome{State: t.State, Delay: &DelayRequest{Kind: models.DelayKindWaitAfter, For: d}, Publish: published}, nil
		}
	}

	if _, err := Transition(t.State, models.StateSuccess); err != nil {
		return nil, err
	}
	t.State = models.StateSuccess
	return &TaskOutcome{State: t.State, Publish: published}, nil
}

func collectReason(results []ActionResult) string {
	for _, r := range results {
		if !r.Success {
			return r.ErrorMsg
		}
	}
	return "action failed"
}

// handleFailure applies the retry policy to an action failure: it either
// schedules a retry (DELAYED -> RUNNING after retry.delay) or transitions
// the task to ERROR.
func (f *TaskFSM) handleFailure(t *models.TaskExecution, spec workflows.TaskSpec, reason string) (*TaskOutcome, error) {
	if spec.Retry != nil && t.Attempt < spec.Retry.Count {
		t.Attempt++
		d, err := time.ParseDuration(spec.Retry.Delay)
		if err != nil || d <= 0 {
			d = 0
		}
		if d > 0 {
			if _, err := Transition(t.State, models.StateDelayed); err != nil {
				return nil, err
			}
			t.State = models.StateDelayed
			return &TaskOutcome{State: t.State, Delay: &DelayRequest{Kind: models.DelayKindRetry, For: d}}, nil
		}
		// Immediate retry: stay RUNNING, caller re-dispatches the action.
		return &TaskOutcome{State: t.State}, nil
	}

	if _, err := Transition(t.State, models.StateError); err != nil {
		return nil, err
	}
	t.State = models.StateError
	t.ErrorReason = &reason
	return &TaskOutcome{State: t.State}, nil
}

// TimerFired applies a fired timer to the task. kind distinguishes a
// wait-before/wait-after/retry wakeup (resume to RUNNING) from a timeout
// (cancel the outstanding action and go ERROR).
func (f *TaskFSM) TimerFired(t *models.TaskExecution, kind models.DelayedCallKind) (*TaskOutcome, error) {
	if kind == models.DelayKindTimeout {
		reason := "task exceeded its timeout"
		if _, err := Transition(t.State, models.StateError); err != nil {
			return nil, err
		}
		t.State = models.StateError
		t.ErrorReason = &reason
		return &TaskOutcome{State: t.State}, nil
	}
	return f.ResumeAfterDelay(t)
}

// Stop asks a non-terminal task to stop.
func (f *TaskFSM) Stop(t *models.TaskExecution) (*TaskOutcome, error) {
	if t.State.IsTerminal() {
		return &TaskOutcome{State: t.State}, nil
	}
	if _, err := Transition(t.State, models.StateStopped); err != nil {
		return nil, err
	}
	t.State = models.StateStopped
	return &TaskOutcome{State: t.State}, nil
}

// Cancel transitions a non-terminal task to ERROR with a cancellation reason.
func (f *TaskFSM) Cancel(t *models.TaskExecution) (*TaskOutcome, error) {
	if t.State.IsTerminal() {
		return &TaskOutcome{State: t.State}, nil
	}
	reason := "task cancelled"
	if _, err := Transition(t.State, models.StateError); err != nil {
		return nil, err
	}
	t.State = models.StateError
	t.ErrorReason = &reason
	return &TaskOutcome{State: t.State}, nil
}
