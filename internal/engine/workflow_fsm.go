package engine

import (
	"fmt"
	"strings"

	"orchestra/internal/dataflow"
	"orchestra/internal/workflows"
	"orchestra/pkg/models"
)

// WorkflowFSM evaluates workflow-level transitions: starting the initial
// task set, reacting to a task reaching a terminal state, and stop/cancel/
// rerun (SPEC_FULL §4.5).
type WorkflowFSM struct {
	eval *dataflow.Evaluator
}

func NewWorkflowFSM() *WorkflowFSM {
	return &WorkflowFSM{eval: dataflow.NewEvaluator()}
}

// InitialTaskSet returns the task names that must be scheduled IDLE the
// moment a workflow starts: the spec's start-task for `direct` workflows, or
// the backward dependency closure of its declared output for `reverse`
// workflows.
func (f *WorkflowFSM) InitialTaskSet(spec *workflows.WorkflowSpec) ([]string, error) {
	if spec.Type == workflows.TypeDirect {
		if spec.StartTask == "" {
			return nil, fmt.Errorf("direct workflow %s has no start-task", spec.Name)
		}
		return []string{spec.StartTask}, nil
	}

	outputTasks := referencedTaskNames(spec.Output)
	if len(outputTasks) == 0 {
		return nil, fmt.Errorf("reverse workflow %s has no task referenced by its output expression", spec.Name)
	}

	closure := ReverseDependencyClosure(spec, outputTasks)
	return leafTasks(spec, closure), nil
}

// ReverseDependencyClosure computes the least fixed point of "add a task's
// referenced predecessors" starting from the requested output tasks
// (SPEC_FULL §4.5 "Reverse-workflow dependency closure"), using a plain
// worklist algorithm: no external graph library is warranted for a closure
// over, at most, a few hundred task names.
func ReverseDependencyClosure(spec *workflows.WorkflowSpec, outputTasks []string) map[string]bool {
	closure := make(map[string]bool, len(outputTasks))
	worklist := append([]string(nil), outputTasks...)

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if closure[name] {
			continue
		}
		closure[name] = true

		task, ok := spec.Tasks[name]
		if !ok {
			continue
		}

		for _, pred := range taskReferencedPredecessors(task) {
			if !closure[pred] {
				worklist = append(worklist, pred)
			}
		}
	}

	return closure
}

// taskReferencedPredecessors returns the task names referenced by t's input
// and successor-condition expressions: task u is a predecessor of t if any
// expression in t mentions u's published name. This is a textual scan for
// `u.` or `u[` style references rather than a full expression-AST walk,
// matching the conservative "may over-include" posture a worklist closure
// needs (an extra predecessor merely schedules one more task).
func taskReferencedPredecessors(t workflows.TaskSpec) []string {
	var refs []string
	seen := map[string]bool{}
	scan := func(expr string) {
		for _, name := range referencedTaskNames(expr) {
			if !seen[name] {
				seen[name] = true
				refs = append(refs, name)
			}
		}
	}

	for _, v := range t.Input {
		if s, ok := v.(string); ok {
			scan(s)
		}
	}
	for _, s := range t.Policies.All() {
		scan(s.Condition)
	}
	return refs
}

// referencedTaskNames extracts bare identifiers from expr that look like a
// dotted-path reference to a task's published output (`taskname.field` or
// `taskname["field"]`). It is intentionally simple: Starlark identifiers are
// `[A-Za-z_][A-Za-z0-9_]*`, and we only need the leading identifier of each
// reference.
func referencedTaskNames(expr string) []string {
	var names []string
	seen := map[string]bool{}
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		name := current.String()
		current.Reset()
		if !seen[name] && !isReservedWord(name) {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, r := range expr {
		isIdentChar := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isIdentChar {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return names
}

func isReservedWord(name string) bool {
	switch name {
	case "True", "False", "None", "and", "or", "not", "if", "else", "for", "in", "lambda", "ctx", "task", "input", "result":
		return true
	}
	return false
}

// leafTasks filters closure down to the tasks that have no predecessor also
// in closure: these are the tasks reverse evaluation must schedule first.
func leafTasks(spec *workflows.WorkflowSpec, closure map[string]bool) []string {
	var leaves []string
	for name := range closure {
		task, ok := spec.Tasks[name]
		if !ok {
			continue
		}
		hasClosurePred := false
		for _, pred := range taskReferencedPredecessors(task) {
			if closure[pred] {
				hasClosurePred = true
				break
			}
		}
		if !hasClosurePred {
			leaves = append(leaves, name)
		}
	}
	return leaves
}

// SelectSuccessors evaluates a terminated task's successor policies and
// returns the successors whose condition is truthy in ctx (SPEC_FULL §4.6
// step 4). The workflow-level policies are used only when the task itself
// names no successor for this outcome (on-success/on-error plus on-complete).
func (f *WorkflowFSM) SelectSuccessors(task workflows.TaskSpec, taskSucceeded bool, spec *workflows.WorkflowSpec, ctx map[string]interface{}) ([]workflows.Successor, error) {
	var candidates []workflows.Successor
	if taskSucceeded {
		candidates = append(candidates, task.Policies.OnSuccess...)
	} else {
		candidates = append(candidates, task.Policies.OnError...)
	}
	candidates = append(candidates, task.Policies.OnComplete...)

	if len(candidates) == 0 {
		if taskSucceeded {
			candidates = append(candidates, spec.Policies.OnSuccess...)
		} else {
			candidates = append(candidates, spec.Policies.OnError...)
		}
		candidates = append(candidates, spec.Policies.OnComplete...)
	}

	var matched []workflows.Successor
	for _, s := range candidates {
		if s.Condition == "" {
			matched = append(matched, s)
			continue
		}
		ok, err := f.eval.EvaluateCondition(s.Condition, ctx)
		if err != nil {
			return nil, fmt.Errorf("successor %q: %w", s.Task, err)
		}
		if ok {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// EvaluateOutput computes a finished workflow's output expression over ctx.
func (f *WorkflowFSM) EvaluateOutput(spec *workflows.WorkflowSpec, ctx map[string]interface{}) (interface{}, error) {
	if spec.Output == "" {
		return nil, nil
	}
	return f.eval.EvaluateExpression(spec.Output, ctx)
}

// Start transitions a workflow execution IDLE -> RUNNING.
func (f *WorkflowFSM) Start(we *models.WorkflowExecution) error {
	if _, err := Transition(we.State, models.StateRunning); err != nil {
		return err
	}
	we.State = models.StateRunning
	return nil
}

// Complete transitions a workflow execution to SUCCESS, recording output.
func (f *WorkflowFSM) Complete(we *models.WorkflowExecution, output []byte) error {
	if _, err := Transition(we.State, models.StateSuccess); err != nil {
		return err
	}
	we.State = models.StateSuccess
	we.Output = output
	return nil
}

// Fail transitions a workflow execution to ERROR with reason.
func (f *WorkflowFSM) Fail(we *models.WorkflowExecution, reason string) error {
	if _, err := Transition(we.State, models.StateError); err != nil {
		return err
	}
	we.State = models.StateError
	we.ErrorReason = &reason
	return nil
}

// Stop transitions a non-terminal workflow execution to STOPPED.
func (f *WorkflowFSM) Stop(we *models.WorkflowExecution) error {
	if we.State.IsTerminal() {
		return nil
	}
	if _, err := Transition(we.State, models.StateStopped); err != nil {
		return err
	}
	we.State = models.StateStopped
	return nil
}

// Cancel transitions a non-terminal workflow execution to ERROR with a
// cancellation reason.
func (f *WorkflowFSM) Cancel(we *models.WorkflowExecution) error {
	if we.State.IsTerminal() {
		return nil
	}
	reason := "workflow cancelled"
	if _, err := Transition(we.State, models.StateError); err != nil {
		return err
	}
	we.State = models.StateError
	we.ErrorReason = &reason
	return nil
}

// Rerun revives a terminal workflow execution back to RUNNING. This is the
// one edge the validTransitions table deliberately omits (SUCCESS/ERROR have
// no outbound transitions for the ordinary event-driven path): rerun is an
// explicit operator action, not something the dispatcher reaches on its own,
// so it bypasses CanTransition rather than adding SUCCESS/ERROR -> RUNNING
// as a generally-reachable edge.
func (f *WorkflowFSM) Rerun(we *models.WorkflowExecution) error {
	if !we.State.IsTerminal() {
		return fmt.Errorf("cannot rerun workflow execution %s in state %s", we.ID, we.State)
	}
	we.State = models.StateRunning
	we.ErrorReason = nil
	return nil
}

// ErrRerunRejected is returned when the targeted task is not terminal, or a
// downstream task has not reached a state that the rerun can safely discard
// (SPEC_FULL §9 Open Question decision).
var ErrRerunRejected = fmt.Errorf("rerun rejected: task is not terminal, or a downstream task is not terminal/idle")

// CanRerun reports whether taskName may be rerun: it must be terminal, and
// every task transitively downstream of it (by successor-policy and join
// edges, computed by downstream) must be terminal or IDLE — never RUNNING,
// STOPPED, or DELAYED, which would mean the rerun is racing an in-flight
// execution of work that depends on the task being rerun.
func CanRerun(taskName string, tasks map[string]*models.TaskExecution, spec *workflows.WorkflowSpec) bool {
	target, ok := tasks[taskName]
	if !ok || !target.State.IsTerminal() {
		return false
	}

	for _, downstreamName := range downstream(taskName, spec) {
		t, ok := tasks[downstreamName]
		if !ok {
			continue
		}
		if !t.State.IsTerminal() && t.State != models.StateIdle {
			return false
		}
	}
	return true
}

// Downstream exposes downstream for callers (the dispatcher's rerun
// handling) that need the same traversal CanRerun uses internally, to
// discard the context names those tasks published.
func Downstream(taskName string, spec *workflows.WorkflowSpec) []string {
	return downstream(taskName, spec)
}

// downstream returns every task name reachable from taskName by following
// successor edges (task-level and workflow-level policies), computed with
// the same worklist shape as ReverseDependencyClosure but walking forward.
func downstream(taskName string, spec *workflows.WorkflowSpec) []string {
	visited := map[string]bool{taskName: true}
	worklist := []string{taskName}
	var out []string

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		task, ok := spec.Tasks[name]
		if !ok {
			continue
		}
		successors := append(append([]workflows.Successor{}, task.Policies.All()...), spec.Policies.All()...)
		for _, s := range successors {
			if !visited[s.Task] {
				visited[s.Task] = true
				out = append(out, s.Task)
				worklist = append(worklist, s.Task)
			}
		}
	}
	return out
}
