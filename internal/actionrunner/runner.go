// Package actionrunner defines the external action contract (SPEC_FULL §6)
// and two stub implementations used by tests and local development. A real
// deployment wires in its own Runner (calling out to whatever invokes the
// spec's `action` names); action implementations themselves are out of
// scope for this repo (§1).
package actionrunner

import "context"

// Runner invokes one named action with its evaluated input and returns its
// result. The engine calls Run once per with-items element (or once for a
// plain task), keyed by an idempotency key so a runner MAY treat repeated
// calls with the same key as a no-op, but is not required to: the engine's
// own ActionExecution row is the source of truth for idempotent replay
// (SPEC_FULL §4.4).
type Runner interface {
	Run(ctx context.Context, idempotencyKey, actionName string, input map[string]interface{}) (Result, error)
}

// Result is what an action reported back. Success=false is a business-level
// failure, handled by the task's retry policy. A Go-level error returned by
// Run is handled the same way: the dispatcher records it as a failed
// action_done whose reason is the error text.
type Result struct {
	Success bool
	Output  map[string]interface{}
	Reason  string
}

// Registry dispatches an action name to the Runner registered for it,
// falling back to a default runner (grounded on the teacher's
// `ExecutorRegistry`, generalized from step-type keys to action names).
type Registry struct {
	runners map[string]Runner
	def     Runner
}

// NewRegistry returns an empty registry. Use Register to add named runners
// and SetDefault to provide a fallback.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register associates actionName with runner.
func (r *Registry) Register(actionName string, runner Runner) {
	r.runners[actionName] = runner
}

// SetDefault sets the runner used when no action-specific runner is
// registered.
func (r *Registry) SetDefault(runner Runner) {
	r.def = runner
}

// Run dispatches to the action-specific runner if one is registered, else
// the default.
func (r *Registry) Run(ctx context.Context, idempotencyKey, actionName string, input map[string]interface{}) (Result, error) {
	if runner, ok := r.runners[actionName]; ok {
		return runner.Run(ctx, idempotencyKey, actionName, input)
	}
	if r.def != nil {
		return r.def.Run(ctx, idempotencyKey, actionName, input)
	}
	return Result{}, errUnregisteredAction(actionName)
}

type errUnregisteredAction string

func (e errUnregisteredAction) Error() string {
	return "no runner registered for action " + string(e)
}
