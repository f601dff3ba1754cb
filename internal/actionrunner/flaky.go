package actionrunner

import (
	"context"
	"sync"
)

// FlakyRunner fails its first FailCount invocations of a given
// idempotency key and succeeds afterward, letting tests exercise the task
// FSM's retry path deterministically without wall-clock sleeps.
type FlakyRunner struct {
	FailCount int

	mu       sync.Mutex
	attempts map[string]int
}

func NewFlakyRunner(failCount int) *FlakyRunner {
	return &FlakyRunner{FailCount: failCount, attempts: make(map[string]int)}
}

func (f *FlakyRunner) Run(ctx context.Context, idempotencyKey, actionName string, input map[string]interface{}) (Result, error) {
	f.mu.Lock()
	f.attempts[idempotencyKey]++
	attempt := f.attempts[idempotencyKey]
	f.mu.Unlock()

	if attempt <= f.FailCount {
		return Result{Success: false, Reason: "flaky runner: simulated failure"}, nil
	}
	return Result{Success: true, Output: input}, nil
}
