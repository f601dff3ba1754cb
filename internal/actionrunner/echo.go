package actionrunner

import "context"

// EchoRunner returns its input unchanged as output. Useful for testing
// workflow graph shape without a real action backend.
type EchoRunner struct{}

func (EchoRunner) Run(ctx context.Context, idempotencyKey, actionName string, input map[string]interface{}) (Result, error) {
	return Result{Success: true, Output: input}, nil
}
