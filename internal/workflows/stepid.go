package workflows

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ActionContext contains the execution context needed to generate a
// deterministic idempotency key for one ActionExecution (SPEC_FULL §4.4's
// with-items fan-out).
type ActionContext struct {
	WorkflowExecID string
	TaskID         string
	ItemIndex      int // -1 if the task has no with-items
	Attempt        int
}

// GenerateActionID creates a deterministic id from execution context.
// Formula: sha256(workflow_exec_id + task_id + item_index + attempt)[:16]
//
// This ensures:
//   - the same (execution, task, item, attempt) always yields the same id,
//     so a replayed action_done event cannot double-count a with-items
//     aggregate (P5).
//   - different contexts never collide.
func GenerateActionID(ctx ActionContext) string {
	parts := []string{ctx.WorkflowExecID, ctx.TaskID}

	if ctx.ItemIndex >= 0 {
		parts = append(parts, fmt.Sprintf("item[%d]", ctx.ItemIndex))
	}
	parts = append(parts, fmt.Sprintf("attempt[%d]", ctx.Attempt))

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])[:16]
}

// StableActionKey is the idempotency key handed to an external ActionRunner.
// Unlike GenerateActionID it excludes attempt: a runner uses this key to
// recognize "this is the same logical call as before" across retries of the
// same (execution, task, item), not a fresh identity per attempt.
func StableActionKey(ctx ActionContext) string {
	parts := []string{ctx.WorkflowExecID, ctx.TaskID}
	if ctx.ItemIndex >= 0 {
		parts = append(parts, fmt.Sprintf("item[%d]", ctx.ItemIndex))
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])[:16]
}

// IdempotencyKey returns a string suitable for NATS message headers.
// Format: workflowExecID:taskID:attempt
func IdempotencyKey(workflowExecID, taskID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", workflowExecID, taskID, attempt)
}

// ParseIdempotencyKey extracts workflowExecID, taskID, and attempt from an
// idempotency key produced by IdempotencyKey.
func ParseIdempotencyKey(key string) (workflowExecID, taskID string, attempt int, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", 0, false
	}

	workflowExecID = parts[0]
	taskID = parts[1]

	if _, err := fmt.Sscanf(parts[2], "%d", &attempt); err != nil {
		return "", "", 0, false
	}

	return workflowExecID, taskID, attempt, true
}
