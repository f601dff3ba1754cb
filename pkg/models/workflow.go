package models

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state shared by WorkflowExecution and TaskExecution.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
	StateDelayed State = "DELAYED"
	StateSuccess State = "SUCCESS"
	StateError   State = "ERROR"
)

// IsTerminal reports whether s has no further valid outbound transition.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateError
}

// WorkflowExecution is one run of a WorkflowSpec.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	SpecName        string          `json:"spec_name"`
	SpecNamespace   string          `json:"spec_namespace"`
	SpecVersion     int64           `json:"spec_version"`
	State           State           `json:"state"`
	Input           json.RawMessage `json:"input,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	ErrorReason     *string         `json:"error_reason,omitempty"`
	ParentExecution *string         `json:"parent_execution,omitempty"`
	ParentTaskID    *string         `json:"parent_task_id,omitempty"`
	ProjectID       string          `json:"project_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TaskExecution is one scheduled instance of a TaskSpec within a WorkflowExecution.
type TaskExecution struct {
	ID             string          `json:"id"`
	WorkflowExecID string          `json:"workflow_execution_id"`
	TaskName       string          `json:"task_name"`
	Spec           json.RawMessage `json:"spec_snapshot"`
	State          State           `json:"state"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	ErrorReason    *string         `json:"error_reason,omitempty"`
	Attempt        int             `json:"attempt"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
	JoinArrived    int             `json:"join_arrived"`   // predecessors that have reported terminal, success or failure
	JoinSatisfied  int             `json:"join_satisfied"` // predecessors that reported SUCCESS
	JoinTotal      int             `json:"join_total"`     // total number of inbound edges feeding this task
	JoinRequired   int             `json:"join_required"`  // N for join:N; ignored for join:all
	JoinIsAll      bool            `json:"join_is_all"`
	ChildWorkflow  *string         `json:"child_workflow_execution_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ActionExecution is one attempt (or with-items item) of invoking an action for a TaskExecution.
type ActionExecution struct {
	ID          string          `json:"id"`
	TaskExecID  string          `json:"task_execution_id"`
	ActionName  string          `json:"action_name"`
	ItemIndex   int             `json:"item_index"`
	Attempt     int             `json:"attempt"`
	IdempotencyKey string       `json:"idempotency_key"`
	State       State           `json:"state"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	ErrorReason *string         `json:"error_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DelayedCallKind identifies why a DelayedCall was enqueued.
type DelayedCallKind string

const (
	DelayKindWaitBefore DelayedCallKind = "wait-before"
	DelayKindWaitAfter  DelayedCallKind = "wait-after"
	DelayKindRetry      DelayedCallKind = "retry"
	DelayKindTimeout    DelayedCallKind = "timeout"
)

// DelayedCall is a persisted timer entry polled by the delay service (SPEC_FULL §4.7).
type DelayedCall struct {
	ID             string          `json:"id"`
	Kind           DelayedCallKind `json:"kind"`
	WorkflowExecID string          `json:"workflow_execution_id"`
	TaskExecID     *string         `json:"task_execution_id,omitempty"`
	Deadline       time.Time       `json:"deadline"`
	Fired          bool            `json:"fired"`
	CreatedAt      time.Time       `json:"created_at"`
}
