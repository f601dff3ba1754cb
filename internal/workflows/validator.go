package workflows

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ValidateSpec parses and validates a workflow document, returning both
// errors and warnings (SPEC_FULL §4.1). A non-nil error is always
// ErrValidation; the returned *WorkflowSpec is non-nil whenever parsing
// succeeded, even if validation found errors, so callers can inspect it.
func ValidateSpec(raw json.RawMessage) (*WorkflowSpec, ValidationResult, error) {
	var result ValidationResult
	if len(raw) == 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "EMPTY_SPEC",
			Path:    "/",
			Message: "workflow spec document is required",
			Hint:    "Pass a document with version, name, type, and tasks.",
		})
		return nil, result, ErrValidation
	}

	var spec WorkflowSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "INVALID_SPEC",
			Path:    "/",
			Message: fmt.Sprintf("failed to parse workflow spec: %v", err),
			Hint:    "Ensure the document is valid JSON or YAML matching the workflow schema.",
		})
		return nil, result, ErrValidation
	}
	spec.normalizeTaskNames()

	if spec.Name == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "MISSING_WORKFLOW_NAME",
			Path:    "/name",
			Message: "workflows must declare a name",
			Hint:    "Add a 'name' field to the workflow document.",
		})
	}

	switch spec.Type {
	case TypeDirect, TypeReverse:
	case "":
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "MISSING_TYPE",
			Path:    "/type",
			Message: "workflow type is required",
			Hint:    "Set type: direct or type: reverse.",
		})
	default:
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "INVALID_TYPE",
			Path:    "/type",
			Message: fmt.Sprintf("unknown workflow type %q", spec.Type),
			Actual:  string(spec.Type),
			Expected: []string{string(TypeDirect), string(TypeReverse)},
			Hint:    "type must be 'direct' or 'reverse'.",
		})
	}

	if len(spec.Tasks) == 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "MISSING_TASKS",
			Path:    "/tasks",
			Message: "at least one task is required",
			Hint:    "Add a 'tasks' map with at least one entry.",
		})
	}

	for name, task := range spec.Tasks {
		path := fmt.Sprintf("/tasks/%s", name)

		hasAction := task.Action != ""
		hasWorkflow := task.WorkflowRef != ""
		switch {
		case hasAction == hasWorkflow:
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "TASK_ACTION_OR_WORKFLOW",
				Path:    path,
				Message: "a task must declare exactly one of 'action' or 'workflow'",
				Hint:    "Set either 'action: my-action' or 'workflow: my-sub-workflow', not both or neither.",
			})
		}

		if task.Join != nil && !task.Join.All && task.Join.N <= 0 {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "INVALID_JOIN",
				Path:    path + "/join",
				Message: "join must be 'all' or a positive integer",
				Hint:    `Set join: "all" or join: <N> with N > 0.`,
			})
		}

		if task.Retry != nil && task.Retry.Count < 0 {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "INVALID_RETRY_COUNT",
				Path:    path + "/retry/count",
				Message: "retry.count must be non-negative",
			})
		}

		if task.WaitBefore == "" && task.WaitAfter == "" && task.Timeout == "" {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Code:    "NO_WAIT_OR_TIMEOUT",
				Path:    path,
				Message: "no wait-before, wait-after, or timeout configured",
				Hint:    "Consider setting a timeout for actions that may hang.",
			})
		}

		checkSuccessors(task.Policies.All(), spec, path, &result)
	}

	checkSuccessors(spec.Policies.All(), spec, "/", &result)

	switch spec.Type {
	case TypeDirect:
		if spec.StartTask == "" {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "MISSING_START_TASK",
				Path:    "/start-task",
				Message: "direct workflows require a start-task",
				Hint:    "Set 'start-task' to the name of the first task to run.",
			})
		} else if _, ok := spec.Tasks[spec.StartTask]; !ok {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "UNKNOWN_START_TASK",
				Path:    "/start-task",
				Message: fmt.Sprintf("start-task %q does not exist", spec.StartTask),
				Actual:  spec.StartTask,
				Hint:    "start-task must reference a key in 'tasks'.",
			})
		}
	case TypeReverse:
		if spec.Output == "" {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Code:    "NO_OUTPUT_EXPRESSION",
				Path:    "/output",
				Message: "reverse workflows typically declare an 'output' expression naming the requested results",
			})
		}
	}

	starlarkIssues := NewStarlarkValidator().ValidateWorkflowExpressions(&spec)
	result.Errors = append(result.Errors, starlarkIssues...)

	if len(result.Errors) > 0 {
		return &spec, result, ErrValidation
	}
	return &spec, result, nil
}

func checkSuccessors(successors []Successor, spec WorkflowSpec, path string, result *ValidationResult) {
	for _, s := range successors {
		if _, ok := spec.Tasks[s.Task]; !ok {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "UNKNOWN_SUCCESSOR_TASK",
				Path:    path,
				Message: fmt.Sprintf("successor references unknown task %q", s.Task),
				Actual:  s.Task,
				Hint:    "Every successor task name must exist in 'tasks'.",
			})
		}
	}
}
