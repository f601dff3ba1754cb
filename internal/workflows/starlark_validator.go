package workflows

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// StarlarkValidator validates the Starlark expressions embedded in a
// WorkflowSpec (task inputs, publish mappings, successor conditions, the
// workflow output expression) at load time, using go.starlark.net/syntax.Parse
// so malformed expressions are rejected as InvalidModel (SPEC_FULL §7)
// before any execution is ever scheduled.
type StarlarkValidator struct{}

// NewStarlarkValidator creates a new StarlarkValidator instance.
func NewStarlarkValidator() *StarlarkValidator {
	return &StarlarkValidator{}
}

// ValidateWorkflowExpressions validates every expression reachable from spec.
func (v *StarlarkValidator) ValidateWorkflowExpressions(spec *WorkflowSpec) []ValidationIssue {
	var issues []ValidationIssue
	if spec == nil {
		return issues
	}

	if spec.Output != "" {
		if err := v.validateExpression(spec.Output); err != nil {
			issues = append(issues, ValidationIssue{
				Code:    "STARLARK_SYNTAX_ERROR",
				Path:    "/output",
				Message: fmt.Sprintf("invalid Starlark syntax in workflow output: %v", err),
				Actual:  truncateExpression(spec.Output, 100),
			})
		}
	}

	issues = append(issues, v.validateSuccessors(spec.Policies.All(), "/")...)

	for name, task := range spec.Tasks {
		path := fmt.Sprintf("/tasks/%s", name)
		for key, value := range task.Input {
			if expr, ok := value.(string); ok {
				if err := v.validateExpression(expr); err != nil {
					issues = append(issues, ValidationIssue{
						Code:    "STARLARK_SYNTAX_ERROR",
						Path:    fmt.Sprintf("%s/input/%s", path, key),
						Message: fmt.Sprintf("invalid Starlark syntax in task input: %v", err),
						Actual:  truncateExpression(expr, 100),
					})
				}
			}
		}
		for key, value := range task.Publish {
			if expr, ok := value.(string); ok {
				if err := v.validateExpression(expr); err != nil {
					issues = append(issues, ValidationIssue{
						Code:    "STARLARK_SYNTAX_ERROR",
						Path:    fmt.Sprintf("%s/publish/%s", path, key),
						Message: fmt.Sprintf("invalid Starlark syntax in task publish: %v", err),
						Actual:  truncateExpression(expr, 100),
					})
				}
			}
		}
		issues = append(issues, v.validateSuccessors(task.Policies.All(), path)...)
	}

	return issues
}

func (v *StarlarkValidator) validateSuccessors(successors []Successor, path string) []ValidationIssue {
	var issues []ValidationIssue
	for _, s := range successors {
		if s.Condition == "" {
			continue
		}
		if err := v.validateExpression(s.Condition); err != nil {
			issues = append(issues, ValidationIssue{
				Code:    "STARLARK_SYNTAX_ERROR",
				Path:    fmt.Sprintf("%s/on-*/%s", path, s.Task),
				Message: fmt.Sprintf("invalid Starlark syntax in successor condition: %v", err),
				Actual:  truncateExpression(s.Condition, 100),
			})
		}
	}
	return issues
}

// validateExpression parses expression the same way the evaluator wraps it
// at runtime (dataflow.Evaluator), so validation rejects exactly what
// evaluation would reject.
func (v *StarlarkValidator) validateExpression(expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}

	wrapped := fmt.Sprintf("__result__ = (%s)", expression)
	_, err := syntax.Parse("expression.star", wrapped, 0)
	if err != nil {
		return simplifyStarlarkError(err)
	}
	return nil
}

// simplifyStarlarkError extracts the core error message from syntax.Parse errors.
func simplifyStarlarkError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if idx := strings.Index(errStr, ": "); idx != -1 {
		rest := errStr[idx+2:]
		if idx2 := strings.Index(rest, ": "); idx2 != -1 {
			return fmt.Errorf("%s", rest[idx2+2:])
		}
	}
	return err
}

func truncateExpression(expr string, maxLen int) string {
	expr = strings.ReplaceAll(expr, "\n", " ")
	expr = strings.Join(strings.Fields(expr), " ")
	if len(expr) > maxLen {
		return expr[:maxLen-3] + "..."
	}
	return expr
}
