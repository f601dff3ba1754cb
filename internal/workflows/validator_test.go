package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasIssueCode(issues []ValidationIssue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func TestValidateSpec_Empty(t *testing.T) {
	spec, result, err := ValidateSpec(nil)
	require.ErrorIs(t, err, ErrValidation)
	assert.Nil(t, spec)
	assert.True(t, hasIssueCode(result.Errors, "EMPTY_SPEC"))
}

func TestValidateSpec_Malformed(t *testing.T) {
	_, result, err := ValidateSpec([]byte("{not valid json or yaml: [}"))
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "INVALID_SPEC"))
}

func TestValidateSpec_MissingRequiredFields(t *testing.T) {
	_, result, err := ValidateSpec([]byte(`{"tasks":{}}`))
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "MISSING_WORKFLOW_NAME"))
	assert.True(t, hasIssueCode(result.Errors, "MISSING_TYPE"))
	assert.True(t, hasIssueCode(result.Errors, "MISSING_TASKS"))
}

func TestValidateSpec_InvalidType(t *testing.T) {
	_, result, err := ValidateSpec([]byte(`{"name":"x","type":"sideways","tasks":{"a":{"action":"x","timeout":"1s"}},"start-task":"a"}`))
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "INVALID_TYPE"))
}

func TestValidateSpec_TaskMustHaveExactlyOneOfActionOrWorkflow(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "direct", "start-task": "a",
		"tasks": {"a": {"timeout": "1s"}}
	}`)
	_, result, err := ValidateSpec(doc)
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "TASK_ACTION_OR_WORKFLOW"))

	doc = []byte(`{
		"name": "x", "type": "direct", "start-task": "a",
		"tasks": {"a": {"action": "http.get", "workflow": "sub", "timeout": "1s"}}
	}`)
	_, result, err = ValidateSpec(doc)
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "TASK_ACTION_OR_WORKFLOW"))
}

func TestValidateSpec_InvalidJoin(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "direct", "start-task": "a",
		"tasks": {"a": {"action": "http.get", "join": 0, "timeout": "1s"}}
	}`)
	_, result, err := ValidateSpec(doc)
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "INVALID_JOIN"))
}

func TestValidateSpec_UnknownSuccessor(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "direct", "start-task": "a",
		"tasks": {"a": {"action": "http.get", "timeout": "1s", "on-success": [{"task": "ghost"}]}}
	}`)
	_, result, err := ValidateSpec(doc)
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "UNKNOWN_SUCCESSOR_TASK"))
}

func TestValidateSpec_DirectRequiresKnownStartTask(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "direct", "start-task": "ghost",
		"tasks": {"a": {"action": "http.get", "timeout": "1s"}}
	}`)
	_, result, err := ValidateSpec(doc)
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "UNKNOWN_START_TASK"))
}

func TestValidateSpec_ReverseWithoutOutputWarns(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "reverse",
		"tasks": {"a": {"action": "http.get", "timeout": "1s"}}
	}`)
	spec, result, err := ValidateSpec(doc)
	require.NoError(t, err)
	require.NotNil(t, spec)
	assert.True(t, result.OK())
	assert.True(t, hasIssueCode(result.Warnings, "NO_OUTPUT_EXPRESSION"))
}

func TestValidateSpec_WarnsWhenNoWaitOrTimeout(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "direct", "start-task": "a",
		"tasks": {"a": {"action": "http.get"}}
	}`)
	spec, result, err := ValidateSpec(doc)
	require.NoError(t, err)
	require.NotNil(t, spec)
	assert.True(t, hasIssueCode(result.Warnings, "NO_WAIT_OR_TIMEOUT"))
}

func TestValidateSpec_BadStarlarkExpression(t *testing.T) {
	doc := []byte(`{
		"name": "x", "type": "direct", "start-task": "a",
		"tasks": {"a": {"action": "http.get", "timeout": "1s", "input": {"url": "((("}}}
	}`)
	_, result, err := ValidateSpec(doc)
	require.ErrorIs(t, err, ErrValidation)
	assert.True(t, hasIssueCode(result.Errors, "STARLARK_SYNTAX_ERROR"))
}

func TestValidateSpec_ValidDocumentHasNoErrors(t *testing.T) {
	doc := []byte(`{
		"name": "demo", "type": "direct", "start-task": "fetch",
		"tasks": {
			"fetch": {"action": "http.get", "timeout": "5s", "on-success": [{"task": "notify"}]},
			"notify": {"action": "slack.post", "timeout": "5s"}
		}
	}`)
	spec, result, err := ValidateSpec(doc)
	require.NoError(t, err)
	require.NotNil(t, spec)
	assert.True(t, result.OK())
	assert.Equal(t, "demo", spec.Name)
	assert.Equal(t, "fetch", spec.Tasks["fetch"].Name)
}
