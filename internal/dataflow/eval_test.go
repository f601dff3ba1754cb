package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateExpression_DottedAccess(t *testing.T) {
	e := NewEvaluator()
	ctx := map[string]interface{}{
		"fetch": map[string]interface{}{"status": int64(200), "body": "hello"},
	}

	result, err := e.EvaluateExpression("fetch.status", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), result)

	result, err = e.EvaluateExpression("fetch.body", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestEvaluateExpression_Malformed(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvaluateExpression("fetch.(((", map[string]interface{}{})
	require.Error(t, err)

	var exprErr *ExpressionError
	require.ErrorAs(t, err, &exprErr)
	require.ErrorIs(t, err, ErrMalformedExpression)
}

func TestEvaluateCondition(t *testing.T) {
	e := NewEvaluator()

	ok, err := e.EvaluateCondition("fetch.status == 200", map[string]interface{}{
		"fetch": map[string]interface{}{"status": int64(200)},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateCondition("fetch.status == 404", map[string]interface{}{
		"fetch": map[string]interface{}{"status": int64(200)},
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateCondition_NonBooleanIsTruthy(t *testing.T) {
	e := NewEvaluator()

	ok, err := e.EvaluateCondition(`"non-empty"`, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateCondition(`""`, map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateMap_MixedLiteralsAndExpressions(t *testing.T) {
	e := NewEvaluator()
	ctx := map[string]interface{}{"fetch": map[string]interface{}{"body": "payload"}}

	spec := map[string]interface{}{
		"data":    "fetch.body",
		"literal": int64(42),
		"nested": map[string]interface{}{
			"inner": "fetch.body",
		},
	}

	out, err := e.EvaluateMap(spec, ctx)
	require.NoError(t, err)
	assert.Equal(t, "payload", out["data"])
	assert.Equal(t, int64(42), out["literal"])
	nested, ok := out["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "payload", nested["inner"])
}

func TestEvaluateMap_PropagatesError(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvaluateMap(map[string]interface{}{"bad": "((("}, map[string]interface{}{})
	assert.Error(t, err)
}

func TestEvaluateExpression_ListLength(t *testing.T) {
	e := NewEvaluator()
	ctx := map[string]interface{}{
		"items": []interface{}{int64(1), int64(2), int64(3)},
	}
	result, err := e.EvaluateExpression("len(items)", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result)
}
