// Package dataflow implements the expression evaluator that produces task
// inputs and workflow output from published data (SPEC_FULL §4.3).
package dataflow

import (
	"errors"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ExpressionError wraps a failure to evaluate an expression. The engine
// converts it to a task or workflow ERROR (SPEC_FULL §7).
type ExpressionError struct {
	Expression string
	Err        error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression error in %q: %v", e.Expression, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// ErrMalformedExpression is wrapped by ExpressionError when an expression
// fails to parse or evaluate.
var ErrMalformedExpression = errors.New("malformed expression")

// maxExecutionSteps bounds every evaluation so a pathological expression
// cannot hang the dispatcher; it also rules out unbounded recursion, the
// only way a side-effect-free Starlark expression could fail to terminate.
const maxExecutionSteps = 10000

// AttrDict exposes a Go map to Starlark both as a mapping (ctx["key"]) and
// via attribute access (ctx.key), matching how workflow authors expect to
// write dotted-path expressions over published context.
type AttrDict struct {
	dict *starlark.Dict
}

var (
	_ starlark.Value      = (*AttrDict)(nil)
	_ starlark.Mapping    = (*AttrDict)(nil)
	_ starlark.HasAttrs   = (*AttrDict)(nil)
	_ starlark.Iterable   = (*AttrDict)(nil)
	_ starlark.Comparable = (*AttrDict)(nil)
)

func newAttrDict(data map[string]interface{}) *AttrDict {
	dict := starlark.NewDict(len(data))
	for k, v := range data {
		_ = dict.SetKey(starlark.String(k), goToStarlark(v))
	}
	return &AttrDict{dict: dict}
}

func (d *AttrDict) String() string        { return d.dict.String() }
func (d *AttrDict) Type() string          { return "attrdict" }
func (d *AttrDict) Freeze()               { d.dict.Freeze() }
func (d *AttrDict) Truth() starlark.Bool  { return d.dict.Truth() }
func (d *AttrDict) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: attrdict") }

func (d *AttrDict) Get(key starlark.Value) (v starlark.Value, found bool, err error) {
	return d.dict.Get(key)
}

func (d *AttrDict) Iterate() starlark.Iterator {
	return d.dict.Iterate()
}

func (d *AttrDict) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other, ok := y.(*AttrDict)
	if !ok {
		return false, nil
	}
	return starlark.Compare(op, d.dict, other.dict)
}

func (d *AttrDict) Attr(name string) (starlark.Value, error) {
	val, found, err := d.dict.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, starlark.NoSuchAttrError(fmt.Sprintf("attrdict has no .%s field", name))
	}
	return val, nil
}

func (d *AttrDict) AttrNames() []string {
	var names []string
	for _, item := range d.dict.Items() {
		if key, ok := item[0].(starlark.String); ok {
			names = append(names, string(key))
		}
	}
	sort.Strings(names)
	return names
}

func (d *AttrDict) Items() []starlark.Tuple { return d.dict.Items() }

// Evaluator evaluates workflow expressions over a context map. It is
// deterministic and side-effect free: Starlark's own standard dialect
// offers no I/O, clock, or randomness primitives, and maxExecutionSteps
// bounds any runaway recursion, together satisfying SPEC_FULL §4.3's
// determinism and totality requirement.
type Evaluator struct{}

// NewEvaluator returns a ready-to-use Evaluator. It holds no state.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// EvaluateCondition evaluates expression as a boolean successor condition.
func (e *Evaluator) EvaluateCondition(expression string, ctx map[string]interface{}) (bool, error) {
	result, err := e.EvaluateExpression(expression, ctx)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return isTruthy(v), nil
	}
}

// EvaluateExpression evaluates expression over ctx and returns a plain Go
// value (string, bool, int64, float64, []interface{}, map[string]interface{}, nil).
func (e *Evaluator) EvaluateExpression(expression string, ctx map[string]interface{}) (interface{}, error) {
	thread := &starlark.Thread{Name: "expression"}
	thread.SetMaxExecutionSteps(maxExecutionSteps)

	globals := make(starlark.StringDict, len(ctx))
	for k, v := range ctx {
		globals[k] = goToStarlark(v)
	}

	fileOpts := syntax.FileOptions{}
	expr, err := fileOpts.ParseExpr("expression", expression, 0)
	if err != nil {
		return nil, &ExpressionError{Expression: expression, Err: fmt.Errorf("%w: %v", ErrMalformedExpression, err)}
	}

	result, err := starlark.EvalExprOptions(&fileOpts, thread, expr, globals)
	if err != nil {
		return nil, &ExpressionError{Expression: expression, Err: fmt.Errorf("%w: %v", ErrMalformedExpression, err)}
	}

	return convertFromStarlark(result), nil
}

// EvaluateMap evaluates every string value in spec as an expression over
// ctx, leaving non-string values (nested literals) as-is. This is how a
// task's `input`/`publish` expression maps (SPEC_FULL §3) are computed.
func (e *Evaluator) EvaluateMap(spec map[string]interface{}, ctx map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(spec))
	for key, value := range spec {
		switch v := value.(type) {
		case string:
			result, err := e.EvaluateExpression(v, ctx)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = result
		case map[string]interface{}:
			nested, err := e.EvaluateMap(v, ctx)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = nested
		default:
			out[key] = v
		}
	}
	return out, nil
}

func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	case nil:
		return false
	default:
		return true
	}
}

func goToStarlark(v interface{}) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, elem := range val {
			elems[i] = goToStarlark(elem)
		}
		return starlark.NewList(elems)
	case map[string]interface{}:
		return newAttrDict(val)
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

func convertFromStarlark(v starlark.Value) interface{} {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		i, _ := val.Int64()
		return i
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case *starlark.List:
		result := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			result[i] = convertFromStarlark(val.Index(i))
		}
		return result
	case *starlark.Dict:
		result := make(map[string]interface{})
		for _, item := range val.Items() {
			if key, ok := convertFromStarlark(item[0]).(string); ok {
				result[key] = convertFromStarlark(item[1])
			}
		}
		return result
	case *AttrDict:
		result := make(map[string]interface{})
		for _, item := range val.Items() {
			if key, ok := convertFromStarlark(item[0]).(string); ok {
				result[key] = convertFromStarlark(item[1])
			}
		}
		return result
	default:
		return val.String()
	}
}
