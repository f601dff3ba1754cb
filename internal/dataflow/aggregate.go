package dataflow

// AggregationMode selects how with-items / parallel-branch outputs are
// combined into a single task output (SPEC_FULL §4.4).
type AggregationMode string

const (
	AggregateMerge AggregationMode = "merge"
	AggregateArray AggregationMode = "array"
	AggregateFirst AggregationMode = "first"
)

// AggregateItemOutputs combines the per-item outputs of a with-items task
// (keyed by item index, in item order) according to mode. This mirrors the
// merge/array/first reduction the teacher applies to parallel branch
// outputs, generalized from branch names to item indices.
func AggregateItemOutputs(outputs []interface{}, mode AggregationMode) interface{} {
	if mode == "" {
		mode = AggregateArray
	}

	switch mode {
	case AggregateFirst:
		if len(outputs) == 0 {
			return nil
		}
		return outputs[0]

	case AggregateMerge:
		result := make(map[string]interface{}, len(outputs))
		for _, out := range outputs {
			m, ok := out.(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range m {
				result[k] = v
			}
		}
		return result

	case AggregateArray:
		fallthrough
	default:
		results := make([]interface{}, len(outputs))
		copy(results, outputs)
		return map[string]interface{}{"results": results}
	}
}
