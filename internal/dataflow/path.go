package dataflow

import (
	"fmt"
	"strings"
)

// ApplyPath resolves a "$.field.nested" style dotted path against data,
// returning the value at that path. A bare "$" or empty path returns data
// unchanged, matching the $.field convention used in task `input` and
// `output` expressions (SPEC_FULL §4.3).
func ApplyPath(data map[string]interface{}, path string) (interface{}, error) {
	if path == "" || path == "$" {
		return data, nil
	}

	trimmed := strings.TrimPrefix(path, "$.")
	return getNestedValue(data, trimmed)
}

func getNestedValue(data map[string]interface{}, path string) (interface{}, error) {
	if path == "" {
		return data, nil
	}

	parts := strings.Split(path, ".")
	var current interface{} = data

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot traverse path %q: not an object at %q", path, part)
		}
		val, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("path %q not found at %q", path, part)
		}
		current = val
	}

	return current, nil
}

// SetNestedValue writes value into data at the given dotted path, creating
// intermediate maps as needed.
func SetNestedValue(data map[string]interface{}, path string, value interface{}) {
	if path == "" {
		return
	}

	parts := strings.Split(path, ".")
	current := data

	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}
