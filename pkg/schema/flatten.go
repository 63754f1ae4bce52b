package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is one flattened key-path/value entry of a submission payload.
type Pair struct {
	Path  string
	Value interface{}
}

// FlattenValues converts a nested submission payload into dotted
// key-path pairs. Nested maps recurse with a parent.child path; slices
// of maps (repeating groups) use a numeric path segment. Keys within a
// map are emitted sorted so flattening is deterministic regardless of
// Go's map iteration order.
func FlattenValues(values map[string]interface{}) []Pair {
	var pairs []Pair
	flattenInto("", values, &pairs)
	return pairs
}

func flattenInto(prefix string, values map[string]interface{}, pairs *[]Pair) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch v := values[k].(type) {
		case map[string]interface{}:
			flattenInto(path, v, pairs)
		case []interface{}:
			if rows, ok := sliceOfMaps(v); ok {
				for i, row := range rows {
					flattenInto(fmt.Sprintf("%s.%d", path, i), row, pairs)
				}
				continue
			}
			*pairs = append(*pairs, Pair{Path: path, Value: joinScalars(v)})
		default:
			*pairs = append(*pairs, Pair{Path: path, Value: v})
		}
	}
}

func sliceOfMaps(v []interface{}) ([]map[string]interface{}, bool) {
	if len(v) == 0 {
		return nil, false
	}
	rows := make([]map[string]interface{}, 0, len(v))
	for _, item := range v {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		rows = append(rows, row)
	}
	return rows, true
}

// joinScalars renders a flat list value (multi-select answers) as a
// single semicolon-separated cell.
func joinScalars(v []interface{}) string {
	parts := make([]string, 0, len(v))
	for _, item := range v {
		parts = append(parts, fmt.Sprintf("%v", item))
	}
	return strings.Join(parts, "; ")
}
