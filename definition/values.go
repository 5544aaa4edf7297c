// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"fmt"
	"math"

	"github.com/goccy/go-yaml"
)

// DecodeValue parses a YAML or JSON value, such as a pipeline input given
// on the command line. Integers come back as int, floats as float64, lists
// as []any and mappings as map[string]any.
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return normalize(v), nil
}

// normalize converts decoded YAML into the plain shapes pipeline functions
// expect.
func normalize(v any) any {
	switch x := v.(type) {
	case uint64:
		if x <= math.MaxInt {
			return int(x)
		}
	case int64:
		if x >= math.MinInt && x <= math.MaxInt {
			return int(x)
		}
	case uint:
		if x <= math.MaxInt {
			return int(x)
		}
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	}
	return v
}
