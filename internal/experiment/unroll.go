package experiment

import (
	"fmt"
	"strconv"
)

var templateSections = []string{"model", "solver"}

// merge deep merges src into dst and returns dst. Nested mappings are merged
// key by key; anything else in src replaces what's in dst.
func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		dm, dok := dst[k].(map[string]any)
		sm, sok := v.(map[string]any)

		if dok && sok {
			merge(dm, sm)
			continue
		}

		dst[k] = deepCopy(v)
	}

	return dst
}

func deepCopy(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}

type unrollKey struct {
	section string
	name    string
	values  []any
}

// unroll expands list-valued model and solver values into one experiment per
// combination and expands each experiment's path template.
func unroll(e map[string]any) ([]map[string]any, error) {
	var keys []unrollKey

	for _, section := range templateSections {
		values := sectionValues(e, section)

		for _, name := range sortedKeys(values) {
			if list, ok := values[name].([]any); ok {
				keys = append(keys, unrollKey{section, name, list})
			}
		}
	}

	mode, err := stringField(e, "unroll")
	if err != nil {
		return nil, err
	}

	var combinations [][]any

	switch {
	case len(keys) == 0:
		combinations = [][]any{nil}
	case mode == "zip":
		combinations = zip(keys)
	case mode == "product":
		combinations = product(keys)
	default:
		return nil, fmt.Errorf("unknown unroll mode '%s'", mode)
	}

	out := make([]map[string]any, 0, len(combinations))

	for _, combination := range combinations {
		flat := deepCopy(e).(map[string]any)

		for i, v := range combination {
			sectionValues(flat, keys[i].section)[keys[i].name] = v
		}

		if err := expandPath(flat); err != nil {
			return nil, err
		}

		out = append(out, flat)
	}

	return out, nil
}

func zip(keys []unrollKey) [][]any {
	n := len(keys[0].values)
	for _, k := range keys[1:] {
		n = min(n, len(k.values))
	}

	out := make([][]any, n)
	for i := range n {
		out[i] = make([]any, len(keys))
		for j, k := range keys {
			out[i][j] = k.values[i]
		}
	}

	return out
}

func product(keys []unrollKey) [][]any {
	out := [][]any{{}}

	for _, k := range keys {
		next := make([][]any, 0, len(out)*len(k.values))

		for _, prefix := range out {
			for _, v := range k.values {
				combination := make([]any, len(prefix), len(prefix)+1)
				copy(combination, prefix)
				next = append(next, append(combination, v))
			}
		}

		out = next
	}

	return out
}

func expandPath(e map[string]any) error {
	path, err := stringField(e, "path")
	if err != nil {
		return err
	}

	values := make(map[string]any)

	for _, section := range templateSections {
		for k, v := range sectionValues(e, section) {
			// Floats in paths get six significant digits.
			if f, ok := v.(float64); ok {
				v = strconv.FormatFloat(f, 'g', 6, 64)
			}

			values[section+"_"+k] = v
		}
	}

	expanded, err := Expand(path, values)
	if err != nil {
		return fmt.Errorf("expand path: %w", err)
	}

	e["path"] = expanded

	return nil
}
