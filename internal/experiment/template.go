package experiment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Expand substitutes $name and ${name} references in text with values. A
// literal dollar is written as $$. Referencing a name that isn't in values is
// an error.
func Expand(text string, values map[string]any) (string, error) {
	var missing []string

	out := os.Expand(text, func(name string) string {
		if name == "$" {
			return "$"
		}

		v, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return ""
		}

		return formatValue(v)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf(
			"missing template values: %s",
			strings.Join(missing, ", "),
		)
	}

	return out, nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
