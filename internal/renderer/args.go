package renderer

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/loom/internal/errors"
)

// ParseArgs orders named values by params. Values are YAML scalars or
// flow collections, so "3" is an int and "[a, b]" a list; a value that is
// not valid YAML stays a string. Parameters without a value get nil.
func ParseArgs(params []string, values map[string]string) ([]interface{}, error) {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p] = true
	}
	for name := range values {
		if !known[name] {
			return nil, errors.NewValidationError(errors.ErrCodeBadArguments,
				fmt.Sprintf("unknown parameter %q (declared: %s)", name, strings.Join(params, ", ")))
		}
	}

	args := make([]interface{}, len(params))
	for i, p := range params {
		if raw, ok := values[p]; ok {
			args[i] = parseValue(raw)
		}
	}
	return args, nil
}

// ParseValues parses every value the way ParseArgs does.
func ParseValues(values map[string]string) map[string]interface{} {
	parsed := make(map[string]interface{}, len(values))
	for name, raw := range values {
		parsed[name] = parseValue(raw)
	}
	return parsed
}

func parseValue(raw string) interface{} {
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// SplitAssignments parses name=value pairs.
func SplitAssignments(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.NewValidationError(errors.ErrCodeBadArguments,
				fmt.Sprintf("parameter %q is not name=value", pair))
		}
		values[name] = value
	}
	return values, nil
}
