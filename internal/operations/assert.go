package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/rendis/graphcompose/pkg/schema"
)

// AssertOperations returns guard operations. Each passes its checked value
// through on success and fails the node with ASSERTION_FAILED otherwise.
func AssertOperations() []Entry {
	return []Entry{
		{Name: "equals", Description: "Returns actual when it deeply equals expected: (expected, actual)", Op: Func(assertEquals)},
		{Name: "contains", Description: "Returns haystack when the string or list contains needle: (haystack, needle)", Op: Func(assertContains)},
		{Name: "matches", Description: "Returns value and its first match when value matches pattern: (value, pattern)", Op: Func(assertMatches)},
	}
}

// normalizeJSON converts Go numeric types to float64 for consistent deep-equal comparison.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}

func assertEquals(_ context.Context, args []any) (any, error) {
	if err := arity("assert.equals", args, 2); err != nil {
		return nil, err
	}
	expected, actual := args[0], args[1]
	if reflect.DeepEqual(normalizeJSON(expected), normalizeJSON(actual)) {
		return actual, nil
	}
	return nil, schema.NewError(schema.ErrCodeAssertionFailed, "assertion failed: values are not equal").
		WithDetails(map[string]any{"expected": expected, "actual": actual})
}

func assertContains(_ context.Context, args []any) (any, error) {
	if err := arity("assert.contains", args, 2); err != nil {
		return nil, err
	}
	haystack, needle := args[0], args[1]
	failed := schema.NewError(schema.ErrCodeAssertionFailed, "assertion failed: value not found").
		WithDetails(map[string]any{"haystack": haystack, "needle": needle})

	switch hs := haystack.(type) {
	case string:
		if strings.Contains(hs, fmt.Sprintf("%v", needle)) {
			return haystack, nil
		}
		return nil, failed
	case []any:
		normalizedNeedle := normalizeJSON(needle)
		for _, item := range hs {
			if reflect.DeepEqual(normalizeJSON(item), normalizedNeedle) {
				return haystack, nil
			}
		}
		return nil, failed
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"assert.contains: haystack must be string or list, got %T", haystack)
	}
}

func assertMatches(_ context.Context, args []any) (any, error) {
	if err := arity("assert.matches", args, 2); err != nil {
		return nil, err
	}
	value, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, argError("assert.matches", 0, err)
	}
	pattern, err := cast.ToStringE(args[1])
	if err != nil {
		return nil, argError("assert.matches", 1, err)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "assert.matches: invalid pattern: %s", err)
	}
	match := re.FindString(value)
	if !re.MatchString(value) {
		return nil, schema.NewError(schema.ErrCodeAssertionFailed, "assertion failed: value does not match pattern").
			WithDetails(map[string]any{"value": value, "pattern": pattern})
	}
	return Outputs{"result": value, "match": match}, nil
}
