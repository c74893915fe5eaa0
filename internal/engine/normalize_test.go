package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/pointer"
)

type point struct{ X, Y int }

func TestNormalizer_WrapsNonMappings(t *testing.T) {
	n := NewNormalizer("result")

	tests := []struct {
		name string
		in   any
	}{
		{"int", 5},
		{"string", "hello"},
		{"nil", nil},
		{"slice", []any{1, 2}},
		{"struct", point{1, 2}},
		{"pointer", &point{1, 2}},
		{"int-keyed map", map[int]string{1: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ResultRecord{"result": tt.in}, n.Normalize(tt.in))
		})
	}
}

func TestNormalizer_PassesMappingsThrough(t *testing.T) {
	n := NewNormalizer("result")

	assert.Equal(t, ResultRecord{"sum": 13, "diff": 7}, n.Normalize(map[string]any{"sum": 13, "diff": 7}))
	assert.Equal(t, ResultRecord{"sum": 13}, n.Normalize(operations.Outputs{"sum": 13}))
	assert.Equal(t, ResultRecord{"a": 1, "b": 2}, n.Normalize(map[string]int{"a": 1, "b": 2}))
	assert.Equal(t, ResultRecord{"result": 1}, n.Normalize(map[string]any{"result": 1}))
	assert.Equal(t, ResultRecord{}, n.Normalize(map[string]any(nil)))
}

func TestNormalizer_CopiesMappings(t *testing.T) {
	n := NewNormalizer("result")

	raw := map[string]any{"sum": 13}
	rec := n.Normalize(raw)
	raw["sum"] = 0
	raw["late"] = 1
	assert.Equal(t, ResultRecord{"sum": 13}, rec)

	out := operations.Outputs{"diff": 7}
	rec = n.Normalize(out)
	out["diff"] = 0
	assert.Equal(t, ResultRecord{"diff": 7}, rec)
}

func TestNormalizer_Key(t *testing.T) {
	assert.Equal(t, "result", NewNormalizer("").Key())
	assert.Equal(t, "result", Normalizer{}.Key())
	assert.Equal(t, ResultRecord{"value": 3}, NewNormalizer("value").Normalize(3))
}

func TestNormalizer_ScalarPointerRoundTrip(t *testing.T) {
	n := NewNormalizer("result")
	for _, v := range []any{5, "s", 2.5, []any{"x"}, nil, true} {
		got, err := pointer.Resolve(n.Normalize(v), "/result")
		assert.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
