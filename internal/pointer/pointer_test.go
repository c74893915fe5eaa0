package pointer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphcompose/pkg/schema"
)

func TestResolve_RootAddressesWholeValue(t *testing.T) {
	record := map[string]any{"result": 5}

	for _, p := range []string{"", "/"} {
		got, err := Resolve(record, p)
		require.NoError(t, err)
		assert.Equal(t, record, got)
	}
}

func TestResolve_ScalarRoundTrip(t *testing.T) {
	v := struct{ N int }{N: 3}
	got, err := Resolve(map[string]any{"result": v}, "/result")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestResolve_Nested(t *testing.T) {
	record := map[string]any{"outer": map[string]any{"inner": 7}}

	got, err := Resolve(record, "/outer/inner")
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	_, err = Resolve(record, "/outer/missing")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodePointerResolution))

	var gErr *schema.GraphError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, "missing", gErr.Details["segment"])
	assert.Equal(t, "/outer/missing", gErr.Details["pointer"])
	assert.Contains(t, gErr.Message, "/outer")
}

func TestResolve_Sequences(t *testing.T) {
	record := map[string]any{
		"items": []any{"a", map[string]any{"b": true}},
		"ints":  []int{10, 20, 30},
		"arr":   [2]string{"x", "y"},
	}

	got, err := Resolve(record, "/items/1/b")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = Resolve(record, "/ints/2")
	require.NoError(t, err)
	assert.Equal(t, 30, got)

	got, err = Resolve(record, "/arr/0")
	require.NoError(t, err)
	assert.Equal(t, "x", got)

	for _, p := range []string{"/items/2", "/items/-1", "/items/01", "/items/x", "/items/", "/ints/-"} {
		_, err := Resolve(record, p)
		assert.True(t, schema.IsCode(err, schema.ErrCodePointerResolution), p)
	}
}

func TestResolve_TypedMaps(t *testing.T) {
	type label string
	record := map[string]any{
		"counts": map[string]int{"a": 1},
		"labels": map[label]string{"k": "v"},
		"byInt":  map[int]string{1: "one"},
		"ptr":    &map[string]any{"deep": "yes"},
	}

	got, err := Resolve(record, "/counts/a")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = Resolve(record, "/labels/k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	got, err = Resolve(record, "/ptr/deep")
	require.NoError(t, err)
	assert.Equal(t, "yes", got)

	_, err = Resolve(record, "/byInt/1")
	assert.True(t, schema.IsCode(err, schema.ErrCodePointerResolution))
}

func TestResolve_DescendIntoScalarFails(t *testing.T) {
	_, err := Resolve(map[string]any{"result": 5}, "/result/x")
	assert.True(t, schema.IsCode(err, schema.ErrCodePointerResolution))

	_, err = Resolve(map[string]any{"result": nil}, "/result/x")
	assert.True(t, schema.IsCode(err, schema.ErrCodePointerResolution))
}

func TestResolve_NilValuePresent(t *testing.T) {
	got, err := Resolve(map[string]any{"result": nil}, "/result")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParse_Escapes(t *testing.T) {
	tokens, err := Parse("/a~1b/c~0d/~01")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "c~d", "~1"}, tokens)

	got, err := Resolve(map[string]any{"a/b": map[string]any{"c~d": 1}}, "/a~1b/c~0d")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestParse_Invalid(t *testing.T) {
	for _, p := range []string{"result", "/a~2", "/a~"} {
		err := Validate(p)
		require.Error(t, err, p)
		assert.True(t, schema.IsCode(err, schema.ErrCodePointerResolution), p)
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/", Join())
	assert.Equal(t, "/result", Join("result"))
	assert.Equal(t, "/a~1b/c~0d", Join("a/b", "c~d"))
}
