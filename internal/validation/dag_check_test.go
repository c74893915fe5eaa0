package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphcompose/pkg/schema"
)

func chain(names ...string) *schema.GraphDefinition {
	ops := make([]schema.OperationDef, len(names))
	var deps []schema.DependencyDefinition
	for i, n := range names {
		ops[i] = opDef(n, "core.identity")
		if i > 0 {
			deps = append(deps, depDef(n, schema.Ref(names[i-1])))
		}
	}
	return graphDef(nil, ops, deps...)
}

func TestDAG_NoCycle_Linear(t *testing.T) {
	result := validateDAG(chain("a", "b", "c"))
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestDAG_NoCycle_Diamond(t *testing.T) {
	def := graphDef(nil,
		[]schema.OperationDef{opDef("a", "x.y"), opDef("b", "x.y"), opDef("c", "x.y"), opDef("d", "x.y")},
		depDef("b", schema.Ref("a")),
		depDef("c", schema.Ref("a")),
		depDef("d", schema.Ref("b"), schema.Ref("c")),
	)
	assert.True(t, validateDAG(def).Valid())
}

func TestDAG_SimpleCycle(t *testing.T) {
	def := chain("a", "b")
	def.Spec.Dependencies = append(def.Spec.Dependencies, depDef("a", schema.Ref("b")))

	result := validateDAG(def)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "[a b]")
}

func TestDAG_SelfCycle(t *testing.T) {
	def := graphDef(nil, []schema.OperationDef{opDef("a", "x.y")}, depDef("a", schema.Ref("a")))
	result := validateDAG(def)
	assert.True(t, result.HasCode(schema.ErrCodeCycleDetected))
}

func TestDAG_CycleBehindValidPrefix(t *testing.T) {
	def := chain("root", "x", "y", "z")
	def.Spec.Dependencies[0].Inputs = append(def.Spec.Dependencies[0].Inputs, schema.Ref("z"))

	result := validateDAG(def)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "[x y z]")
	assert.NotContains(t, result.Errors[0].Message, "root")
}

func TestDAG_RepeatedSourceIsNotACycle(t *testing.T) {
	def := graphDef(map[string]any{"x": 2},
		[]schema.OperationDef{opDef("sq", "math.multiply")},
		depDef("sq", schema.Ref("x"), schema.Ref("x")),
	)
	result := validateDAG(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestDAG_UnusedInputWarning(t *testing.T) {
	def := graphDef(map[string]any{"x": 1, "unused": 2, "also": 3},
		[]schema.OperationDef{opDef("a", "core.identity")},
		depDef("a", schema.Ref("x")),
	)
	result := validateDAG(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "spec.inputs.also", result.Warnings[0].Path)
	assert.Equal(t, "spec.inputs.unused", result.Warnings[1].Path)
}

func TestDAG_AggregateReferenceCountsAsUse(t *testing.T) {
	def := graphDef(map[string]any{"x": 1, "y": 2},
		[]schema.OperationDef{opDef("a", "core.identity")},
		depDef("a", schema.RefAt("inputs", "/x")),
	)
	result := validateDAG(def)
	assert.Empty(t, result.Warnings)
}

func TestDAG_SkipsInvalidRefs(t *testing.T) {
	def := graphDef(nil, []schema.OperationDef{opDef("a", "x.y")}, depDef("a", schema.Ref("ghost")))
	assert.True(t, validateDAG(def).Valid())
}
