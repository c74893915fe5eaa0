package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphcompose/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

// --- Interface compliance ---

func TestEngines_ImplementEngine(t *testing.T) {
	var _ Engine = (*CELEngine)(nil)
	var _ Engine = (*ExprEngine)(nil)
	var _ Engine = (*GoJQEngine)(nil)
}

func TestEngines_Names(t *testing.T) {
	assert.Equal(t, "cel", newCEL(t).Name())
	assert.Equal(t, "expr", NewExprEngine().Name())
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

// --- CEL ---

func TestCEL_ArgsArithmetic(t *testing.T) {
	out, err := newCEL(t).Evaluate(context.Background(), "args[0] * args[1]", ArgsData([]any{4, 25}))
	require.NoError(t, err)
	assert.Equal(t, int64(100), out)
}

func TestCEL_StringConcatenation(t *testing.T) {
	out, err := newCEL(t).Evaluate(context.Background(), `args[0] + " " + args[1]`, ArgsData([]any{"hello", "world"}))
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCEL_MissingArgsDefaultsToEmptyList(t *testing.T) {
	out, err := newCEL(t).Evaluate(context.Background(), "size(args)", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out)
}

func TestCEL_CompileError(t *testing.T) {
	err := newCEL(t).Compile("args[0] +")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCEL_UndeclaredVariable(t *testing.T) {
	err := newCEL(t).Compile("inputs.a")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCEL_RuntimeError(t *testing.T) {
	_, err := newCEL(t).Evaluate(context.Background(), "args[3]", ArgsData([]any{1}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestCEL_Empty(t *testing.T) {
	_, err := newCEL(t).Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

// --- Expr ---

func TestExpr_ArgsArithmetic(t *testing.T) {
	out, err := NewExprEngine().Evaluate(context.Background(), "args[0] * 2", ArgsData([]any{5}))
	require.NoError(t, err)
	assert.Equal(t, 10, out)
}

func TestExpr_MapLiteral(t *testing.T) {
	out, err := NewExprEngine().Evaluate(context.Background(),
		`{"sum": args[0] + args[1], "diff": args[0] - args[1]}`, ArgsData([]any{10, 3}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 13, "diff": 7}, out)
}

func TestExpr_NilDataUsesEmptyArgs(t *testing.T) {
	out, err := NewExprEngine().Evaluate(context.Background(), "len(args)", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestExpr_CompileError(t *testing.T) {
	err := NewExprEngine().Compile("args[0] +")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestExpr_CacheConcurrent(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "args[0] + 1", ArgsData([]any{n}))
			assert.NoError(t, err)
			assert.Equal(t, n+1, out)
		}(i)
	}
	wg.Wait()
	assert.Len(t, e.cache, 1)
}

// --- GoJQ ---

func TestGoJQ_ArgsArithmetic(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), ".args[0] * .args[1]", ArgsData([]any{4, 25}))
	require.NoError(t, err)
	assert.Equal(t, float64(100), out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), ".args[]", ArgsData([]any{"a", "b"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_NoOutput(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), "empty", ArgsData(nil))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_EnvironmentSandboxed(t *testing.T) {
	t.Setenv("GRAPHCOMPOSE_SECRET", "shh")
	out, err := NewGoJQEngine().Evaluate(context.Background(), "$ENV.GRAPHCOMPOSE_SECRET", ArgsData(nil))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	err := e.Compile(".args[")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `error("boom")`, ArgsData(nil))
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestNormalizeForJQ(t *testing.T) {
	in := map[string]any{"a": 1, "b": []any{int64(2), int32(3), float32(1.5)}, "c": "s", "d": nil}
	out := normalizeForJQ(in)
	assert.Equal(t, map[string]any{"a": 1.0, "b": []any{2.0, 3.0, 1.5}, "c": "s", "d": nil}, out)
}
