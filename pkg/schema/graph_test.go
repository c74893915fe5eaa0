package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiplyDoc = `
apiVersion: truevoid.dev/v1alpha1
kind: ComposableGraph
metadata:
  name: Multiply Inputs
  annotations:
    team: data
spec:
  description: multiplies two inputs
  inputs:
    x: 4
    y: 25
  operations:
    - name: multiply
      function: math.multiply
  dependencies:
    - name: multiply
      inputs:
        - x
        - node: inputs
          pointer: /y
`

func TestParseDefinition_YAML(t *testing.T) {
	def, err := ParseDefinition([]byte(multiplyDoc))
	require.NoError(t, err)

	assert.Equal(t, "Multiply Inputs", def.Metadata.Name)
	assert.Equal(t, "data", def.Annotation("team"))
	assert.Equal(t, "", def.Annotation("missing"))
	assert.Equal(t, "multiplies two inputs", def.Spec.Description)
	assert.Equal(t, 4, def.Spec.Inputs["x"])
	assert.Equal(t, 25, def.Spec.Inputs["y"])

	require.Len(t, def.Spec.Operations, 1)
	assert.Equal(t, OperationDef{Name: "multiply", Function: "math.multiply"}, def.Spec.Operations[0])

	require.Len(t, def.Spec.Dependencies, 1)
	dep := def.Spec.Dependencies[0]
	assert.Equal(t, "multiply", dep.Name)
	assert.Equal(t, []InputBinding{Ref("x"), RefAt("inputs", "/y")}, dep.Inputs)
}

func TestParseDefinition_JSON(t *testing.T) {
	doc := `{
	  "apiVersion": "truevoid.dev/v1alpha1",
	  "kind": "ComposableGraph",
	  "metadata": {"name": "json-graph"},
	  "spec": {
	    "operations": [{"name": "a", "function": "core.identity"}],
	    "dependencies": [{"name": "a", "inputs": [{"node": "b", "pointer": "/out"}, "c"]}]
	  }
	}`
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []InputBinding{RefAt("b", "/out"), Ref("c")}, def.Spec.Dependencies[0].Inputs)
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"empty", "   \n", "empty"},
		{"wrong api version", "apiVersion: v2\nkind: ComposableGraph\nmetadata: {name: g}\nspec: {operations: []}\n", "apiVersion"},
		{"wrong kind", "apiVersion: truevoid.dev/v1alpha1\nkind: Job\nmetadata: {name: g}\nspec: {operations: []}\n", "kind"},
		{"missing name", "apiVersion: truevoid.dev/v1alpha1\nkind: ComposableGraph\nmetadata: {}\nspec: {operations: []}\n", "metadata.name"},
		{"unknown field", "apiVersion: truevoid.dev/v1alpha1\nkind: ComposableGraph\nmetadata: {name: g}\nspec: {operations: [], executor: multiprocess}\n", "executor"},
		{"binding sequence", "apiVersion: truevoid.dev/v1alpha1\nkind: ComposableGraph\nmetadata: {name: g}\nspec:\n  operations: []\n  dependencies:\n    - name: a\n      inputs: [[b]]\n", "input binding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeValidation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestInputBinding_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]InputBinding{Ref("a"), RefAt("b", "/sum")})
	require.NoError(t, err)
	assert.JSONEq(t, `["a", {"node": "b", "pointer": "/sum"}]`, string(data))
}

func TestInputBinding_ExplicitEmptyPointer(t *testing.T) {
	doc := `
apiVersion: truevoid.dev/v1alpha1
kind: ComposableGraph
metadata:
  name: whole record
spec:
  operations:
    - name: split
      function: core.fields
    - name: whole
      function: core.identity
  dependencies:
    - name: whole
      inputs:
        - node: split
          pointer: ""
        - node: split
        - split
`
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)

	inputs := def.Spec.Dependencies[0].Inputs
	require.Len(t, inputs, 3)
	assert.Equal(t, RefAt("split", ""), inputs[0])
	assert.True(t, inputs[0].HasPointer())
	assert.False(t, inputs[1].HasPointer())
	assert.False(t, inputs[2].HasPointer())

	data, err := json.Marshal(inputs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"node": "split", "pointer": ""}, "split", "split"]`, string(data))

	var back []InputBinding
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, inputs, back)
}

func TestLoadDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	second := `{"apiVersion": "truevoid.dev/v1alpha1", "kind": "ComposableGraph", "metadata": {"name": "b"}, "spec": {"operations": []}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(second), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(multiplyDoc), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	defs, err := LoadDefinitionDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "Multiply Inputs", defs[0].Metadata.Name)
	assert.Equal(t, "b", defs[1].Metadata.Name)
}

func TestLoadDefinitionFile_Missing(t *testing.T) {
	_, err := LoadDefinitionFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNotFound))
}

func TestLoadDefinitionFile_InvalidRecordsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: Nope\n"), 0o600))

	_, err := LoadDefinitionFile(path)
	var gErr *GraphError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, path, gErr.Details["file"])
}

func TestIsCode_Wrapped(t *testing.T) {
	inner := NewError(ErrCodePointerResolution, "missing")
	outer := NewError(ErrCodeExecution, "node failed").WithCause(inner)

	assert.True(t, IsCode(outer, ErrCodeExecution))
	assert.True(t, IsCode(outer, ErrCodePointerResolution))
	assert.False(t, IsCode(outer, ErrCodeCycleDetected))
	assert.False(t, IsCode(nil, ErrCodeExecution))
}
