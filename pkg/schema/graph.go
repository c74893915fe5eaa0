package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Fixed document header values.
const (
	APIVersion          = "truevoid.dev/v1alpha1"
	KindComposableGraph = "ComposableGraph"
)

// Canonical names shared by the builder, the normalizer and the document format.
const (
	DefaultOutputKey     = "result"
	DefaultOutputPointer = "/result"
	DefaultInputsNode    = "inputs"
)

// ScheduleAnnotation is the metadata annotation holding a 5-field cron expression.
const ScheduleAnnotation = "graphcompose.dev/schedule"

// GraphDefinition is the declarative ComposableGraph document.
type GraphDefinition struct {
	APIVersion string    `json:"apiVersion" yaml:"apiVersion"`
	Kind       string    `json:"kind" yaml:"kind"`
	Metadata   Metadata  `json:"metadata" yaml:"metadata"`
	Spec       GraphSpec `json:"spec" yaml:"spec"`
}

// Metadata identifies a graph. Annotations are free-form tags copied onto runs.
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

// GraphSpec is the body of a graph document.
type GraphSpec struct {
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs       map[string]any         `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	InputSchema  map[string]any         `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	Operations   []OperationDef         `json:"operations" yaml:"operations"`
	Dependencies []DependencyDefinition `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// OperationDef declares a node backed by the operation at Function.
type OperationDef struct {
	Name     string `json:"name" yaml:"name"`
	Function string `json:"function" yaml:"function"`
}

// DependencyDefinition feeds the node Name. Inputs order is the positional argument order.
type DependencyDefinition struct {
	Name   string         `json:"name" yaml:"name"`
	Inputs []InputBinding `json:"inputs" yaml:"inputs"`
}

// InputBinding references a source node output. In documents it is either a
// bare node name or a {node, pointer} object. An absent pointer means the
// default output pointer; an explicit "" addresses the whole record.
type InputBinding struct {
	Node    string `json:"node" yaml:"node"`
	Pointer string `json:"pointer,omitempty" yaml:"pointer,omitempty"`

	// whole is set when the document spells out pointer: "".
	whole bool
}

// Ref returns a bare binding to node using the default pointer.
func Ref(node string) InputBinding {
	return InputBinding{Node: node}
}

// RefAt returns a binding to node at pointer. RefAt(node, "") addresses the
// whole record.
func RefAt(node, pointer string) InputBinding {
	return InputBinding{Node: node, Pointer: pointer, whole: pointer == ""}
}

// HasPointer reports whether the binding names its own pointer rather than
// relying on the default.
func (b InputBinding) HasPointer() bool {
	return b.Pointer != "" || b.whole
}

// inputBindingFields avoids recursion into the custom (un)marshalers. A nil
// Pointer means the key was absent.
type inputBindingFields struct {
	Node    string  `json:"node" yaml:"node"`
	Pointer *string `json:"pointer,omitempty" yaml:"pointer,omitempty"`
}

func (f inputBindingFields) binding() InputBinding {
	if f.Pointer == nil {
		return InputBinding{Node: f.Node}
	}
	return RefAt(f.Node, *f.Pointer)
}

func (b InputBinding) fields() inputBindingFields {
	p := b.Pointer
	return inputBindingFields{Node: b.Node, Pointer: &p}
}

// MarshalJSON emits the bare form when no pointer is set.
func (b InputBinding) MarshalJSON() ([]byte, error) {
	if !b.HasPointer() {
		return json.Marshal(b.Node)
	}
	return json.Marshal(b.fields())
}

// UnmarshalJSON accepts a string or an object.
func (b *InputBinding) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*b = InputBinding{Node: name}
		return nil
	}
	var f inputBindingFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("input binding must be a node name or {node, pointer}: %w", err)
	}
	*b = f.binding()
	return nil
}

// MarshalYAML emits the bare form when no pointer is set.
func (b InputBinding) MarshalYAML() (any, error) {
	if !b.HasPointer() {
		return b.Node, nil
	}
	return b.fields(), nil
}

// UnmarshalYAML accepts a scalar or a mapping.
func (b *InputBinding) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*b = InputBinding{Node: value.Value}
		return nil
	case yaml.MappingNode:
		var f inputBindingFields
		if err := value.Decode(&f); err != nil {
			return err
		}
		*b = f.binding()
		return nil
	default:
		return fmt.Errorf("line %d: input binding must be a node name or {node, pointer}", value.Line)
	}
}

// Annotation returns the metadata annotation for key, or "".
func (d *GraphDefinition) Annotation(key string) string {
	if d == nil || d.Metadata.Annotations == nil {
		return ""
	}
	return d.Metadata.Annotations[key]
}
