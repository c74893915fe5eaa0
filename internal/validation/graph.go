package validation

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/pkg/schema"
)

// GraphValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node names, references, operation paths)
// 3. DAG (cycles, unused inputs)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
	operations operations.Resolver
}

// NewGraphValidator creates a GraphValidator.
// lookup may be nil to skip operation resolution checks.
func NewGraphValidator(lookup operations.Resolver) (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{
		jsonSchema: jsv,
		operations: lookup,
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (gv *GraphValidator) Validate(def *schema.GraphDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph definition is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(gv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	if len(def.Spec.InputSchema) > 0 {
		result.Merge(gv.validateInputDefaults(def))
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(def, gv.operations))

	// Stage 3: DAG, only when names and references are sound.
	if result.Valid() {
		result.Merge(validateDAG(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (gv *GraphValidator) ValidateDefinition(def *schema.GraphDefinition) error {
	return gv.Validate(def).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (gv *GraphValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return gv.jsonSchema.ValidateInput(input, inputSchema)
}

// ValidateOverrides checks run-level overrides: every key must be an
// initial-data entry, and the merged inputs must satisfy spec.inputSchema
// when one is declared.
func (gv *GraphValidator) ValidateOverrides(def *schema.GraphDefinition, overrides map[string]any) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph definition is nil")
	}

	var unknown []string
	for k := range overrides {
		if _, ok := def.Spec.Inputs[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown input override(s): %v", unknown).
			WithDetails(map[string]any{"unknown": unknown})
	}

	if len(def.Spec.InputSchema) == 0 {
		return nil
	}
	raw, err := json.Marshal(def.Spec.InputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input schema").WithCause(err)
	}
	return gv.jsonSchema.ValidateInput(MergeInputs(def.Spec.Inputs, overrides), raw)
}

// MergeInputs returns defaults with overrides applied.
func MergeInputs(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func (gv *GraphValidator) validateInputDefaults(def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	raw, err := json.Marshal(def.Spec.InputSchema)
	if err == nil {
		err = gv.jsonSchema.CompileSchema(raw)
	}
	if err != nil {
		result.AddError("spec.inputSchema", schema.ErrCodeValidation, errorMessage(err))
		return result
	}

	inputs := def.Spec.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	if err := gv.jsonSchema.ValidateInput(inputs, raw); err != nil {
		// Defaults may be completed per run.
		result.AddWarning("spec.inputs", schema.ErrCodeValidation,
			"defaults do not satisfy spec.inputSchema: "+errorMessage(err))
	}
	return result
}

// validateStructural converts JSON Schema violations into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	var gErr *schema.GraphError
	if !errors.As(err, &gErr) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := gErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, gErr.Message)
	return result
}
