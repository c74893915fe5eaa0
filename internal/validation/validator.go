// Package validation checks ComposableGraph documents before they are built:
// structure (JSON Schema), semantics (names, references, operation paths) and
// the dependency graph (cycles, unused inputs).
package validation

import "github.com/rendis/graphcompose/pkg/schema"

// Validator checks graph definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for document and input validation.
type Validator interface {
	ValidateDefinition(def *schema.GraphDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}
