package validation

import (
	"fmt"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/pointer"
	"github.com/rendis/graphcompose/pkg/schema"
)

// validateSemantic checks node names and references.
// Checks: unique node names (operations and initial data), operation paths
// resolvable, dependency targets and sources declared, pointer syntax.
func validateSemantic(def *schema.GraphDefinition, lookup operations.Resolver) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// kind of each node name: "input" or "operation".
	nodes := make(map[string]string, len(def.Spec.Inputs)+len(def.Spec.Operations)+1)
	for k := range def.Spec.Inputs {
		nodes[k] = "input"
	}
	if len(def.Spec.Inputs) > 0 {
		if _, clash := nodes[schema.DefaultInputsNode]; clash {
			result.AddError("spec.inputs."+schema.DefaultInputsNode, schema.ErrCodeDuplicateNode,
				fmt.Sprintf("input key %q collides with the aggregate inputs node", schema.DefaultInputsNode))
		}
		nodes[schema.DefaultInputsNode] = "input"
	}

	checked := make(map[string]bool, len(def.Spec.Operations))
	for i, op := range def.Spec.Operations {
		path := fmt.Sprintf("spec.operations[%d]", i)

		if kind, exists := nodes[op.Name]; exists {
			msg := fmt.Sprintf("node %q is defined more than once", op.Name)
			if kind == "input" {
				msg = fmt.Sprintf("operation %q shadows an initial-data node", op.Name)
			}
			result.AddError(path+".name", schema.ErrCodeDuplicateNode, msg)
		} else {
			nodes[op.Name] = "operation"
		}

		if lookup != nil && !checked[op.Function] {
			checked[op.Function] = true
			if _, err := lookup.Resolve(op.Function); err != nil {
				result.AddError(path+".function", schema.ErrCodeOperationLoad, errorMessage(err))
			}
		}
	}

	fed := make(map[string]bool, len(def.Spec.Dependencies))
	for i, dep := range def.Spec.Dependencies {
		path := fmt.Sprintf("spec.dependencies[%d]", i)

		switch nodes[dep.Name] {
		case "operation":
		case "input":
			result.AddError(path+".name", schema.ErrCodeUnknownOperation,
				fmt.Sprintf("%q is an initial-data node and takes no inputs", dep.Name))
		default:
			result.AddError(path+".name", schema.ErrCodeUnknownOperation,
				fmt.Sprintf("feeds undeclared operation %q", dep.Name))
		}

		if fed[dep.Name] {
			result.AddError(path+".name", schema.ErrCodeDuplicateNode,
				fmt.Sprintf("dependencies for %q are declared more than once", dep.Name))
		}
		fed[dep.Name] = true

		if len(dep.Inputs) == 0 {
			result.AddWarning(path+".inputs", schema.ErrCodeValidation,
				fmt.Sprintf("dependency entry for %q has no inputs", dep.Name))
		}

		for j, in := range dep.Inputs {
			inPath := fmt.Sprintf("%s.inputs[%d]", path, j)
			if _, ok := nodes[in.Node]; !ok {
				result.AddError(inPath, schema.ErrCodeUnknownOperation,
					fmt.Sprintf("references undeclared node %q", in.Node))
			}
			if in.Pointer != "" {
				if err := pointer.Validate(in.Pointer); err != nil {
					result.AddError(inPath+".pointer", schema.ErrCodePointerResolution, errorMessage(err))
				}
			}
		}
	}

	return result
}

// errorMessage returns the GraphError message without its code prefix.
func errorMessage(err error) string {
	if gErr, ok := err.(*schema.GraphError); ok {
		return gErr.Message
	}
	return err.Error()
}
