package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/graphcompose/pkg/schema"
)

// validateDAG performs graph analysis over every node:
// cycle detection (Kahn's algorithm) and unused initial-data entries.
func validateDAG(def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodes := make(map[string]bool, len(def.Spec.Operations)+len(def.Spec.Inputs)+1)
	for k := range def.Spec.Inputs {
		nodes[k] = true
	}
	if len(def.Spec.Inputs) > 0 {
		nodes[schema.DefaultInputsNode] = true
	}
	for _, op := range def.Spec.Operations {
		nodes[op.Name] = true
	}

	// edges[n] = distinct sources of n, reverse[n] = dependents of n.
	edges := make(map[string][]string, len(nodes))
	reverse := make(map[string][]string, len(nodes))
	referenced := make(map[string]bool, len(nodes))

	for _, dep := range def.Spec.Dependencies {
		seen := make(map[string]bool, len(dep.Inputs))
		for _, in := range dep.Inputs {
			if !nodes[in.Node] || !nodes[dep.Name] {
				continue // invalid refs already caught by semantic
			}
			referenced[in.Node] = true
			if seen[in.Node] {
				continue
			}
			seen[in.Node] = true
			edges[dep.Name] = append(edges[dep.Name], in.Node)
			reverse[in.Node] = append(reverse[in.Node], dep.Name)
		}
	}

	inDegree := make(map[string]int, len(nodes))
	for n := range nodes {
		inDegree[n] = len(edges[n])
	}

	queue := make([]string, 0, len(nodes))
	for n, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, d := range reverse[n] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if visited != len(nodes) {
		var stuck []string
		for n, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, n)
			}
		}
		sort.Strings(stuck)
		result.AddError("spec.dependencies", schema.ErrCodeCycleDetected,
			fmt.Sprintf("graph contains a dependency cycle through %v", stuck))
		return result
	}

	// Initial data nobody reads, directly or through the aggregate node.
	if !referenced[schema.DefaultInputsNode] {
		keys := make([]string, 0, len(def.Spec.Inputs))
		for k := range def.Spec.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !referenced[k] {
				result.AddWarning("spec.inputs."+k, schema.ErrCodeValidation,
					fmt.Sprintf("input %q is never referenced", k))
			}
		}
	}

	return result
}
