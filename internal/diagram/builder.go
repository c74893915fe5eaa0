package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/graphcompose/internal/engine"
	"github.com/rendis/graphcompose/internal/pointer"
	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/pkg/schema"
)

// Build constructs a DiagramModel from a built graph, its definition (for
// operation paths and the description) and optional node results of a run.
// Nodes are listed in topological order.
func Build(def *schema.GraphDefinition, g *engine.ExecutionGraph, results []*store.NodeResult) (*DiagramModel, error) {
	if g == nil {
		return nil, fmt.Errorf("diagram: execution graph is nil")
	}
	plan, err := g.Plan()
	if err != nil {
		return nil, fmt.Errorf("diagram: plan graph: %w", err)
	}

	functions := make(map[string]string)
	model := &DiagramModel{Title: g.Name, Levels: plan.Levels}
	if def != nil {
		for _, op := range def.Spec.Operations {
			functions[op.Name] = op.Function
		}
		model.Description = def.Spec.Description
	}

	resultMap := make(map[string]*store.NodeResult, len(results))
	for _, r := range results {
		resultMap[r.Node] = r
	}

	for _, id := range plan.Sorted {
		node := &Node{ID: id, Label: id, Kind: nodeKind(g, id), Function: functions[id]}
		overlayStatus(node, resultMap[id])
		model.Nodes = append(model.Nodes, node)
	}

	model.Edges = buildEdges(g, plan.Sorted)
	return model, nil
}

func nodeKind(g *engine.ExecutionGraph, id string) NodeKind {
	if !g.IsInput(id) {
		return NodeKindOperation
	}
	if _, ok := g.Inputs[id]; ok {
		return NodeKindInput
	}
	return NodeKindInputs
}

// overlayStatus copies a recorded node result onto node.
func overlayStatus(node *Node, r *store.NodeResult) {
	if r == nil {
		return
	}
	node.Status = &StatusOverlay{
		Status:     string(r.Status),
		DurationMs: r.DurationMs,
	}
	if len(r.Error) > 0 {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(r.Error, &e) == nil && e.Message != "" {
			node.Status.Error = e.Message
		} else {
			node.Status.Error = string(r.Error)
		}
	}
}

// buildEdges lists argument bindings target by target in topological order.
func buildEdges(g *engine.ExecutionGraph, sorted []string) []Edge {
	defaultPointer := pointer.Join(g.OutputKey)
	var edges []Edge
	for _, target := range sorted {
		for i, e := range g.Dependencies[target] {
			label := ""
			if e.Pointer != defaultPointer {
				label = e.Pointer
				if label == "" {
					label = "/"
				}
			}
			edges = append(edges, Edge{From: e.Source, To: target, Label: label, Position: i})
		}
	}
	return edges
}
