package engine

import (
	"github.com/rendis/graphcompose/pkg/schema"
)

// Plan is the static evaluation order of an ExecutionGraph.
type Plan struct {
	Sorted  []string            `json:"sorted"`  // topological order
	Roots   []string            `json:"roots"`   // nodes with no dependencies
	Levels  [][]string          `json:"levels"`  // nodes whose dependencies are all in earlier levels
	Reverse map[string][]string `json:"reverse"` // node -> dependents
}

// Plan sorts g with Kahn's algorithm. Ties are broken by name so the result is
// deterministic. A cycle yields CYCLE_DETECTED listing the nodes left unsorted.
func (g *ExecutionGraph) Plan() (*Plan, error) {
	if len(g.Operations) == 0 {
		return &Plan{Reverse: map[string][]string{}}, nil
	}

	// Distinct sources per node; one node may bind the same source twice.
	sources := make(map[string][]string, len(g.Operations))
	reverse := make(map[string][]string, len(g.Operations))
	for node := range g.Operations {
		seen := make(map[string]bool)
		for _, e := range g.Dependencies[node] {
			if seen[e.Source] {
				continue
			}
			seen[e.Source] = true
			sources[node] = append(sources[node], e.Source)
			reverse[e.Source] = append(reverse[e.Source], node)
		}
	}

	inDegree := make(map[string]int, len(g.Operations))
	for node := range g.Operations {
		inDegree[node] = len(sources[node])
	}

	queue := make([]string, 0)
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}
	sortStrings(queue)
	roots := make([]string, len(queue))
	copy(roots, queue)

	sorted := make([]string, 0, len(g.Operations))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(reverse[node]))
		copy(dependents, reverse[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.Operations) {
		var stuck []string
		for node, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, node)
			}
		}
		sortStrings(stuck)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "graph %q contains a cycle through %v", g.Name, stuck).
			WithDetails(map[string]any{"nodes": stuck})
	}

	for node := range reverse {
		sortStrings(reverse[node])
	}

	return &Plan{
		Sorted:  sorted,
		Roots:   roots,
		Levels:  computeLevels(sorted, sources),
		Reverse: reverse,
	}, nil
}

// computeLevels groups nodes by topological depth.
func computeLevels(sorted []string, sources map[string][]string) [][]string {
	depth := make(map[string]int, len(sorted))
	maxLevel := 0
	for _, node := range sorted {
		d := 0
		for _, src := range sources[node] {
			if depth[src]+1 > d {
				d = depth[src] + 1
			}
		}
		depth[node] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, node := range sorted {
		levels[depth[node]] = append(levels[depth[node]], node)
	}
	return levels
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
