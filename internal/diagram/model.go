package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindInput     NodeKind = "input"     // one initial-data entry
	NodeKindInputs    NodeKind = "inputs"    // the aggregate initial-data node
	NodeKindOperation NodeKind = "operation" // a resolved operation
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title       string
	Description string
	Nodes       []*Node
	Edges       []Edge
	Levels      [][]string
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID       string
	Label    string
	Function string // operation path, empty for initial data
	Kind     NodeKind
	Status   *StatusOverlay
}

// StatusOverlay carries the recorded state of a node from a run.
type StatusOverlay struct {
	Status     string // from store.NodeStatus
	DurationMs int64
	Error      string
}

// Edge represents one positional argument binding. Label is empty when the
// binding uses the default output pointer.
type Edge struct {
	From     string
	To       string
	Label    string
	Position int
}
