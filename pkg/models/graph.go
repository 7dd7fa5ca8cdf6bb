package models

// ExecutionGraph is the compiled, immutable form of a flow. It is built once
// at run start and read concurrently by branch executions without locking.
// Adjacency carries journey edges only; OutboundEdges carries every edge.
type ExecutionGraph struct {
	Nodes         map[string]*ExecutionNode `json:"nodes"`
	Adjacency     map[string][]string       `json:"adjacency"`
	OutboundEdges map[string][]CompiledEdge `json:"outbound_edges"`
	EntryNodes    []string                  `json:"entry_nodes"`
	TerminalNodes []string                  `json:"terminal_nodes"`
}

// ExecutionNode is a FlowNode with canvas-only fields stripped.
type ExecutionNode struct {
	ID             string              `json:"id"`
	Kind           NodeKind            `json:"kind"`
	WorkerType     string              `json:"worker_type,omitempty"`
	Config         map[string]any      `json:"config,omitempty"`
	InputSchema    map[string]any      `json:"input_schema,omitempty"`
	OutputSchema   map[string]any      `json:"output_schema,omitempty"`
	EntityMovement *EntityMovementRule `json:"entity_movement,omitempty"`
}

// CompiledEdge is the compact edge record kept in OutboundEdges.
type CompiledEdge struct {
	ID      string            `json:"id"`
	Target  string            `json:"target"`
	Type    EdgeType          `json:"type"`
	Mapping map[string]string `json:"mapping,omitempty"`
}

// Node returns the node for the given ID, or nil when absent.
func (g *ExecutionGraph) Node(id string) *ExecutionNode {
	return g.Nodes[id]
}

// HasNode reports whether the graph contains the given node ID.
func (g *ExecutionGraph) HasNode(id string) bool {
	_, ok := g.Nodes[id]

	return ok
}

// Predecessors returns the IDs of nodes with a journey edge into the given node.
func (g *ExecutionGraph) Predecessors(id string) []string {
	var preds []string

	for source, targets := range g.Adjacency {
		for _, target := range targets {
			if target == id {
				preds = append(preds, source)
			}
		}
	}

	return preds
}

// InboundJourneyCount returns the number of journey edges pointing at the node.
// A splitter predecessor widens this at run time; this is the static count.
func (g *ExecutionGraph) InboundJourneyCount(id string) int {
	count := 0

	for _, targets := range g.Adjacency {
		for _, target := range targets {
			if target == id {
				count++
			}
		}
	}

	return count
}

// JourneyEdge returns the journey edge from source to target, if one exists.
func (g *ExecutionGraph) JourneyEdge(source, target string) (CompiledEdge, bool) {
	for _, edge := range g.OutboundEdges[source] {
		if edge.Type == EdgeTypeJourney && edge.Target == target {
			return edge, true
		}
	}

	return CompiledEdge{}, false
}

// HasEdge reports whether any edge in the graph carries the given edge ID.
func (g *ExecutionGraph) HasEdge(id string) bool {
	for _, edges := range g.OutboundEdges {
		for _, edge := range edges {
			if edge.ID == id {
				return true
			}
		}
	}

	return false
}
