// Package graph compiles editable flows into immutable execution graphs.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowion/flowion/pkg/models"
)

// DanglingReference records one edge endpoint pointing at a node that does
// not exist in the flow.
type DanglingReference struct {
	EdgeID string `json:"edge_id"`
	NodeID string `json:"node_id"`
	Role   string `json:"role"` // "source" or "target"
}

// ValidationError reports every dangling edge reference found in a flow. It is
// raised at compile time only; a graph that compiled can never produce it at
// run time.
type ValidationError struct {
	FlowID   string
	Dangling []DanglingReference
}

func (e *ValidationError) Error() string {
	refs := make([]string, 0, len(e.Dangling))

	for _, ref := range e.Dangling {
		refs = append(refs, fmt.Sprintf("edge %s %s references unknown node %s", ref.EdgeID, ref.Role, ref.NodeID))
	}

	return fmt.Sprintf("flow %s failed validation: %s", e.FlowID, strings.Join(refs, "; "))
}

// Compile turns an editable flow into an ExecutionGraph. Canvas-only fields
// are stripped; journey edges populate the adjacency index; every edge lands
// in the outbound index. The output is a pure function of the input: compiling
// the same flow twice yields structurally identical graphs, which version-
// pinned reproducible runs depend on.
func Compile(flow *models.Flow) (*models.ExecutionGraph, error) {
	nodes := make(map[string]*models.ExecutionNode, len(flow.Nodes))

	for _, node := range flow.Nodes {
		nodes[node.ID] = &models.ExecutionNode{
			ID:             node.ID,
			Kind:           node.Kind,
			WorkerType:     node.WorkerType,
			Config:         node.Config,
			InputSchema:    node.InputSchema,
			OutputSchema:   node.OutputSchema,
			EntityMovement: node.EntityMovement,
		}
	}

	if err := validateEdges(flow, nodes); err != nil {
		return nil, err
	}

	adjacency := make(map[string][]string)
	outbound := make(map[string][]models.CompiledEdge)

	for _, edge := range flow.Edges {
		if edge.IsJourney() {
			adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		}

		outbound[edge.Source] = append(outbound[edge.Source], models.CompiledEdge{
			ID:      edge.ID,
			Target:  edge.Target,
			Type:    edge.Type,
			Mapping: edge.Mapping,
		})
	}

	// Canonical ordering keeps compilation deterministic regardless of the
	// edge order the canvas happened to save.
	for source := range adjacency {
		sort.Strings(adjacency[source])
	}

	for source := range outbound {
		edges := outbound[source]
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	}

	sideTargets := systemOnlyTargets(flow, adjacency)

	return &models.ExecutionGraph{
		Nodes:         nodes,
		Adjacency:     adjacency,
		OutboundEdges: outbound,
		EntryNodes:    entryNodes(nodes, adjacency, sideTargets),
		TerminalNodes: terminalNodes(nodes, adjacency, sideTargets),
	}, nil
}

// systemOnlyTargets returns the nodes reachable through system edges alone.
// They run as detached side effects: counting them as entries would fire them
// at run start, and counting them as terminals would let a side effect gate
// run completion, both of which would turn system edges into accidental
// ordering dependencies.
func systemOnlyTargets(flow *models.Flow, adjacency map[string][]string) map[string]bool {
	hasJourneyInbound := make(map[string]bool)

	for _, targets := range adjacency {
		for _, target := range targets {
			hasJourneyInbound[target] = true
		}
	}

	targets := make(map[string]bool)

	for _, edge := range flow.Edges {
		if !edge.IsJourney() && !hasJourneyInbound[edge.Target] {
			targets[edge.Target] = true
		}
	}

	return targets
}

// validateEdges collects every dangling reference before failing, so the
// caller sees all problems at once.
func validateEdges(flow *models.Flow, nodes map[string]*models.ExecutionNode) error {
	var dangling []DanglingReference

	for _, edge := range flow.Edges {
		if _, ok := nodes[edge.Source]; !ok {
			dangling = append(dangling, DanglingReference{EdgeID: edge.ID, NodeID: edge.Source, Role: "source"})
		}

		if _, ok := nodes[edge.Target]; !ok {
			dangling = append(dangling, DanglingReference{EdgeID: edge.ID, NodeID: edge.Target, Role: "target"})
		}
	}

	if len(dangling) > 0 {
		return &ValidationError{FlowID: flow.ID, Dangling: dangling}
	}

	return nil
}

// entryNodes returns, sorted, the nodes with no incoming journey edge,
// excluding system-only targets.
func entryNodes(nodes map[string]*models.ExecutionNode, adjacency map[string][]string, sideTargets map[string]bool) []string {
	hasInbound := make(map[string]bool)

	for _, targets := range adjacency {
		for _, target := range targets {
			hasInbound[target] = true
		}
	}

	var entries []string

	for id := range nodes {
		if !hasInbound[id] && !sideTargets[id] {
			entries = append(entries, id)
		}
	}

	sort.Strings(entries)

	return entries
}

// terminalNodes returns, sorted, the nodes with no outgoing journey edge,
// excluding system-only targets.
func terminalNodes(nodes map[string]*models.ExecutionNode, adjacency map[string][]string, sideTargets map[string]bool) []string {
	var terminals []string

	for id := range nodes {
		if len(adjacency[id]) == 0 && !sideTargets[id] {
			terminals = append(terminals, id)
		}
	}

	sort.Strings(terminals)

	return terminals
}
