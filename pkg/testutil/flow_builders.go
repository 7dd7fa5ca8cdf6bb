// Package testutil provides test data builders for flows and nodes.
package testutil

import (
	"github.com/google/uuid"

	"github.com/flowion/flowion/pkg/models"
)

// CreateTestNode creates a worker node with default values that can be
// overridden.
func CreateTestNode(overrides ...func(*models.FlowNode)) *models.FlowNode {
	node := &models.FlowNode{
		ID:         uuid.New().String(),
		Kind:       models.NodeKindWorker,
		WorkerType: "log",
		Name:       "Test Node",
		Config:     map[string]any{"message": "test", "level": "info"},
		PositionX:  100,
		PositionY:  200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.ID = id
	}
}

// WithWorker sets the worker type the node invokes.
func WithWorker(workerType string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Kind = models.NodeKindWorker
		n.WorkerType = workerType
	}
}

// WithKind sets the node kind and clears the worker type for non-worker
// kinds.
func WithKind(kind models.NodeKind) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Kind = kind
		if kind != models.NodeKindWorker {
			n.WorkerType = ""
		}
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Config = config
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Name = name
	}
}

// WithMovement attaches an entity movement rule fired on success.
func WithMovement(targetNodeID, classification string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.EntityMovement = &models.EntityMovementRule{
			OnSuccess: &models.MovementTarget{
				NodeID:         targetNodeID,
				Classification: classification,
			},
		}
	}
}

// CreateTestFlow creates a draft flow with a single worker node. Overrides
// run after the defaults are set.
func CreateTestFlow(overrides ...func(*models.Flow)) *models.Flow {
	flow := &models.Flow{
		ID:     uuid.New().String(),
		Name:   "Test Flow",
		Status: models.FlowStatusDraft,
		Nodes:  []*models.FlowNode{CreateTestNode(WithID("start"))},
	}
	flow.FlowGroupID = flow.ID

	for _, override := range overrides {
		override(flow)
	}

	return flow
}

// WithFlowName sets the flow name.
func WithFlowName(name string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Name = name
	}
}

// WithStatus sets the flow status.
func WithStatus(status models.FlowStatus) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Status = status
	}
}

// WithNodes replaces the flow's nodes.
func WithNodes(nodes ...*models.FlowNode) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Nodes = nodes
	}
}

// WithEdges replaces the flow's edges.
func WithEdges(edges ...*models.FlowEdge) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Edges = edges
	}
}

// JourneyEdge builds a journey edge between two nodes.
func JourneyEdge(id, source, target string) *models.FlowEdge {
	return &models.FlowEdge{
		ID:     id,
		Source: source,
		Target: target,
		Type:   models.EdgeTypeJourney,
	}
}

// SystemEdge builds a system edge between two nodes.
func SystemEdge(id, source, target string) *models.FlowEdge {
	return &models.FlowEdge{
		ID:     id,
		Source: source,
		Target: target,
		Type:   models.EdgeTypeSystem,
	}
}
