// Package models defines the core domain models for flow-based journey orchestration.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusDraft       FlowStatus = "draft"       // Editable, not executable
	FlowStatusPublished   FlowStatus = "published"   // Current active, executable
	FlowStatusUnpublished FlowStatus = "unpublished" // Historical, not executable
)

// Flow represents an editable node graph with simplified versioning support.
// Runs are started against the compiled form of a published flow, never
// against the editable graph directly.
type Flow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      FlowStatus     `json:"status"      validate:"required"`
	FlowGroupID string         `json:"flow_group_id"` // Stable ID linking all versions
	Nodes       []*FlowNode    `json:"nodes"`
	Edges       []*FlowEdge    `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// HasNode reports whether the flow contains a node with the given ID.
func (f *Flow) HasNode(nodeID string) bool {
	for _, node := range f.Nodes {
		if node.ID == nodeID {
			return true
		}
	}

	return false
}

// HasEdge reports whether the flow contains an edge with the given ID.
func (f *Flow) HasEdge(edgeID string) bool {
	for _, edge := range f.Edges {
		if edge.ID == edgeID {
			return true
		}
	}

	return false
}

// EdgeType distinguishes logical journey edges from side-effect-only system edges.
type EdgeType string

const (
	// EdgeTypeJourney edges create logical dependencies: they gate downstream
	// firing and represent the path an entity physically travels.
	EdgeTypeJourney EdgeType = "journey"

	// EdgeTypeSystem edges are fire-and-forget. They never gate anything,
	// never move an entity, and their failures are isolated from the run.
	EdgeTypeSystem EdgeType = "system"
)

// FlowEdge connects two nodes in the editable graph. Label and Style are
// canvas-only fields and are stripped at compile time.
type FlowEdge struct {
	ID      string            `json:"id"       validate:"required"`
	Source  string            `json:"source"   validate:"required"`
	Target  string            `json:"target"   validate:"required"`
	Type    EdgeType          `json:"type"     validate:"required,oneof=journey system"`
	Mapping map[string]string `json:"mapping,omitempty"` // Output field -> expression for the target's input
	Label   string            `json:"label,omitempty"`
	Style   map[string]any    `json:"style,omitempty"`
}

// IsJourney reports whether the edge gates downstream firing.
func (e *FlowEdge) IsJourney() bool {
	return e.Type == EdgeTypeJourney
}
