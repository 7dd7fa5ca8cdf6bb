package models

import (
	"errors"
	"time"
)

// EntityType classifies a tracked entity.
type EntityType string

const (
	EntityTypeLead     EntityType = "lead"
	EntityTypeCustomer EntityType = "customer"
	EntityTypeChurned  EntityType = "churned"
)

// ErrInvalidPosition is returned when an entity's position fields violate the
// mutual-exclusivity invariant.
var ErrInvalidPosition = errors.New("entity position fields are mutually exclusive")

// Entity is an externally meaningful record (customer or lead) whose position
// tracks graph execution and external events. Exactly one of the following
// holds at all times: CurrentNodeID set and nothing else; CurrentEdgeID set
// with EdgeProgress in [0,1]; or all three unset (unpositioned).
type Entity struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"    validate:"required,email"`
	Name          string          `json:"name,omitempty"`
	Type          EntityType      `json:"type"     validate:"required,oneof=lead customer churned"`
	ScopeID       string          `json:"scope_id" validate:"required"`
	CurrentNodeID *string         `json:"current_node_id,omitempty"`
	CurrentEdgeID *string         `json:"current_edge_id,omitempty"`
	EdgeProgress  *float64        `json:"edge_progress,omitempty"`
	Journey       []*JourneyEvent `json:"journey,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ValidatePosition checks the position mutual-exclusivity invariant.
func (e *Entity) ValidatePosition() error {
	switch {
	case e.CurrentNodeID != nil:
		if e.CurrentEdgeID != nil || e.EdgeProgress != nil {
			return ErrInvalidPosition
		}
	case e.CurrentEdgeID != nil:
		if e.EdgeProgress == nil || *e.EdgeProgress < 0 || *e.EdgeProgress > 1 {
			return ErrInvalidPosition
		}
	default:
		if e.EdgeProgress != nil {
			return ErrInvalidPosition
		}
	}

	return nil
}

// MoveToNode positions the entity on a node, clearing any edge position.
func (e *Entity) MoveToNode(nodeID string) {
	e.CurrentNodeID = &nodeID
	e.CurrentEdgeID = nil
	e.EdgeProgress = nil
}

// MoveToEdge positions the entity on an edge at the given progress.
// Progress is clamped to [0,1].
func (e *Entity) MoveToEdge(edgeID string, progress float64) {
	if progress < 0 {
		progress = 0
	}

	if progress > 1 {
		progress = 1
	}

	e.CurrentNodeID = nil
	e.CurrentEdgeID = &edgeID
	e.EdgeProgress = &progress
}

// ClearPosition makes the entity unpositioned.
func (e *Entity) ClearPosition() {
	e.CurrentNodeID = nil
	e.CurrentEdgeID = nil
	e.EdgeProgress = nil
}

// Positioned reports whether the entity currently sits on a node or edge.
func (e *Entity) Positioned() bool {
	return e.CurrentNodeID != nil || e.CurrentEdgeID != nil
}
