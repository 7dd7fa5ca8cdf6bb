package models

import "time"

// JourneyEventKind identifies the position transition a journey event records.
type JourneyEventKind string

const (
	JourneyEventEdgeStart    JourneyEventKind = "edge-start"
	JourneyEventEdgeProgress JourneyEventKind = "edge-progress"
	JourneyEventNodeArrival  JourneyEventKind = "node-arrival"
	JourneyEventNodeComplete JourneyEventKind = "node-complete"
	JourneyEventNodeFailure  JourneyEventKind = "node-failure"
	JourneyEventManualMove   JourneyEventKind = "manual-move"
)

// JourneyEvent is the append-only audit record of one entity position
// transition. Events are never mutated or deleted after creation; an entity's
// history is reconstructed from them.
type JourneyEvent struct {
	ID        string           `json:"id"`
	EntityID  string           `json:"entity_id" validate:"required"`
	Kind      JourneyEventKind `json:"kind"      validate:"required"`
	NodeID    string           `json:"node_id,omitempty"`
	EdgeID    string           `json:"edge_id,omitempty"`
	Progress  *float64         `json:"progress,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
