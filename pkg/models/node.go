package models

import "time"

// NodeKind represents the execution semantics of a node.
type NodeKind string

const (
	NodeKindWorker    NodeKind = "worker"    // Delegates work to a registered worker type
	NodeKindGate      NodeKind = "gate"      // Pauses for human input before proceeding
	NodeKindSplitter  NodeKind = "splitter"  // Fans an array output into parallel branches
	NodeKindCollector NodeKind = "collector" // Waits for all upstream branches before firing once
)

// FlowNode represents a node instance in the editable graph. PositionX,
// PositionY, and Style are canvas-only fields and are stripped at compile time.
type FlowNode struct {
	ID             string              `json:"id"          validate:"required"`
	Kind           NodeKind            `json:"kind"        validate:"required,oneof=worker gate splitter collector"`
	WorkerType     string              `json:"worker_type,omitempty"`
	Name           string              `json:"name"        validate:"required,min=1"`
	Config         map[string]any      `json:"config,omitempty"`
	InputSchema    map[string]any      `json:"input_schema,omitempty"`
	OutputSchema   map[string]any      `json:"output_schema,omitempty"`
	EntityMovement *EntityMovementRule `json:"entity_movement,omitempty"`
	PositionX      int                 `json:"position_x"`
	PositionY      int                 `json:"position_y"`
	Style          map[string]any      `json:"style,omitempty"`
}

// EntityMovementRule declares where the linked entity moves when this node
// completes or fails. Nodes without a rule never move entities.
type EntityMovementRule struct {
	OnSuccess *MovementTarget `json:"on_success,omitempty"`
	OnFailure *MovementTarget `json:"on_failure,omitempty"`
}

// MovementTarget identifies the node an entity lands on, how the completion
// is classified in its journey log, and an optional type reclassification.
type MovementTarget struct {
	NodeID         string      `json:"node_id"        validate:"required"`
	Classification string      `json:"classification,omitempty"`
	ReclassifyAs   *EntityType `json:"reclassify_as,omitempty"`
}

// NodeStatus defines the possible states of a node within a run.
type NodeStatus string

const (
	NodeStatusPending         NodeStatus = "pending"
	NodeStatusRunning         NodeStatus = "running"
	NodeStatusCompleted       NodeStatus = "completed"
	NodeStatusFailed          NodeStatus = "failed"
	NodeStatusWaitingForInput NodeStatus = "waiting_for_input"
)

// Terminal reports whether the status is a final one.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// NodeState tracks one node's progress within a run. The upstream fields are
// populated for collector nodes only: UpstreamCompleted never exceeds
// ExpectedUpstream, and a collector leaves pending exactly when they are equal.
type NodeState struct {
	Status            NodeStatus     `json:"status"`
	Output            any            `json:"output,omitempty"`
	Error             string         `json:"error,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	UpstreamCompleted int            `json:"upstream_completed_count,omitempty"`
	ExpectedUpstream  int            `json:"expected_upstream_count,omitempty"`
	UpstreamOutputs   map[string]any `json:"upstream_outputs,omitempty"`
}
