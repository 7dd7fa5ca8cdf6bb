package models

import "time"

// TriggerKind identifies what started a run.
type TriggerKind string

const (
	TriggerKindManual        TriggerKind = "manual"
	TriggerKindWebhook       TriggerKind = "webhook"
	TriggerKindEntityArrival TriggerKind = "entity_arrival"
	TriggerKindSchedule      TriggerKind = "schedule"
)

// RunTrigger records the provenance of a run.
type RunTrigger struct {
	Kind    TriggerKind `json:"kind"    validate:"required"`
	Source  string      `json:"source,omitempty"`
	EventID string      `json:"event_id,omitempty"`
}

// RunStatus is derived from node states, never stored independently.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of a compiled flow graph. NodeStates holds an entry
// for every compiled node, created pending at run start.
type Run struct {
	ID          string                `json:"id"`
	FlowID      string                `json:"flow_id"      validate:"required"`
	FlowVersion string                `json:"flow_version"` // Published flow version the graph was compiled from
	EntityID    string                `json:"entity_id,omitempty"`
	NodeStates  map[string]*NodeState `json:"node_states"`
	Trigger     RunTrigger            `json:"trigger"`
	Input       map[string]any        `json:"input,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// State returns the node state for the given ID, or nil when absent.
func (r *Run) State(nodeID string) *NodeState {
	return r.NodeStates[nodeID]
}

// Status derives the run-level status from node states against the graph:
// completed once every terminal node completed; failed once a failure exists
// and nothing can progress any further; running otherwise. A failed node halts
// only its own downstream branch, so the run stays running while sibling
// branches still have work.
func (r *Run) Status(graph *ExecutionGraph) RunStatus {
	allTerminalsDone := true

	for _, id := range graph.TerminalNodes {
		state := r.NodeStates[id]
		if state == nil || state.Status != NodeStatusCompleted {
			allTerminalsDone = false

			break
		}
	}

	if allTerminalsDone {
		return RunStatusCompleted
	}

	anyFailed := false

	dead := r.deadNodes(graph)

	for id, state := range r.NodeStates {
		switch state.Status {
		case NodeStatusRunning, NodeStatusWaitingForInput:
			return RunStatusRunning
		case NodeStatusFailed:
			anyFailed = true
		case NodeStatusPending:
			if !dead[id] {
				return RunStatusRunning
			}
		case NodeStatusCompleted:
		}
	}

	if anyFailed {
		return RunStatusFailed
	}

	return RunStatusRunning
}

// deadNodes computes, to a fixpoint, the nodes that can never fire: failed
// nodes, and pending nodes all of whose predecessors are themselves dead.
func (r *Run) deadNodes(graph *ExecutionGraph) map[string]bool {
	dead := make(map[string]bool)

	entries := make(map[string]bool, len(graph.EntryNodes))
	for _, id := range graph.EntryNodes {
		entries[id] = true
	}

	for id, state := range r.NodeStates {
		if state.Status == NodeStatusFailed {
			dead[id] = true

			continue
		}

		// Nodes reachable only through system edges fire as side effects,
		// never through the journey machinery, so their pending state must
		// not keep the run alive.
		if state.Status == NodeStatusPending && !entries[id] && len(graph.Predecessors(id)) == 0 {
			dead[id] = true
		}
	}

	for changed := true; changed; {
		changed = false

		for id, state := range r.NodeStates {
			if dead[id] || state.Status != NodeStatusPending {
				continue
			}

			preds := graph.Predecessors(id)
			if len(preds) == 0 {
				continue
			}

			// The ready rule needs every predecessor completed, so one
			// dead predecessor is enough to block a node forever.
			blocked := false

			for _, pred := range preds {
				if dead[pred] {
					blocked = true

					break
				}
			}

			if blocked {
				dead[id] = true
				changed = true
			}
		}
	}

	return dead
}

// FailedNodes returns the IDs of failed nodes with their recorded errors,
// so failure is always attributable to specific nodes.
func (r *Run) FailedNodes() map[string]string {
	failed := make(map[string]string)

	for id, state := range r.NodeStates {
		if state.Status == NodeStatusFailed {
			failed[id] = state.Error
		}
	}

	return failed
}
