// Package events defines event types and structures for run and journey
// lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowion/flowion/pkg/models"
)

type EventType string

// Topic is the stream all lifecycle events are published to.
const Topic = "flowion.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	// Node-level events.
	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeWaitingEvent   EventType = "node.waiting"

	// Entity journey events.
	EntityMovedEvent   EventType = "entity.moved"
	EntityCreatedEvent EventType = "entity.created"

	// Webhook ingestion events.
	WebhookReceivedEvent EventType = "webhook.received"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

type RunStarted struct {
	BaseEvent

	RunID    string            `json:"run_id"`
	FlowID   string            `json:"flow_id"`
	EntityID string            `json:"entity_id,omitempty"`
	Trigger  models.RunTrigger `json:"trigger"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunCompleted struct {
	BaseEvent

	RunID      string        `json:"run_id"`
	FlowID     string        `json:"flow_id"`
	Duration   time.Duration `json:"duration"`
	NodesFired int           `json:"nodes_fired"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct {
	BaseEvent

	RunID       string            `json:"run_id"`
	FlowID      string            `json:"flow_id"`
	FailedNodes map[string]string `json:"failed_nodes"` // Node ID -> error message
	Duration    time.Duration     `json:"duration"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type NodeStarted struct {
	BaseEvent

	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
}

func (e NodeStarted) GetType() EventType { return NodeStartedEvent }

type NodeCompleted struct {
	BaseEvent

	RunID      string `json:"run_id"`
	NodeID     string `json:"node_id"`
	Output     any    `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e NodeCompleted) GetType() EventType { return NodeCompletedEvent }

type NodeFailed struct {
	BaseEvent

	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e NodeFailed) GetType() EventType { return NodeFailedEvent }

type NodeWaiting struct {
	BaseEvent

	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
	Prompt string `json:"prompt,omitempty"`
}

func (e NodeWaiting) GetType() EventType { return NodeWaitingEvent }

type EntityMoved struct {
	BaseEvent

	EntityID string                  `json:"entity_id"`
	Kind     models.JourneyEventKind `json:"kind"`
	NodeID   string                  `json:"node_id,omitempty"`
	EdgeID   string                  `json:"edge_id,omitempty"`
	RunID    string                  `json:"run_id,omitempty"`
}

func (e EntityMoved) GetType() EventType { return EntityMovedEvent }

type EntityCreated struct {
	BaseEvent

	EntityID string            `json:"entity_id"`
	Email    string            `json:"email"`
	ScopeID  string            `json:"scope_id"`
	Type     models.EntityType `json:"entity_type"`
}

func (e EntityCreated) GetType() EventType { return EntityCreatedEvent }

type WebhookReceived struct {
	BaseEvent

	EventID  string `json:"webhook_event_id"`
	Slug     string `json:"slug"`
	Status   string `json:"status"`
	EntityID string `json:"entity_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

func (e WebhookReceived) GetType() EventType { return WebhookReceivedEvent }
