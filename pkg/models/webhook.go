package models

import "time"

// EntityMapping maps entity fields (name, email, entity_type, metadata.*) to
// either a field-path expression into the webhook payload or a literal string.
// Expressions are prefixed "$."; anything else is taken literally.
type EntityMapping map[string]string

// Reserved mapping keys. Keys prefixed "metadata." land in entity metadata.
const (
	MappingFieldEmail      = "email"
	MappingFieldName       = "name"
	MappingFieldEntityType = "entity_type"
	MappingMetadataPrefix  = "metadata."
)

// WebhookConfig maps an external source to a target graph position and,
// optionally, to a flow run trigger.
type WebhookConfig struct {
	ID            string         `json:"id"`
	Slug          string         `json:"slug"     validate:"required,min=3"`
	AdapterID     string         `json:"adapter_id"` // Adapter used for verification/extraction; empty means generic
	Secret        string         `json:"secret,omitempty"`
	Active        bool           `json:"active"`
	ScopeID       string         `json:"scope_id" validate:"required"`
	TargetNodeID  string         `json:"target_node_id,omitempty"` // Entity lands here
	FlowID        string         `json:"flow_id,omitempty"`        // When set, a run is started
	EntryEdgeID   string         `json:"entry_edge_id,omitempty"`
	Mapping       EntityMapping  `json:"mapping,omitempty"`
	PayloadSchema map[string]any `json:"payload_schema,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// WebhookEventStatus is the processing outcome of one inbound request.
type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventRejected  WebhookEventStatus = "rejected"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// WebhookEvent is the immutable record of one inbound webhook request, kept
// for replay and postmortem debugging regardless of processing outcome.
type WebhookEvent struct {
	ID         string             `json:"id"`
	ConfigID   string             `json:"config_id"`
	Slug       string             `json:"slug"`
	Payload    map[string]any     `json:"payload"`
	EntityID   string             `json:"entity_id,omitempty"`
	RunID      string             `json:"run_id,omitempty"`
	Status     WebhookEventStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	ReceivedAt time.Time          `json:"received_at"`
}
