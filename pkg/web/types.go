// Package web provides the HTTP handlers and request/response types for the
// flow API.
package web

import "github.com/flowion/flowion/pkg/models"

// CreateFlowRequest is the request body for creating a new draft flow.
type CreateFlowRequest struct {
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Owner       string            `json:"owner"`
	Nodes       []*models.FlowNode `json:"nodes"`
	Edges       []*models.FlowEdge `json:"edges"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// UpdateFlowRequest replaces a draft's editable fields.
type UpdateFlowRequest struct {
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Nodes       []*models.FlowNode `json:"nodes"`
	Edges       []*models.FlowEdge `json:"edges"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// StartRunRequest is the request body for starting a run of a flow.
type StartRunRequest struct {
	EntityID string         `json:"entity_id,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

// ResumeRunRequest carries the human input that releases a waiting gate node.
type ResumeRunRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// MoveEntityRequest is the request body for a manual entity move.
type MoveEntityRequest struct {
	NodeID string `json:"node_id" validate:"required"`
	Actor  string `json:"actor"   validate:"required"`
}

// WorkerResponse describes one registered worker type in the catalog.
type WorkerResponse struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Convention  models.CallingConvention `json:"convention"`
	Schema      map[string]any           `json:"schema,omitempty"`
}

// WebhookResponse is returned by the webhook inbound endpoint on success.
type WebhookResponse struct {
	Success  bool   `json:"success"`
	EntityID string `json:"entity_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}
