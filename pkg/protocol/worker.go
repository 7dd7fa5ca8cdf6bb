// Package protocol defines the contracts between the executor and pluggable
// workers: the request/callback wire format and the worker factory interface.
package protocol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowion/flowion/pkg/models"
)

// WorkerRequest is the payload delivered to a worker when its node fires.
type WorkerRequest struct {
	RunID       string         `json:"runId"`
	NodeID      string         `json:"nodeId"`
	Config      map[string]any `json:"config"`
	Input       map[string]any `json:"input"`
	CallbackURL string         `json:"callbackUrl"`
}

// Worker executes the work behind a flow node. How the executor interprets
// the return value depends on the worker's calling convention:
//
//   - sync and pseudo_async: the returned output (or error) is the node's
//     completion, applied inline before Execute returns control.
//   - async: the return value only acknowledges dispatch; the real completion
//     arrives later as a POST to the request's CallbackURL.
type Worker interface {
	Execute(ctx context.Context, request WorkerRequest, logger *slog.Logger) (any, error)
	Validate(ctx context.Context) error
}

// WorkerFactory creates worker instances and provides metadata about the
// worker type.
type WorkerFactory interface {
	// Create creates a new worker instance with the given node configuration.
	Create(ctx context.Context, config map[string]any) (Worker, error)

	// ID returns the unique identifier for this worker type.
	ID() string

	// Name returns the human-readable name for this worker type.
	Name() string

	// Description returns a description of what this worker does.
	Description() string

	// Schema returns the JSON schema for configuring this worker.
	Schema() map[string]any

	// Convention returns the calling convention all instances of this
	// worker type follow.
	Convention() models.CallingConvention
}

// CallbackURL builds the completion callback address for a node, matching
// the POST /callback/:runId/:nodeId route.
func CallbackURL(base, runID, nodeID string) string {
	return fmt.Sprintf("%s/callback/%s/%s", base, runID, nodeID)
}
