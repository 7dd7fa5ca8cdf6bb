// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrPublishedFlowNotFound indicates no published flow exists for the given group.
	ErrPublishedFlowNotFound = errors.New("published flow not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrEntityNotFound indicates an entity was not found by id or natural key.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrWebhookConfigNotFound indicates no webhook config exists for the given slug.
	ErrWebhookConfigNotFound = errors.New("webhook config not found")

	// ErrNodeNotFound indicates a node was not found in the referenced graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound indicates an edge was not found in the referenced graph.
	ErrEdgeNotFound = errors.New("edge not found")
)

// FlowError wraps flow-related errors with operation context.
type FlowError struct {
	Op     string // Operation being performed (e.g. "GetByID", "Save", "Delete")
	FlowID string
	Err    error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// RunError wraps run-related errors with operation context.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// EntityError wraps entity-related errors with operation context.
type EntityError struct {
	Op       string
	EntityID string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewEntityError(op, entityID string, err error) *EntityError {
	return &EntityError{Op: op, EntityID: entityID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsPublishedFlowNotFound checks if an error indicates no published version exists.
func IsPublishedFlowNotFound(err error) bool {
	return errors.Is(err, ErrPublishedFlowNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsEntityNotFound checks if an error indicates an entity was not found.
func IsEntityNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsWebhookConfigNotFound checks if an error indicates a webhook config was not found.
func IsWebhookConfigNotFound(err error) bool {
	return errors.Is(err, ErrWebhookConfigNotFound)
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsEdgeNotFound checks if an error indicates an edge was not found.
func IsEdgeNotFound(err error) bool {
	return errors.Is(err, ErrEdgeNotFound)
}
