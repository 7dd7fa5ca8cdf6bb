// Package services provides the flow lifecycle operations behind the API:
// editing drafts and publishing versions.
package services

import (
	"errors"
	"fmt"

	"github.com/flowion/flowion/pkg/graph"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrNodesRequired    = errors.New("flow must have at least one node")
)

// Business logic conflicts (409 Conflict).
var (
	ErrCannotModifyPublished   = errors.New("cannot modify published flow")
	ErrCannotModifyUnpublished = errors.New("cannot modify unpublished flow")
	ErrAlreadyPublished        = errors.New("flow is already published")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error should surface as HTTP 400. Graph
// compilation failures count: they report client-fixable flow defects.
func IsValidationError(err error) bool {
	var validationErr *graph.ValidationError
	if errors.As(err, &validationErr) {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrNodesRequired)
}

// IsConflictError checks if an error should surface as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrCannotModifyUnpublished) ||
		errors.Is(err, ErrAlreadyPublished)
}
