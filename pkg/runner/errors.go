package runner

import "errors"

var (
	// ErrDuplicateCallback is returned when a callback arrives for a node
	// whose status is not running. At-least-once delivery makes this an
	// expected condition: the callback is logged and discarded, state is
	// untouched.
	ErrDuplicateCallback = errors.New("callback for node not currently running")

	// ErrNotWaiting is returned when a resume targets a node that is not
	// waiting for input.
	ErrNotWaiting = errors.New("node is not waiting for input")

	// ErrFlowNotPublished is returned when a non-manual trigger targets a
	// flow version that is not published.
	ErrFlowNotPublished = errors.New("flow is not published")

	// ErrInputInvalid is returned when run input fails an entry node's
	// declared input schema.
	ErrInputInvalid = errors.New("run input does not match entry node schema")

	// ErrRunFinished is returned when a message targets a run that already
	// reached a terminal status.
	ErrRunFinished = errors.New("run already finished")
)

// IsNotWaiting checks if an error indicates a resume against a node that is
// not waiting for input.
func IsNotWaiting(err error) bool {
	return errors.Is(err, ErrNotWaiting)
}

// IsFlowNotPublished checks if an error indicates a trigger against an
// unpublished flow version.
func IsFlowNotPublished(err error) bool {
	return errors.Is(err, ErrFlowNotPublished)
}

// IsInputInvalid checks if an error indicates run input that failed an entry
// node's schema.
func IsInputInvalid(err error) bool {
	return errors.Is(err, ErrInputInvalid)
}

// IsRunFinished checks if an error indicates a message against a finished
// run.
func IsRunFinished(err error) bool {
	return errors.Is(err, ErrRunFinished)
}
