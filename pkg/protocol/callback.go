package protocol

// CallbackStatus is the terminal outcome a worker reports for a node.
type CallbackStatus string

const (
	CallbackCompleted CallbackStatus = "completed"
	CallbackFailed    CallbackStatus = "failed"
)

// CallbackPayload is the inbound completion message for a node. Async workers
// POST it to the callback URL; the executor builds the same payload internally
// for sync and pseudo_async completions so every completion flows through one
// path.
type CallbackPayload struct {
	Status CallbackStatus `json:"status" validate:"required,oneof=completed failed"`
	Output any            `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}
