package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CallingConvention selects how a worker node's work is delegated.
type CallingConvention string

const (
	// ConventionSync workers trigger the completion callback inline before
	// returning control.
	ConventionSync CallingConvention = "sync"

	// ConventionAsync workers issue one outbound request carrying a callback
	// URL and return immediately; the node stays running until the callback
	// arrives.
	ConventionAsync CallingConvention = "async"

	// ConventionPseudoAsync workers run a sequence of blocking steps and then
	// trigger the callback. Externally indistinguishable from sync, but
	// composed of multiple failure points.
	ConventionPseudoAsync CallingConvention = "pseudo_async"
)

// NodeConfig is the decoded, kind-specific configuration of a node. Keeping a
// typed payload per kind catches config/kind mismatches at compile time
// instead of at node fire time.
type NodeConfig interface {
	ConfigKind() NodeKind
	Validate() error
}

// WorkerConfig configures a worker node.
type WorkerConfig struct {
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"` // 0 means wait indefinitely for async completion
	Settings       map[string]any `json:"settings,omitempty"`        // Passed through to the worker
}

func (c *WorkerConfig) ConfigKind() NodeKind { return NodeKindWorker }

func (c *WorkerConfig) Validate() error {
	if c.TimeoutSeconds < 0 {
		return errors.New("timeout_seconds must not be negative")
	}

	return nil
}

// GateConfig configures a gate node that pauses for human input.
type GateConfig struct {
	Prompt     string `json:"prompt,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

func (c *GateConfig) ConfigKind() NodeKind { return NodeKindGate }

func (c *GateConfig) Validate() error { return nil }

// SplitterConfig configures a splitter node. ItemsField names the output
// field holding the array to fan out; empty means the output itself is the
// array.
type SplitterConfig struct {
	ItemsField string `json:"items_field,omitempty"`
}

func (c *SplitterConfig) ConfigKind() NodeKind { return NodeKindSplitter }

func (c *SplitterConfig) Validate() error { return nil }

// CollectorConfig configures a collector node. The expected upstream count is
// fixed from the graph at run start, not from configuration.
type CollectorConfig struct {
	FlattenOutputs bool `json:"flatten_outputs,omitempty"` // Emit one ordered slice of upstream outputs instead of a map keyed by source
}

func (c *CollectorConfig) ConfigKind() NodeKind { return NodeKindCollector }

func (c *CollectorConfig) Validate() error { return nil }

// DecodeNodeConfig decodes a node's free-form config map into the typed
// payload for its kind.
func DecodeNodeConfig(kind NodeKind, raw map[string]any) (NodeConfig, error) {
	var config NodeConfig

	switch kind {
	case NodeKindWorker:
		config = &WorkerConfig{}
	case NodeKindGate:
		config = &GateConfig{}
	case NodeKindSplitter:
		config = &SplitterConfig{}
	case NodeKindCollector:
		config = &CollectorConfig{}
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}

	if raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode config for kind %q: %w", kind, err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("decode config for kind %q: %w", kind, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
