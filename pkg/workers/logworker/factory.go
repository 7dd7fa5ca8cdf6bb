package logworker

import (
	"context"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
)

// Factory creates log workers.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.Worker, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewWorker(config), nil
}

func (f *Factory) ID() string {
	return "log"
}

func (f *Factory) Name() string {
	return "Log"
}

func (f *Factory) Description() string {
	return "Logs the node's input and passes it through unchanged."
}

func (f *Factory) Convention() models.CallingConvention {
	return models.ConventionSync
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message logged alongside the node input.",
			},
		},
	}
}
