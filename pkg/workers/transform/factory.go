package transform

import (
	"context"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
)

// Factory creates transform workers.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.Worker, error) {
	return NewWorker(config)
}

func (f *Factory) ID() string {
	return "transform"
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Transforms the node's input data using a JSONata expression."
}

func (f *Factory) Convention() models.CallingConvention {
	return models.ConventionSync
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "JSONata expression applied to the node input.",
				"examples": []string{
					"$.name",
					"{ \"fullName\": first & \" \" & last }",
					"$count(items)",
					"orders[total > 100]",
				},
			},
		},
		"required": []string{"expression"},
	}
}
