package httpcall

import (
	"context"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
)

// Factory creates http_call workers.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.Worker, error) {
	return NewWorker(config)
}

func (f *Factory) ID() string {
	return "http_call"
}

func (f *Factory) Name() string {
	return "HTTP Call"
}

func (f *Factory) Description() string {
	return "Dispatches the node's work to an external HTTP service, which reports completion via the callback URL."
}

func (f *Factory) Convention() models.CallingConvention {
	return models.ConventionAsync
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The external service endpoint the dispatch request is sent to.",
				"examples": []string{
					"https://workers.example.com/enrich",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method for the dispatch request.",
				"default":     "POST",
				"enum":        []string{"POST", "PUT"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the dispatch request.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Timeout for the dispatch request itself, not for the callback.",
				"default":     30, //nolint:mnd // schema default
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "Retry configuration for failed dispatch requests.",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":    "integer",
						"default": 1,
						"minimum": 1,
					},
					"delay": map[string]any{
						"type":        "integer",
						"description": "Delay between attempts in milliseconds.",
						"default":     1000, //nolint:mnd // schema default
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
