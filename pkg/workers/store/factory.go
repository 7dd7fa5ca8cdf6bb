package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
)

// Factory creates store workers sharing one Redis client.
type Factory struct {
	client *redis.Client
}

func NewFactory(client *redis.Client) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.Worker, error) {
	return NewWorker(config, f.client)
}

func (f *Factory) ID() string {
	return "store"
}

func (f *Factory) Name() string {
	return "Store"
}

func (f *Factory) Description() string {
	return "Persists the node's input to Redis under a run-scoped key."
}

func (f *Factory) Convention() models.CallingConvention {
	return models.ConventionPseudoAsync
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Key suffix the input is stored under, scoped by run ID.",
			},
			"ttl_seconds": map[string]any{
				"type":        "integer",
				"description": "Expiry for the stored value. 0 keeps it forever.",
				"default":     0,
			},
		},
		"required": []string{"key"},
	}
}
