// Package store implements a pseudo-asynchronous worker that persists the
// node's input to Redis. It is composed of two blocking steps, serialize then
// write, and only reports completion after both succeed, so each step is a
// distinct failure point even though the caller sees a single round trip.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowion/flowion/pkg/protocol"
)

var (
	// ErrKeyMissing is returned when the worker config has no key.
	ErrKeyMissing = errors.New("store configuration requires a key")
	// ErrRedisUnavailable is returned when no Redis client was wired in.
	ErrRedisUnavailable = errors.New("store worker requires a redis client")
)

type Worker struct {
	Key string
	TTL time.Duration

	client *redis.Client
}

func NewWorker(config map[string]any, client *redis.Client) (*Worker, error) {
	key, _ := config["key"].(string)
	if key == "" {
		return nil, ErrKeyMissing
	}

	var ttl time.Duration
	if seconds, ok := config["ttl_seconds"].(float64); ok && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}

	return &Worker{Key: key, TTL: ttl, client: client}, nil
}

func (w *Worker) Execute(ctx context.Context, request protocol.WorkerRequest, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "store_worker")

	if w.client == nil {
		return nil, ErrRedisUnavailable
	}

	// Step 1: serialize.
	payload, err := json.Marshal(request.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize node input: %w", err)
	}

	// Step 2: write. The key is scoped by run so replays don't collide.
	key := fmt.Sprintf("flowion:store:%s:%s", request.RunID, w.Key)

	err = w.client.Set(ctx, key, payload, w.TTL).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to store node input: %w", err)
	}

	logger.InfoContext(ctx, "Stored node input", "key", key)

	return map[string]any{"key": key, "stored": true}, nil
}

func (w *Worker) Validate(_ context.Context) error {
	if w.Key == "" {
		return ErrKeyMissing
	}

	return nil
}
