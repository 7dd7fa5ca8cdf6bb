// Package queue drains worker completion messages from a Redis list into the
// executor. It gives async workers that cannot reach the callback endpoint
// directly (batch jobs, systems behind a relay) a second completion path.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowion/flowion/pkg/otelhelper"
	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/runner"
)

// DefaultQueue is the list completion messages are pushed to.
const DefaultQueue = "flowion:completions"

// CallbackSink receives drained completions. Implemented by runner.Executor.
type CallbackSink interface {
	Callback(ctx context.Context, runID, nodeID string, payload protocol.CallbackPayload) error
}

// completionMessage is the wire form of one queued completion.
type completionMessage struct {
	RunID  string                  `json:"run_id"`
	NodeID string                  `json:"node_id"`
	Status protocol.CallbackStatus `json:"status"`
	Output any                     `json:"output,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

type Consumer struct {
	client redis.UniversalClient
	queue  string
	sink   CallbackSink
	logger *slog.Logger
	tracer trace.Tracer
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConsumer(client redis.UniversalClient, queue string, sink CallbackSink, logger *slog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("completion consumer requires a redis client")
	}

	if queue == "" {
		queue = DefaultQueue
	}

	return &Consumer{
		client: client,
		queue:  queue,
		sink:   sink,
		logger: logger.With("module", "queue", "queue", queue),
		tracer: otel.Tracer("flowion.queue"),
		stopCh: make(chan struct{}),
	}, nil
}

// Start verifies the connection and begins draining in the background.
func (c *Consumer) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.InfoContext(ctx, "Starting completion consumer")
	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Completion consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping completion consumer")

			return
		default:
			err := c.processMessage(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error processing completion", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, 1*time.Second, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop completion from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message, err := decodeCompletion([]byte(result[1]))
	if err != nil {
		// Malformed messages are dropped, not retried: re-queueing them
		// would wedge the consumer.
		c.logger.ErrorContext(ctx, "Dropping malformed completion", "error", err, "raw", result[1])

		return nil
	}

	msgCtx, span := otelhelper.StartSpan(ctx, c.tracer, "queue.consumer consume",
		attribute.String(otelhelper.QueueKey, c.queue),
		attribute.String(otelhelper.RunIDKey, message.RunID),
		attribute.String(otelhelper.NodeIDKey, message.NodeID),
	)
	defer span.End()

	err = c.sink.Callback(msgCtx, message.RunID, message.NodeID, protocol.CallbackPayload{
		Status: message.Status,
		Output: message.Output,
		Error:  message.Error,
	})

	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "Completion delivered",
			"run_id", message.RunID, "node_id", message.NodeID, "status", message.Status)
	case runner.IsDuplicateCallback(err), runner.IsRunFinished(err):
		c.logger.InfoContext(ctx, "Duplicate completion discarded",
			"run_id", message.RunID, "node_id", message.NodeID)
	default:
		otelhelper.SetError(span, err)
		c.logger.ErrorContext(ctx, "Failed to deliver completion",
			"run_id", message.RunID, "node_id", message.NodeID, "error", err)
	}

	return nil
}

func decodeCompletion(raw []byte) (*completionMessage, error) {
	var message completionMessage

	err := json.Unmarshal(raw, &message)
	if err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}

	if message.RunID == "" || message.NodeID == "" {
		return nil, errors.New("completion missing run_id or node_id")
	}

	if message.Status != protocol.CallbackCompleted && message.Status != protocol.CallbackFailed {
		return nil, fmt.Errorf("completion has invalid status %q", message.Status)
	}

	return &message, nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Stopping completion consumer")

	close(c.stopCh)
	c.wg.Wait()

	return nil
}
