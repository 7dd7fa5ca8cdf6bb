// Package logworker implements a synchronous worker that records its input to
// the structured log, mostly useful while assembling a flow.
package logworker

import (
	"context"
	"log/slog"

	"github.com/flowion/flowion/pkg/protocol"
)

type Worker struct {
	Level   string
	Message string
}

func NewWorker(config map[string]any) *Worker {
	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	message, _ := config["message"].(string)
	if message == "" {
		message = "Node input"
	}

	return &Worker{Level: level, Message: message}
}

func (w *Worker) Execute(ctx context.Context, request protocol.WorkerRequest, logger *slog.Logger) (any, error) {
	logger = logger.With("worker_type", "log", "node_id", request.NodeID)

	switch w.Level {
	case "debug":
		logger.DebugContext(ctx, w.Message, "input", request.Input)
	case "warn":
		logger.WarnContext(ctx, w.Message, "input", request.Input)
	case "error":
		logger.ErrorContext(ctx, w.Message, "input", request.Input)
	default:
		logger.InfoContext(ctx, w.Message, "input", request.Input)
	}

	// Pass the input through untouched so downstream nodes see it.
	return request.Input, nil
}

func (w *Worker) Validate(_ context.Context) error {
	return nil
}
