// Package transform implements a synchronous worker that reshapes node input
// with a JSONata expression.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/template"
)

// ErrExpressionMissing is returned when the worker config has no expression.
var ErrExpressionMissing = errors.New("transform configuration requires an expression")

type Worker struct {
	Expression string
}

func NewWorker(config map[string]any) (*Worker, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, ErrExpressionMissing
	}

	return &Worker{Expression: expression}, nil
}

func (w *Worker) Execute(ctx context.Context, request protocol.WorkerRequest, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_worker")
	logger.InfoContext(ctx, "Executing transform")

	result, err := template.Render(w.Expression, request.Input)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	logger.InfoContext(ctx, "Transform completed")

	return result, nil
}

func (w *Worker) Validate(_ context.Context) error {
	_, err := template.Parse(w.Expression)
	if err != nil {
		return fmt.Errorf("invalid transform expression: %w", err)
	}

	return nil
}
