package transform_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/workers/transform"
)

func TestNewWorker_RequiresExpression(t *testing.T) {
	t.Parallel()

	_, err := transform.NewWorker(map[string]any{})
	require.ErrorIs(t, err, transform.ErrExpressionMissing)
}

func TestWorker_Execute(t *testing.T) {
	t.Parallel()

	worker, err := transform.NewWorker(map[string]any{
		"expression": `{ "label": name & " <" & email & ">" }`,
	})
	require.NoError(t, err)

	result, err := worker.Execute(context.Background(), protocol.WorkerRequest{
		RunID:  "run-1",
		NodeID: "shape",
		Input:  map[string]any{"name": "Ada", "email": "ada@example.com"},
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"label": "Ada <ada@example.com>"}, result)
}

func TestWorker_Execute_InvalidExpression(t *testing.T) {
	t.Parallel()

	worker, err := transform.NewWorker(map[string]any{"expression": "a &&& b"})
	require.NoError(t, err)

	_, err = worker.Execute(context.Background(), protocol.WorkerRequest{
		Input: map[string]any{"a": 1},
	}, slog.Default())
	require.Error(t, err)
}
