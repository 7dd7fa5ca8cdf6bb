package httpcall_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/workers/httpcall"
)

func TestNewWorker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  map[string]any
		wantErr error
		check   func(t *testing.T, w *httpcall.Worker)
	}{
		{
			name:   "minimal config defaults to POST",
			config: map[string]any{"url": "https://workers.example.com/enrich"},
			check: func(t *testing.T, w *httpcall.Worker) {
				t.Helper()
				assert.Equal(t, http.MethodPost, w.Method)
				assert.Equal(t, 30*time.Second, w.Timeout)
				assert.Equal(t, httpcall.RetryConfig{Attempts: 1}, w.Retry)
			},
		},
		{
			name: "full config",
			config: map[string]any{
				"url":             "https://workers.example.com/score",
				"method":          "put",
				"timeout_seconds": 5.0,
				"headers": map[string]any{
					"Authorization": "Bearer token123",
				},
				"retry": map[string]any{
					"attempts": 3.0,
					"delay":    250.0,
				},
			},
			check: func(t *testing.T, w *httpcall.Worker) {
				t.Helper()
				assert.Equal(t, http.MethodPut, w.Method)
				assert.Equal(t, 5*time.Second, w.Timeout)
				assert.Equal(t, map[string]string{"Authorization": "Bearer token123"}, w.Headers)
				assert.Equal(t, httpcall.RetryConfig{Attempts: 3, Delay: 250 * time.Millisecond}, w.Retry)
			},
		},
		{
			name:    "missing url",
			config:  map[string]any{"method": "POST"},
			wantErr: httpcall.ErrURLInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			worker, err := httpcall.NewWorker(tt.config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			tt.check(t, worker)
		})
	}
}

func TestWorker_Execute_DispatchesRequestPayload(t *testing.T) {
	t.Parallel()

	var received protocol.WorkerRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	worker, err := httpcall.NewWorker(map[string]any{"url": server.URL})
	require.NoError(t, err)

	request := protocol.WorkerRequest{
		RunID:       "run-1",
		NodeID:      "enrich",
		Input:       map[string]any{"email": "a@b.com"},
		CallbackURL: "http://core.local/callback/run-1/enrich",
	}

	ack, err := worker.Execute(context.Background(), request, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"dispatched": true}, ack)
	assert.Equal(t, "run-1", received.RunID)
	assert.Equal(t, "enrich", received.NodeID)
	assert.Equal(t, "http://core.local/callback/run-1/enrich", received.CallbackURL)
}

func TestWorker_Execute_RetriesDispatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	worker, err := httpcall.NewWorker(map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"attempts": 3.0, "delay": 1.0},
	})
	require.NoError(t, err)

	_, err = worker.Execute(context.Background(), protocol.WorkerRequest{RunID: "run-1", NodeID: "n"}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorker_Execute_FailsAfterAllAttempts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	worker, err := httpcall.NewWorker(map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"attempts": 2.0},
	})
	require.NoError(t, err)

	_, err = worker.Execute(context.Background(), protocol.WorkerRequest{RunID: "run-1", NodeID: "n"}, slog.Default())
	require.ErrorIs(t, err, httpcall.ErrDispatchRejected)
}
