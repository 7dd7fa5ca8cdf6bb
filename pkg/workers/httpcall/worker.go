// Package httpcall implements the asynchronous HTTP worker. It dispatches the
// node's work to an external service in a single outbound request carrying the
// callback URL, and returns as soon as the service acknowledges receipt. The
// node completes later, when the service POSTs to the callback URL.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowion/flowion/pkg/protocol"
)

const defaultTimeoutSeconds = 30

var (
	// ErrURLInvalid is returned when the worker config has no usable URL.
	ErrURLInvalid = errors.New("invalid url in http_call configuration")
	// ErrDispatchRejected is returned when the external service answers the
	// dispatch request with a non-2xx status.
	ErrDispatchRejected = errors.New("external service rejected dispatch")
)

// Worker dispatches node work to an external HTTP service.
type Worker struct {
	URL     string
	Method  string
	Headers map[string]string
	Timeout time.Duration
	Retry   RetryConfig

	client *http.Client
}

// RetryConfig defines retry behavior for the dispatch request. Only the
// dispatch is retried; a dispatched node is never re-sent.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func NewWorker(config map[string]any) (*Worker, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLInvalid
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	retry := RetryConfig{Attempts: 1}

	if retryMap, ok := config["retry"].(map[string]any); ok {
		if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
			retry.Attempts = int(attempts)
		}

		if delay, ok := retryMap["delay"].(float64); ok && delay >= 0 {
			retry.Delay = time.Duration(delay) * time.Millisecond
		}
	}

	return &Worker{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Timeout: timeout,
		Retry:   retry,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Execute sends the dispatch request. The returned value is only an
// acknowledgment; the node's completion arrives via the callback URL.
func (w *Worker) Execute(ctx context.Context, request protocol.WorkerRequest, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "http_call_worker")
	logger.InfoContext(ctx, "Dispatching node work", "url", w.URL)

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch payload: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= w.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("Dispatch retry attempt %d/%d", attempt, w.Retry.Attempts))
			time.Sleep(w.Retry.Delay)
		}

		lastErr = w.dispatch(ctx, body)
		if lastErr == nil {
			return map[string]any{"dispatched": true}, nil
		}
	}

	return nil, fmt.Errorf("all dispatch attempts failed: %w", lastErr)
}

func (w *Worker) dispatch(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.Method, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create dispatch request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range w.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrDispatchRejected)
	}

	return nil
}

// Validate checks if the worker has valid configuration.
func (w *Worker) Validate(_ context.Context) error {
	if w.URL == "" {
		return ErrURLInvalid
	}

	if w.Method == "" {
		return errors.New("http_call method is empty")
	}

	return nil
}
