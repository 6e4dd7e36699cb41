package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Dispatcher performs the opaque side effect behind task, script and webhook
// steps, and behind compensating actions. The engine does not interpret the
// action string beyond handing it over together with the step input.
type Dispatcher interface {
	Call(ctx context.Context, action string, payload map[string]any, timeout time.Duration) (map[string]any, error)
}

// Notifier delivers notification step payloads and approval reminders.
// Delivery failures never fail the workflow, callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject string, payload map[string]any) error
}

// HTTPDispatcher posts the step input as JSON to the action URL and decodes
// the JSON response body as the step output.
type HTTPDispatcher struct {
	Client *http.Client
}

func NewHTTPDispatcher() *HTTPDispatcher {
	return &HTTPDispatcher{Client: &http.Client{Timeout: 60 * time.Second}}
}

func (d *HTTPDispatcher) Call(ctx context.Context, action string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatching to %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading dispatch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("dispatch to %s returned status %d: %s", action, resp.StatusCode, truncate(string(raw), 200))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		// Non-JSON bodies are kept verbatim under a single key.
		return map[string]any{"body": string(raw)}, nil
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// LogNotifier writes notifications to the structured log. It stands in when no
// delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipients []string, subject string, payload map[string]any) error {
	slog.Info("Notification", "recipients", recipients, "subject", subject, "payload", payload)
	return nil
}
