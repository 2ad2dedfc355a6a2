package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/logger"
)

// DefaultWebhookTimeout bounds a single webhook request.
const DefaultWebhookTimeout = 10 * time.Second

const maxResponseBody = 64 << 10

// Webhook implements http.webhook: it POSTs the payload argument as JSON
// to url. Non-2xx responses are failures.
//
// Arguments: url (string, required), payload (any).
type Webhook struct {
	client  *http.Client
	timeout time.Duration
}

// NewWebhook creates the http.webhook capability. A nil client uses a
// dedicated client; a non-positive timeout uses DefaultWebhookTimeout.
func NewWebhook(client *http.Client, timeout time.Duration) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Webhook{client: client, timeout: timeout}
}

// WebhookResult is returned to the executor and stored on the task.
type WebhookResult struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

func (w *Webhook) Invoke(ctx context.Context, args map[string]any, cc tool.CallContext) (any, error) {
	raw, _ := args["url"].(string)
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("url %q must be an absolute http(s) URL", raw)
	}

	body, err := json.Marshal(args["payload"])
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toolgate")
	if cc.UserID != "" {
		req.Header.Set("X-User-ID", cc.UserID)
	}
	if cc.EventID != "" {
		req.Header.Set("X-Event-ID", cc.EventID)
	}
	if reqID := logger.RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := w.client.Do(req) //nolint:gosec // URL comes from the tool definition
	if err != nil {
		return nil, fmt.Errorf("webhook send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("webhook read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook %s returned %d: %s", target.Host, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	result := WebhookResult{Status: resp.StatusCode}
	if len(respBody) > 0 {
		var decoded any
		if json.Unmarshal(respBody, &decoded) == nil {
			result.Body = decoded
		} else {
			result.Body = string(respBody)
		}
	}
	return result, nil
}
