package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rezkam/renewal/internal/domain"
)

// Sink delivers a fired notification to the user.
type Sink interface {
	Deliver(ctx context.Context, n domain.Notification) error
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, n domain.Notification) error {
	slog.InfoContext(ctx, "notification fired",
		"notification_id", n.ID,
		"document_id", n.Payload[domain.PayloadDocumentID],
		"slot_kind", n.Payload[domain.PayloadSlotKind],
		"title", n.Title,
		"body", n.Body,
		"fires_at", n.FiresAt)
	return nil
}

// WebhookFormat selects the request body a WebhookSink sends.
type WebhookFormat string

const (
	// WebhookJSON posts the notification as a JSON document.
	WebhookJSON WebhookFormat = "json"
	// WebhookNtfy posts the body as plain text with ntfy headers.
	WebhookNtfy WebhookFormat = "ntfy"
)

// WebhookSink posts notifications to an HTTP endpoint.
type WebhookSink struct {
	url    string
	format WebhookFormat
	client *http.Client
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookFormat sets the request format.
func WithWebhookFormat(f WebhookFormat) WebhookOption {
	return func(s *WebhookSink) {
		s.format = f
	}
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		s.client = c
	}
}

// NewWebhookSink creates a sink posting to url. The default client traces
// requests through otelhttp.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:    url,
		format: WebhookJSON,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type webhookPayload struct {
	ID      int32             `json:"id"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	FiresAt time.Time         `json:"fires_at"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Deliver posts n. Network failures, 429 and 5xx responses are transient;
// other non-2xx responses are permanent.
func (s *WebhookSink) Deliver(ctx context.Context, n domain.Notification) error {
	req, err := s.newRequest(ctx, n)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("webhook request failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := fmt.Errorf("webhook returned %s", resp.Status)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(statusErr)
	}
	return statusErr
}

func (s *WebhookSink) newRequest(ctx context.Context, n domain.Notification) (*http.Request, error) {
	if s.format == WebhookNtfy {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBufferString(n.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		req.Header.Set("Title", n.Title)
		req.Header.Set("Priority", ntfyPriority(domain.SlotKind(n.Payload[domain.PayloadSlotKind])))
		req.Header.Set("Tags", "calendar")
		return req, nil
	}

	body, err := json.Marshal(webhookPayload{
		ID:      n.ID,
		Title:   n.Title,
		Body:    n.Body,
		FiresAt: n.FiresAt.UTC(),
		Payload: n.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func ntfyPriority(slot domain.SlotKind) string {
	switch slot {
	case domain.SlotUrgentAlert:
		return "urgent"
	case domain.SlotFinalWarning:
		return "high"
	default:
		return "default"
	}
}

// MultiSink delivers to every sink. A delivery is retried if any sink failed
// transiently, which may repeat it on sinks that already succeeded.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, n domain.Notification) error {
	var (
		errs      []error
		retryable bool
	)
	for _, sink := range m {
		if err := sink.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
			retryable = retryable || IsRetryable(err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if retryable {
		return Transient(err)
	}
	return err
}
