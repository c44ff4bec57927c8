package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rezkam/renewal/internal/domain"
)

const instrumentationName = "github.com/rezkam/renewal/internal/infrastructure/notify"

// DeliveryQueue is the delivery side of the durable notification queue.
type DeliveryQueue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.QueuedNotification, error)
	MarkDelivered(ctx context.Context, q domain.QueuedNotification, at time.Time) error
	MarkDead(ctx context.Context, q domain.QueuedNotification, at time.Time, cause error) error
	Retry(ctx context.Context, q domain.QueuedNotification, retryAt time.Time, cause error) error
}

// Dispatcher fires due notifications into a Sink.
type Dispatcher struct {
	queue DeliveryQueue
	sink  Sink
	now   func() time.Time

	pollInterval    time.Duration
	deliveryTimeout time.Duration
	lease           time.Duration
	batchSize       int
	maxAttempts     int
	baseBackoff     time.Duration
	maxBackoff      time.Duration

	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

// DispatcherOption is a functional option for configuring Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the queue is checked for due notifications.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.pollInterval = d
	}
}

// WithDeliveryTimeout bounds a single sink delivery.
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.deliveryTimeout = d
	}
}

// WithMaxAttempts sets how many times a delivery is tried before it is marked dead.
func WithMaxAttempts(n int) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.maxAttempts = n
	}
}

// WithBackoff sets the exponential retry backoff bounds.
func WithBackoff(base, maxDelay time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.baseBackoff = base
		dp.maxBackoff = maxDelay
	}
}

// WithBatchSize limits notifications claimed per poll.
func WithBatchSize(n int) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.batchSize = n
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.now = now
	}
}

// NewDispatcher creates a Dispatcher delivering from queue into sink.
func NewDispatcher(queue DeliveryQueue, sink Sink, opts ...DispatcherOption) *Dispatcher {
	dp := &Dispatcher{
		queue:           queue,
		sink:            sink,
		now:             time.Now,
		pollInterval:    15 * time.Second,
		deliveryTimeout: 10 * time.Second,
		batchSize:       50,
		maxAttempts:     5,
		baseBackoff:     30 * time.Second,
		maxBackoff:      30 * time.Minute,
	}
	for _, opt := range opts {
		opt(dp)
	}
	// A claimed notification whose delivery never reports back becomes due
	// again once the lease runs out.
	dp.lease = 2 * dp.deliveryTimeout

	meter := otel.Meter(instrumentationName)
	var err error
	if dp.delivered, err = meter.Int64Counter("renewal.notifications.delivered",
		metric.WithDescription("Notifications delivered to a sink"),
		metric.WithUnit("{notification}")); err != nil {
		otel.Handle(err)
	}
	if dp.failed, err = meter.Int64Counter("renewal.notifications.failed",
		metric.WithDescription("Failed notification delivery attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		otel.Handle(err)
	}
	return dp
}

// Run delivers due notifications until ctx is cancelled. It checks the queue
// immediately, then every poll interval.
func (dp *Dispatcher) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "notification dispatcher started", "poll_interval", dp.pollInterval)

	if _, err := dp.DispatchOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "notification dispatch failed", "error", err)
	}

	ticker := time.NewTicker(dp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "notification dispatcher stopped")
			return nil
		case <-ticker.C:
			if _, err := dp.DispatchOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "notification dispatch failed", "error", err)
			}
		}
	}
}

// DispatchOnce claims and delivers every notification that is due now.
// It returns how many were delivered.
func (dp *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	var delivered int
	for {
		now := dp.now()
		batch, err := dp.queue.ClaimDue(ctx, now, dp.batchSize, dp.lease)
		if err != nil {
			return delivered, fmt.Errorf("failed to claim due notifications: %w", err)
		}
		if len(batch) == 0 {
			return delivered, nil
		}

		for _, q := range batch {
			if ctx.Err() != nil {
				// Unfinished claims are retried once their lease expires.
				return delivered, nil
			}
			ok, err := dp.deliver(ctx, q)
			if err != nil {
				return delivered, err
			}
			if ok {
				delivered++
			}
		}

		if len(batch) < dp.batchSize {
			return delivered, nil
		}
	}
}

// deliver hands q to the sink and records the result. The returned error is
// a queue failure; sink failures are recorded on the notification.
func (dp *Dispatcher) deliver(ctx context.Context, q domain.QueuedNotification) (bool, error) {
	deliverCtx, cancel := context.WithTimeout(ctx, dp.deliveryTimeout)
	sinkErr := dp.sink.Deliver(deliverCtx, q.Notification)
	cancel()

	attrs := metric.WithAttributes(attribute.String("slot_kind", q.Payload[domain.PayloadSlotKind]))
	now := dp.now()

	if sinkErr == nil {
		if err := dp.queue.MarkDelivered(ctx, q, now); err != nil {
			return false, fmt.Errorf("failed to mark notification %d delivered: %w", q.ID, err)
		}
		dp.delivered.Add(ctx, 1, attrs)
		return true, nil
	}

	dp.failed.Add(ctx, 1, attrs)

	if !IsRetryable(sinkErr) || q.Attempts >= dp.maxAttempts {
		slog.ErrorContext(ctx, "notification delivery abandoned",
			"notification_id", q.ID,
			"document_id", q.Payload[domain.PayloadDocumentID],
			"attempts", q.Attempts,
			"retryable", IsRetryable(sinkErr),
			"error", sinkErr)
		if err := dp.queue.MarkDead(ctx, q, now, sinkErr); err != nil {
			return false, fmt.Errorf("failed to mark notification %d dead: %w", q.ID, err)
		}
		return false, nil
	}

	retryAt := now.Add(dp.backoff(q.Attempts))
	slog.WarnContext(ctx, "notification delivery failed, will retry",
		"notification_id", q.ID,
		"document_id", q.Payload[domain.PayloadDocumentID],
		"attempts", q.Attempts,
		"retry_at", retryAt,
		"error", sinkErr)
	if err := dp.queue.Retry(ctx, q, retryAt, sinkErr); err != nil {
		return false, fmt.Errorf("failed to schedule retry of notification %d: %w", q.ID, err)
	}
	return false, nil
}

// backoff doubles from baseBackoff per attempt, capped at maxBackoff, plus up
// to 10% jitter.
func (dp *Dispatcher) backoff(attempts int) time.Duration {
	d := dp.baseBackoff
	for i := 1; i < attempts && d < dp.maxBackoff; i++ {
		d *= 2
	}
	d = min(d, dp.maxBackoff)
	if jitter := d / 10; jitter > 0 {
		d += rand.N(jitter)
	}
	return d
}
