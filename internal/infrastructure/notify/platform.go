// Package notify is the notification primitive: a durable queue the
// scheduler writes to, and a dispatcher that fires due notifications into
// delivery sinks even across process restarts.
package notify

import (
	"context"
	"fmt"

	"github.com/rezkam/renewal/internal/application/scheduler"
	"github.com/rezkam/renewal/internal/domain"
)

// Queue is the pending side of the durable notification queue.
type Queue interface {
	Enqueue(ctx context.Context, n domain.Notification) error
	Remove(ctx context.Context, ids []int32) error
	Pending(ctx context.Context) ([]domain.PendingNotification, error)
}

// Platform implements scheduler.Notifier over a Queue.
type Platform struct {
	queue   Queue
	enabled bool
	sink    Sink
}

var _ scheduler.Notifier = (*Platform)(nil)

// NewPlatform creates a Platform. Permission is granted only when delivery is
// enabled and there is a sink to deliver to.
func NewPlatform(queue Queue, enabled bool, sink Sink) *Platform {
	return &Platform{queue: queue, enabled: enabled, sink: sink}
}

// RequestPermission reports whether notifications can be delivered.
func (p *Platform) RequestPermission(ctx context.Context) (bool, error) {
	return p.enabled && p.sink != nil, nil
}

// Schedule enqueues n, replacing any pending notification with the same ID.
func (p *Platform) Schedule(ctx context.Context, n domain.Notification) error {
	if !p.enabled {
		return domain.ErrPermissionDenied
	}
	if n.ID <= 0 {
		return fmt.Errorf("invalid notification id %d", n.ID)
	}
	if n.FiresAt.IsZero() {
		return fmt.Errorf("notification %d has no fire time", n.ID)
	}
	return p.queue.Enqueue(ctx, n)
}

// Cancel removes pending notifications. Unknown IDs are ignored.
func (p *Platform) Cancel(ctx context.Context, ids []int32) error {
	return p.queue.Remove(ctx, ids)
}

// ListPending returns the notifications that have not fired yet.
func (p *Platform) ListPending(ctx context.Context) ([]domain.PendingNotification, error) {
	return p.queue.Pending(ctx)
}
