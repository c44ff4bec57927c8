package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/domain"
)

// mockDeliveryQueue implements DeliveryQueue for testing.
type mockDeliveryQueue struct {
	due []domain.QueuedNotification

	claimErr error

	delivered []int32
	dead      []int32
	retried   map[int32]time.Time
}

func (m *mockDeliveryQueue) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.QueuedNotification, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	n := min(limit, len(m.due))
	batch := m.due[:n]
	m.due = m.due[n:]
	for i := range batch {
		batch[i].Attempts++
	}
	return batch, nil
}

func (m *mockDeliveryQueue) MarkDelivered(ctx context.Context, q domain.QueuedNotification, at time.Time) error {
	m.delivered = append(m.delivered, q.ID)
	return nil
}

func (m *mockDeliveryQueue) MarkDead(ctx context.Context, q domain.QueuedNotification, at time.Time, cause error) error {
	m.dead = append(m.dead, q.ID)
	return nil
}

func (m *mockDeliveryQueue) Retry(ctx context.Context, q domain.QueuedNotification, retryAt time.Time, cause error) error {
	if m.retried == nil {
		m.retried = map[int32]time.Time{}
	}
	m.retried[q.ID] = retryAt
	return nil
}

func queued(id int32, attempts int) domain.QueuedNotification {
	return domain.QueuedNotification{
		Notification: domain.Notification{ID: id, Title: "t", Body: "b", Payload: map[string]string{}},
		Attempts:     attempts,
	}
}

func TestDispatchOnce_DeliversAll(t *testing.T) {
	queue := &mockDeliveryQueue{due: []domain.QueuedNotification{queued(1, 0), queued(2, 0), queued(3, 0)}}
	var seen []int32
	sink := funcSink(func(_ context.Context, n domain.Notification) error {
		seen = append(seen, n.ID)
		return nil
	})

	dp := NewDispatcher(queue, sink, WithBatchSize(2))
	n, err := dp.DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int32{1, 2, 3}, seen)
	assert.Equal(t, []int32{1, 2, 3}, queue.delivered)
}

func TestDispatchOnce_TransientFailureRetriesWithBackoff(t *testing.T) {
	now := time.Date(2025, time.May, 25, 9, 0, 0, 0, time.UTC)
	queue := &mockDeliveryQueue{due: []domain.QueuedNotification{queued(1, 1)}}
	sink := funcSink(func(context.Context, domain.Notification) error {
		return Transient(errors.New("503"))
	})

	dp := NewDispatcher(queue, sink,
		WithNow(func() time.Time { return now }),
		WithBackoff(time.Minute, time.Hour),
		WithMaxAttempts(5))
	n, err := dp.DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	require.Contains(t, queue.retried, int32(1))
	// Second attempt: base doubled once, plus at most 10% jitter.
	retryAt := queue.retried[1]
	assert.True(t, !retryAt.Before(now.Add(2*time.Minute)), "retry at %s", retryAt)
	assert.True(t, retryAt.Before(now.Add(2*time.Minute+13*time.Second)), "retry at %s", retryAt)
	assert.Empty(t, queue.dead)
}

func TestDispatchOnce_PermanentFailureGoesDead(t *testing.T) {
	queue := &mockDeliveryQueue{due: []domain.QueuedNotification{queued(1, 0)}}
	sink := funcSink(func(context.Context, domain.Notification) error {
		return errors.New("400 bad request")
	})

	n, err := NewDispatcher(queue, sink).DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int32{1}, queue.dead)
	assert.Empty(t, queue.retried)
}

func TestDispatchOnce_ExhaustedAttemptsGoDead(t *testing.T) {
	queue := &mockDeliveryQueue{due: []domain.QueuedNotification{queued(1, 2)}}
	sink := funcSink(func(context.Context, domain.Notification) error {
		return Transient(errors.New("timeout"))
	})

	_, err := NewDispatcher(queue, sink, WithMaxAttempts(3)).DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int32{1}, queue.dead)
}

func TestDispatchOnce_ClaimError(t *testing.T) {
	queue := &mockDeliveryQueue{claimErr: errors.New("database is locked")}

	_, err := NewDispatcher(queue, LogSink{}).DispatchOnce(context.Background())

	require.Error(t, err)
}

func TestBackoff_Capped(t *testing.T) {
	dp := NewDispatcher(&mockDeliveryQueue{}, LogSink{}, WithBackoff(time.Second, 10*time.Second))

	assert.GreaterOrEqual(t, dp.backoff(1), time.Second)
	assert.Less(t, dp.backoff(1), 1100*time.Millisecond+time.Nanosecond)
	assert.GreaterOrEqual(t, dp.backoff(20), 10*time.Second)
	assert.LessOrEqual(t, dp.backoff(20), 11*time.Second)
}

func TestRun_StopsOnCancel(t *testing.T) {
	queue := &mockDeliveryQueue{due: []domain.QueuedNotification{queued(1, 0)}}
	fired := make(chan int32, 1)
	sink := funcSink(func(_ context.Context, n domain.Notification) error {
		fired <- n.ID
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewDispatcher(queue, sink, WithPollInterval(time.Hour)).Run(ctx) }()

	select {
	case id := <-fired:
		assert.EqualValues(t, 1, id)
	case <-time.After(5 * time.Second):
		t.Fatal("notification was not dispatched on start")
	}
	cancel()
	require.NoError(t, <-done)
}
