package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rezkam/renewal/internal/domain"
)

// Enqueue inserts n, replacing any pending notification with the same ID.
// A replaced notification starts over with zero attempts and a new version.
func (s *Store) Enqueue(ctx context.Context, n domain.Notification) error {
	payload, err := encodePayload(n.Payload)
	if err != nil {
		return err
	}

	now := toNanos(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_queue (id, fires_at, title, body, payload, version, attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, 1, 0, ?, '', ?)
		ON CONFLICT (id) DO UPDATE SET
			fires_at        = excluded.fires_at,
			title           = excluded.title,
			body            = excluded.body,
			payload         = excluded.payload,
			version         = notification_queue.version + 1,
			attempts        = 0,
			next_attempt_at = excluded.next_attempt_at,
			last_error      = ''
	`, n.ID, toNanos(n.FiresAt), n.Title, n.Body, payload, toNanos(n.FiresAt), now)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification %d: %w", n.ID, err)
	}
	return nil
}

// Remove deletes pending notifications. Unknown IDs are ignored.
func (s *Store) Remove(ctx context.Context, ids []int32) error {
	if len(ids) == 0 {
		return nil
	}
	return s.executeInTransaction(ctx, "remove_notifications", func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM notification_queue WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to remove notification %d: %w", id, err)
			}
		}
		return nil
	})
}

// Pending returns every notification still in the queue, ordered by fire time.
func (s *Store) Pending(ctx context.Context) ([]domain.PendingNotification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, fires_at FROM notification_queue ORDER BY fires_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingNotification
	for rows.Next() {
		var (
			p       domain.PendingNotification
			firesAt int64
		)
		if err := rows.Scan(&p.ID, &firesAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending notification: %w", err)
		}
		p.FiresAt = fromNanos(firesAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending notifications: %w", err)
	}
	return out, nil
}

// findQueued returns one queued notification or domain.ErrNotFound.
func (s *Store) findQueued(ctx context.Context, id int32) (*domain.QueuedNotification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fires_at, title, body, payload, attempts, version
		FROM notification_queue WHERE id = ?
	`, id)
	q, err := scanQueued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ClaimDue leases up to limit notifications whose next attempt is due at now.
// Each claimed row's attempt count is incremented and its next attempt pushed
// to now+lease, so a crashed delivery is retried after the lease expires.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.QueuedNotification, error) {
	var claimed []domain.QueuedNotification

	err := s.executeInTransaction(ctx, "claim_due", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, fires_at, title, body, payload, attempts, version
			FROM notification_queue
			WHERE next_attempt_at <= ?
			ORDER BY next_attempt_at ASC, id ASC
			LIMIT ?
		`, toNanos(now), limit)
		if err != nil {
			return fmt.Errorf("failed to select due notifications: %w", err)
		}
		for rows.Next() {
			q, err := scanQueued(rows)
			if err != nil {
				rows.Close()
				return err
			}
			claimed = append(claimed, *q)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to close due notifications: %w", err)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate due notifications: %w", err)
		}

		leaseUntil := toNanos(now.Add(lease))
		for i := range claimed {
			claimed[i].Attempts++
			if _, err := tx.ExecContext(ctx, `
				UPDATE notification_queue SET attempts = ?, next_attempt_at = ?
				WHERE id = ? AND version = ?
			`, claimed[i].Attempts, leaseUntil, claimed[i].ID, claimed[i].Version); err != nil {
				return fmt.Errorf("failed to lease notification %d: %w", claimed[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkDelivered moves a claimed notification to the delivery history.
// It is a no-op if the notification was rescheduled or cancelled meanwhile.
func (s *Store) MarkDelivered(ctx context.Context, q domain.QueuedNotification, at time.Time) error {
	return s.finish(ctx, q, at, domain.DeliveryDelivered, "")
}

// MarkDead moves a claimed notification that exhausted its attempts to the history.
func (s *Store) MarkDead(ctx context.Context, q domain.QueuedNotification, at time.Time, cause error) error {
	return s.finish(ctx, q, at, domain.DeliveryDead, cause.Error())
}

func (s *Store) finish(ctx context.Context, q domain.QueuedNotification, at time.Time, status domain.DeliveryStatus, lastError string) error {
	payload, err := encodePayload(q.Payload)
	if err != nil {
		return err
	}

	return s.executeInTransaction(ctx, "finish_notification", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notification_queue WHERE id = ? AND version = ?`, q.ID, q.Version)
		if err != nil {
			return fmt.Errorf("failed to dequeue notification %d: %w", q.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO notification_deliveries (notification_id, title, body, payload, fires_at, delivered_at, attempts, status, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, q.ID, q.Title, q.Body, payload, toNanos(q.FiresAt), toNanos(at), q.Attempts, string(status), lastError)
		if err != nil {
			return fmt.Errorf("failed to record delivery of notification %d: %w", q.ID, err)
		}
		return nil
	})
}

// Retry records a failed attempt and schedules the next one at retryAt.
func (s *Store) Retry(ctx context.Context, q domain.QueuedNotification, retryAt time.Time, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue SET next_attempt_at = ?, last_error = ?
		WHERE id = ? AND version = ?
	`, toNanos(retryAt), cause.Error(), q.ID, q.Version)
	if err != nil {
		return fmt.Errorf("failed to reschedule delivery of notification %d: %w", q.ID, err)
	}
	return nil
}

// RecentDeliveries returns the newest delivery history records first.
func (s *Store) RecentDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT notification_id, title, body, payload, fires_at, delivered_at, attempts, status, last_error
		FROM notification_deliveries
		ORDER BY delivered_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var (
			d                    domain.Delivery
			payload, status      string
			firesAt, deliveredAt int64
		)
		if err := rows.Scan(&d.NotificationID, &d.Title, &d.Body, &payload, &firesAt, &deliveredAt, &d.Attempts, &status, &d.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		if d.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		d.FiresAt = fromNanos(firesAt)
		d.DeliveredAt = fromNanos(deliveredAt)
		d.Status = domain.DeliveryStatus(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueued(row rowScanner) (*domain.QueuedNotification, error) {
	var (
		q       domain.QueuedNotification
		firesAt int64
		payload string
	)
	if err := row.Scan(&q.ID, &firesAt, &q.Title, &q.Body, &payload, &q.Attempts, &q.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queued notification: %w", err)
	}
	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	q.Payload = p
	q.FiresAt = fromNanos(firesAt)
	return &q, nil
}

func encodePayload(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) (map[string]string, error) {
	p := map[string]string{}
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return p, nil
}
