package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rezkam/renewal/internal/application/scheduler"
	"github.com/rezkam/renewal/internal/domain"
)

var _ scheduler.ScheduleStore = (*Store)(nil)

// RecordScheduled upserts r keyed by (document_id, slot_kind).
func (s *Store) RecordScheduled(ctx context.Context, r domain.ScheduledReminder) error {
	if err := recordScheduled(ctx, s.db, r); err != nil {
		return fmt.Errorf("failed to record scheduled reminder: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordScheduled(ctx context.Context, db execer, r domain.ScheduledReminder) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scheduled_reminders (document_id, slot_kind, notification_id, fires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, slot_kind) DO UPDATE SET
			notification_id = excluded.notification_id,
			fires_at        = excluded.fires_at,
			updated_at      = excluded.updated_at
	`, r.DocumentID, string(r.Slot), r.NotificationID, toNanos(r.FiresAt), toNanos(time.Now()))
	return err
}

// ClearScheduled removes entries for documentID. No slots clears every slot.
func (s *Store) ClearScheduled(ctx context.Context, documentID string, slots ...domain.SlotKind) error {
	if len(slots) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_reminders WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("failed to clear scheduled reminders: %w", err)
		}
		return nil
	}

	return s.executeInTransaction(ctx, "clear_scheduled", func(tx *sql.Tx) error {
		for _, slot := range slots {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM scheduled_reminders WHERE document_id = ? AND slot_kind = ?`,
				documentID, string(slot)); err != nil {
				return fmt.Errorf("failed to clear scheduled %s reminder: %w", slot, err)
			}
		}
		return nil
	})
}

// ListScheduled returns every entry ordered by fire time.
func (s *Store) ListScheduled(ctx context.Context) ([]domain.ScheduledReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, slot_kind, notification_id, fires_at
		FROM scheduled_reminders
		ORDER BY fires_at ASC, document_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled reminders: %w", err)
	}
	defer rows.Close()

	return scanScheduled(rows)
}

// FindScheduled returns the entries for one document.
func (s *Store) FindScheduled(ctx context.Context, documentID string) ([]domain.ScheduledReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, slot_kind, notification_id, fires_at
		FROM scheduled_reminders
		WHERE document_id = ?
		ORDER BY fires_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled reminders: %w", err)
	}
	defer rows.Close()

	return scanScheduled(rows)
}

// ReplaceScheduled swaps the document's entries for reminders in one transaction.
func (s *Store) ReplaceScheduled(ctx context.Context, documentID string, reminders []domain.ScheduledReminder) error {
	return s.executeInTransaction(ctx, "replace_scheduled", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_reminders WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("failed to clear scheduled reminders: %w", err)
		}
		for _, r := range reminders {
			if r.DocumentID != documentID {
				return fmt.Errorf("%w: reminder for %q in replace of %q", domain.ErrInvalidDocument, r.DocumentID, documentID)
			}
			if err := recordScheduled(ctx, tx, r); err != nil {
				return fmt.Errorf("failed to record scheduled reminder: %w", err)
			}
		}
		return nil
	})
}

func scanScheduled(rows *sql.Rows) ([]domain.ScheduledReminder, error) {
	var out []domain.ScheduledReminder
	for rows.Next() {
		var (
			r       domain.ScheduledReminder
			slot    string
			firesAt int64
		)
		if err := rows.Scan(&r.DocumentID, &slot, &r.NotificationID, &firesAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled reminder: %w", err)
		}
		r.Slot = domain.SlotKind(slot)
		r.FiresAt = fromNanos(firesAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled reminders: %w", err)
	}
	return out, nil
}
