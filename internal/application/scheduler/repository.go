package scheduler

import (
	"context"
	"time"

	"github.com/rezkam/renewal/internal/domain"
)

// DocumentRepository is the read side of the document store.
type DocumentRepository interface {
	// ListDocuments returns every document owned by the user.
	ListDocuments(ctx context.Context) ([]*domain.Document, error)

	// FindDocumentByID returns domain.ErrDocumentNotFound when id is unknown.
	FindDocumentByID(ctx context.Context, id string) (*domain.Document, error)
}

// Notifier is the platform notification primitive.
// Notifications scheduled through it fire even if this process is not running.
type Notifier interface {
	// RequestPermission reports whether notifications may be delivered.
	RequestPermission(ctx context.Context) (bool, error)

	// Schedule registers n. Scheduling an ID that is already pending replaces it.
	Schedule(ctx context.Context, n domain.Notification) error

	// Cancel removes pending notifications. Unknown IDs are ignored.
	Cancel(ctx context.Context, ids []int32) error

	// ListPending returns every notification that has not fired yet.
	ListPending(ctx context.Context) ([]domain.PendingNotification, error)
}

// ScheduleStore is the durable bookkeeping of what the scheduler believes is pending.
type ScheduleStore interface {
	// RecordScheduled upserts r keyed by (DocumentID, Slot).
	RecordScheduled(ctx context.Context, r domain.ScheduledReminder) error

	// ClearScheduled removes entries for documentID. No slots means every slot.
	ClearScheduled(ctx context.Context, documentID string, slots ...domain.SlotKind) error

	// ListScheduled returns every entry ordered by fire time.
	ListScheduled(ctx context.Context) ([]domain.ScheduledReminder, error)

	// FindScheduled returns the entries for one document.
	FindScheduled(ctx context.Context, documentID string) ([]domain.ScheduledReminder, error)

	// ReplaceScheduled atomically swaps the document's entries for reminders.
	ReplaceScheduled(ctx context.Context, documentID string, reminders []domain.ScheduledReminder) error
}

// Clock abstracts the wall clock so passes can be driven deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
