package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rezkam/renewal/internal/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeRepository serves documents from memory.
type fakeRepository struct {
	docs             map[string]*domain.Document
	listDocumentsErr error
}

func newFakeRepository(docs ...*domain.Document) *fakeRepository {
	r := &fakeRepository{docs: map[string]*domain.Document{}}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *fakeRepository) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	if r.listDocumentsErr != nil {
		return nil, r.listDocumentsErr
	}
	out := make([]*domain.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepository) FindDocumentByID(ctx context.Context, id string) (*domain.Document, error) {
	d, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return d, nil
}

// fakeNotifier is an in-memory platform primitive with optional failure hooks.
type fakeNotifier struct {
	mu sync.Mutex

	granted         bool
	permissionErr   error
	permissionCalls int

	pending map[int32]domain.Notification

	scheduleFunc    func(n domain.Notification) error
	cancelFunc      func(ids []int32) error
	listPendingFunc func() error

	scheduleCalls int
	cancelCalls   int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{granted: true, pending: map[int32]domain.Notification{}}
}

func (n *fakeNotifier) RequestPermission(ctx context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.permissionCalls++
	if n.permissionErr != nil {
		return false, n.permissionErr
	}
	return n.granted, nil
}

func (n *fakeNotifier) Schedule(ctx context.Context, notification domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduleCalls++
	if n.scheduleFunc != nil {
		if err := n.scheduleFunc(notification); err != nil {
			return err
		}
	}
	n.pending[notification.ID] = notification
	return nil
}

func (n *fakeNotifier) Cancel(ctx context.Context, ids []int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelCalls++
	if n.cancelFunc != nil {
		if err := n.cancelFunc(ids); err != nil {
			return err
		}
	}
	for _, id := range ids {
		delete(n.pending, id)
	}
	return nil
}

func (n *fakeNotifier) ListPending(ctx context.Context) ([]domain.PendingNotification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listPendingFunc != nil {
		if err := n.listPendingFunc(); err != nil {
			return nil, err
		}
	}
	out := make([]domain.PendingNotification, 0, len(n.pending))
	for _, p := range n.pending {
		out = append(out, domain.PendingNotification{ID: p.ID, FiresAt: p.FiresAt})
	}
	return out, nil
}

func (n *fakeNotifier) pendingFor(id int32) (domain.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[id]
	return p, ok
}

func (n *fakeNotifier) pendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

var errStoreDown = errors.New("disk I/O error")

// fakeStore keeps schedule bookkeeping in memory. failOps makes the named
// operations fail with errStoreDown.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]map[domain.SlotKind]domain.ScheduledReminder
	failOps map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: map[string]map[domain.SlotKind]domain.ScheduledReminder{},
		failOps: map[string]bool{},
	}
}

func (s *fakeStore) RecordScheduled(ctx context.Context, r domain.ScheduledReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps["record"] {
		return errStoreDown
	}
	if s.entries[r.DocumentID] == nil {
		s.entries[r.DocumentID] = map[domain.SlotKind]domain.ScheduledReminder{}
	}
	s.entries[r.DocumentID][r.Slot] = r
	return nil
}

func (s *fakeStore) ClearScheduled(ctx context.Context, documentID string, slots ...domain.SlotKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps["clear"] {
		return errStoreDown
	}
	if len(slots) == 0 {
		delete(s.entries, documentID)
		return nil
	}
	for _, slot := range slots {
		delete(s.entries[documentID], slot)
	}
	if len(s.entries[documentID]) == 0 {
		delete(s.entries, documentID)
	}
	return nil
}

func (s *fakeStore) ListScheduled(ctx context.Context) ([]domain.ScheduledReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps["list"] {
		return nil, errStoreDown
	}
	var out []domain.ScheduledReminder
	for _, slots := range s.entries {
		for _, r := range slots {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiresAt.Before(out[j].FiresAt) })
	return out, nil
}

func (s *fakeStore) FindScheduled(ctx context.Context, documentID string) ([]domain.ScheduledReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps["find"] {
		return nil, errStoreDown
	}
	var out []domain.ScheduledReminder
	for _, r := range s.entries[documentID] {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) ReplaceScheduled(ctx context.Context, documentID string, reminders []domain.ScheduledReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps["replace"] {
		return errStoreDown
	}
	delete(s.entries, documentID)
	for _, r := range reminders {
		if s.entries[documentID] == nil {
			s.entries[documentID] = map[domain.SlotKind]domain.ScheduledReminder{}
		}
		s.entries[documentID][r.Slot] = r
	}
	return nil
}

func (s *fakeStore) slots(documentID string) map[domain.SlotKind]domain.ScheduledReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.SlotKind]domain.ScheduledReminder{}
	for k, v := range s.entries[documentID] {
		out[k] = v
	}
	return out
}
