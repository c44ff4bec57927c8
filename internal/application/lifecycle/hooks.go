// Package lifecycle turns external signals (foreground ticks, document
// changes, permission grants) into scheduler work, serialized behind a
// single in-flight guard.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rezkam/renewal/internal/application/scheduler"
	"github.com/rezkam/renewal/internal/domain"
)

// Engine is the subset of the scheduler the hooks drive.
type Engine interface {
	Now() time.Time
	ResetPermission()
	ScheduleForDocument(ctx context.Context, doc *domain.Document, now time.Time) (scheduler.Outcome, error)
	CancelForDocument(ctx context.Context, documentID string) error
	RescheduleAll(ctx context.Context, now time.Time) (scheduler.Summary, error)
	SendImmediateUrgentAlert(ctx context.Context, doc *domain.Document, now time.Time) (bool, error)
}

// DocumentFinder loads a single document by ID.
type DocumentFinder interface {
	FindDocumentByID(ctx context.Context, id string) (*domain.Document, error)
}

// PassLock serializes scheduler work across processes sharing one state store.
type PassLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// SignalKind identifies what happened outside the engine.
type SignalKind int

const (
	// SignalForeground is the app coming to the foreground (or a periodic tick).
	SignalForeground SignalKind = iota
	// SignalPermissionGranted is notification permission being granted after denial.
	SignalPermissionGranted
	// SignalDocumentSaved is a document being created or updated.
	SignalDocumentSaved
	// SignalDocumentDeleted is a document being removed.
	SignalDocumentDeleted
	// SignalDocumentHandled is a document being marked as renewed.
	SignalDocumentHandled
	// SignalDocumentsChanged is a bulk change where the affected IDs are unknown.
	SignalDocumentsChanged
)

func (k SignalKind) String() string {
	switch k {
	case SignalForeground:
		return "foreground"
	case SignalPermissionGranted:
		return "permission_granted"
	case SignalDocumentSaved:
		return "document_saved"
	case SignalDocumentDeleted:
		return "document_deleted"
	case SignalDocumentHandled:
		return "document_handled"
	case SignalDocumentsChanged:
		return "documents_changed"
	default:
		return "unknown"
	}
}

// Signal is one external event. DocumentID is set for single-document signals.
type Signal struct {
	Kind       SignalKind
	DocumentID string
}

// Hooks serializes scheduler work. At most one unit of work runs at a time.
// A request that arrives while work is in flight marks the state dirty and
// returns; the in-flight caller runs exactly one more full pass before
// releasing the guard, so no change is lost and two passes never overlap.
type Hooks struct {
	engine Engine
	docs   DocumentFinder

	guard *semaphore.Weighted
	dirty atomic.Bool
	lock  PassLock

	passes atomic.Int64
}

// Option is a functional option for configuring Hooks.
type Option func(*Hooks)

// WithPassLock makes every unit of work also hold lock, so a CLI and the
// daemon never reconcile the same state at once.
func WithPassLock(lock PassLock) Option {
	return func(h *Hooks) {
		h.lock = lock
	}
}

// New creates Hooks over engine. docs resolves IDs carried by document signals.
func New(engine Engine, docs DocumentFinder, opts ...Option) *Hooks {
	h := &Hooks{
		engine: engine,
		docs:   docs,
		guard:  semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Passes returns how many full reschedule passes have run.
func (h *Hooks) Passes() int64 {
	return h.passes.Load()
}

// OnAppForeground runs a full reschedule pass.
func (h *Hooks) OnAppForeground(ctx context.Context) error {
	return h.requestPass(ctx)
}

// OnPermissionGranted forgets the cached permission denial and runs a full pass.
func (h *Hooks) OnPermissionGranted(ctx context.Context) error {
	h.engine.ResetPermission()
	return h.requestPass(ctx)
}

// OnDocumentsChanged runs a full pass after a bulk change.
func (h *Hooks) OnDocumentsChanged(ctx context.Context) error {
	return h.requestPass(ctx)
}

// OnDocumentSaved schedules doc. While a pass is in flight the change is
// folded into one follow-up pass instead.
func (h *Hooks) OnDocumentSaved(ctx context.Context, doc *domain.Document) error {
	return h.single(ctx, func(ctx context.Context) error {
		out, err := h.engine.ScheduleForDocument(ctx, doc, h.engine.Now())
		if err != nil {
			return err
		}
		if out.PermissionDenied {
			slog.InfoContext(ctx, "document saved but notifications are not permitted", "document_id", doc.ID)
		}
		return nil
	})
}

// OnDocumentDeleted cancels every reminder of documentID.
func (h *Hooks) OnDocumentDeleted(ctx context.Context, documentID string) error {
	return h.single(ctx, func(ctx context.Context) error {
		return h.engine.CancelForDocument(ctx, documentID)
	})
}

// OnDocumentMarkedHandled cancels every reminder of documentID.
func (h *Hooks) OnDocumentMarkedHandled(ctx context.Context, documentID string) error {
	return h.single(ctx, func(ctx context.Context) error {
		return h.engine.CancelForDocument(ctx, documentID)
	})
}

// CancelReminders cancels every reminder of documentID and keeps the document.
func (h *Hooks) CancelReminders(ctx context.Context, documentID string) error {
	return h.single(ctx, func(ctx context.Context) error {
		return h.engine.CancelForDocument(ctx, documentID)
	})
}

// Reschedule runs one full pass and returns its summary. If a pass is already
// in flight in this process the request is folded into it and the zero
// Summary is returned.
func (h *Hooks) Reschedule(ctx context.Context) (scheduler.Summary, error) {
	var sum scheduler.Summary
	err := h.single(ctx, func(ctx context.Context) error {
		h.passes.Add(1)
		var err error
		sum, err = h.engine.RescheduleAll(ctx, h.engine.Now())
		return err
	})
	return sum, err
}

// RequestImmediateAlert sends an urgent alert for doc. It bypasses the guard:
// it only touches the urgent slot, which no pass records or reschedules.
func (h *Hooks) RequestImmediateAlert(ctx context.Context, doc *domain.Document) (bool, error) {
	return h.engine.SendImmediateUrgentAlert(ctx, doc, h.engine.Now())
}

// Run handles signals one at a time until ctx is done or signals is closed.
// Failures are logged; the loop keeps running.
func (h *Hooks) Run(ctx context.Context, signals <-chan Signal) error {
	slog.InfoContext(ctx, "lifecycle hooks started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "lifecycle hooks stopping")
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if err := h.Handle(ctx, sig); err != nil {
				slog.ErrorContext(ctx, "lifecycle signal failed",
					"signal", sig.Kind.String(),
					"document_id", sig.DocumentID,
					"error", err)
			}
		}
	}
}

// Handle dispatches a single signal.
func (h *Hooks) Handle(ctx context.Context, sig Signal) error {
	switch sig.Kind {
	case SignalForeground:
		return h.OnAppForeground(ctx)
	case SignalPermissionGranted:
		return h.OnPermissionGranted(ctx)
	case SignalDocumentsChanged:
		return h.OnDocumentsChanged(ctx)
	case SignalDocumentDeleted:
		return h.OnDocumentDeleted(ctx, sig.DocumentID)
	case SignalDocumentHandled:
		return h.OnDocumentMarkedHandled(ctx, sig.DocumentID)
	case SignalDocumentSaved:
		doc, err := h.docs.FindDocumentByID(ctx, sig.DocumentID)
		if errors.Is(err, domain.ErrDocumentNotFound) {
			// Saved then removed before we got here.
			return h.OnDocumentDeleted(ctx, sig.DocumentID)
		}
		if err != nil {
			return err
		}
		return h.OnDocumentSaved(ctx, doc)
	default:
		slog.WarnContext(ctx, "ignoring unknown lifecycle signal", "signal", sig.Kind.String())
		return nil
	}
}

// requestPass marks a full pass as wanted and drains it if no one else is.
func (h *Hooks) requestPass(ctx context.Context) error {
	h.dirty.Store(true)
	return h.drain(ctx)
}

// single runs fn under the guard. If the guard is busy the change is
// deferred to the in-flight holder as a full pass.
func (h *Hooks) single(ctx context.Context, fn func(context.Context) error) error {
	if !h.guard.TryAcquire(1) {
		h.dirty.Store(true)
		// The holder may have released between the failed acquire and the store.
		return h.drain(ctx)
	}
	err := h.locked(ctx, fn)
	h.guard.Release(1)
	if h.dirty.Load() {
		if drainErr := h.drain(ctx); drainErr != nil && err == nil {
			err = drainErr
		}
	}
	return err
}

// drain runs full passes while the dirty flag is set and the guard is free.
// It returns the first error encountered.
func (h *Hooks) drain(ctx context.Context) error {
	var err error
	for {
		if !h.guard.TryAcquire(1) {
			return err
		}
		for h.dirty.CompareAndSwap(true, false) {
			if passErr := h.locked(ctx, h.runPass); passErr != nil && err == nil {
				err = passErr
			}
		}
		h.guard.Release(1)
		// A request may have set dirty after the last swap but before release.
		if !h.dirty.Load() {
			return err
		}
	}
}

func (h *Hooks) locked(ctx context.Context, fn func(context.Context) error) error {
	if h.lock == nil {
		return fn(ctx)
	}
	release, err := h.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	defer release()
	return fn(ctx)
}

func (h *Hooks) runPass(ctx context.Context) error {
	h.passes.Add(1)
	sum, err := h.engine.RescheduleAll(ctx, h.engine.Now())
	if err != nil {
		return err
	}
	if sum.PermissionDenied {
		slog.InfoContext(ctx, "reschedule pass skipped scheduling, notifications not permitted",
			"pass_id", sum.PassID)
	}
	return nil
}
