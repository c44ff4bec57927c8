// Package scheduler keeps the platform's pending notifications in line with
// the user's documents: it plans reminder slots, cancels stale ones, and
// reconciles drift between its own bookkeeping and what is actually pending.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rezkam/renewal/internal/domain"
	"github.com/rezkam/renewal/internal/reminder"
)

const instrumentationName = "github.com/rezkam/renewal/internal/application/scheduler"

// UrgentAlertDelay is how far in the future an immediate alert is scheduled.
const UrgentAlertDelay = time.Second

// Outcome describes what ScheduleForDocument did for one document.
type Outcome struct {
	DocumentID string

	// Scheduled is the number of slots registered with the platform.
	Scheduled int

	// Cancelled is set when the document was handled or expired and its slots were cancelled.
	Cancelled bool

	// Unchanged is set when the recorded schedule already matched the plan.
	Unchanged bool

	PermissionDenied bool

	Failures []PlatformScheduleFailure
}

// OK reports whether every platform call succeeded.
func (o Outcome) OK() bool {
	return len(o.Failures) == 0
}

// Summary aggregates one RescheduleAll pass.
type Summary struct {
	PassID    string
	Documents int
	Scheduled int
	Unchanged int
	Cancelled int
	Skipped   int
	Failed    int

	// Drifted counts recorded entries that were no longer pending on the platform.
	Drifted int

	// Orphans counts pending notifications cancelled because no active document owns them.
	Orphans int

	PermissionDenied bool

	// Interrupted is set when ctx was cancelled before every document was processed.
	Interrupted bool

	Failures []PlatformScheduleFailure
}

// Scheduler is the reminder scheduling engine.
// A Scheduler is safe for concurrent use, but RescheduleAll passes must be
// serialized by the caller (see the lifecycle package).
type Scheduler struct {
	docs     DocumentRepository
	notifier Notifier
	store    ScheduleStore
	clock    Clock

	loc              *time.Location
	defaultPeriod    domain.ReminderPeriod
	operationTimeout time.Duration

	meter  metric.Meter
	tracer trace.Tracer

	scheduledCounter metric.Int64Counter
	cancelledCounter metric.Int64Counter
	failureCounter   metric.Int64Counter
	passDuration     metric.Float64Histogram

	permMu     sync.Mutex
	permission *bool
}

// Option is a functional option for configuring Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone reminder times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithDefaultPeriod sets the reminder period used for documents without one.
// Invalid periods are ignored.
func WithDefaultPeriod(p domain.ReminderPeriod) Option {
	return func(s *Scheduler) {
		if p.Valid() {
			s.defaultPeriod = p
		}
	}
}

// WithOperationTimeout sets the timeout for each individual platform call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.operationTimeout = d
		}
	}
}

// WithMeter overrides the meter used for scheduling metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *Scheduler) {
		s.meter = m
	}
}

// WithTracer overrides the tracer used for reschedule spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// New creates a Scheduler. The meter and tracer default to the global OTel providers.
func New(docs DocumentRepository, notifier Notifier, store ScheduleStore, clock Clock, opts ...Option) (*Scheduler, error) {
	if clock == nil {
		clock = SystemClock{}
	}

	s := &Scheduler{
		docs:             docs,
		notifier:         notifier,
		store:            store,
		clock:            clock,
		loc:              time.Local,
		defaultPeriod:    domain.DefaultReminderPeriod,
		operationTimeout: 5 * time.Second,
		meter:            otel.Meter(instrumentationName),
		tracer:           otel.Tracer(instrumentationName),
	}

	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.scheduledCounter, err = s.meter.Int64Counter("renewal.reminders.scheduled",
		metric.WithDescription("Reminder notifications registered with the platform"),
		metric.WithUnit("{notification}")); err != nil {
		return nil, fmt.Errorf("failed to create scheduled counter: %w", err)
	}
	if s.cancelledCounter, err = s.meter.Int64Counter("renewal.reminders.cancelled",
		metric.WithDescription("Reminder notification IDs cancelled"),
		metric.WithUnit("{notification}")); err != nil {
		return nil, fmt.Errorf("failed to create cancelled counter: %w", err)
	}
	if s.failureCounter, err = s.meter.Int64Counter("renewal.reminders.failures",
		metric.WithDescription("Platform calls that failed while scheduling reminders"),
		metric.WithUnit("{failure}")); err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}
	if s.passDuration, err = s.meter.Float64Histogram("renewal.reschedule.duration",
		metric.WithDescription("Duration of full reschedule passes"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create reschedule duration histogram: %w", err)
	}

	return s, nil
}

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Location returns the time zone reminder times are interpreted in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// DefaultPeriod returns the reminder period applied to documents without one.
func (s *Scheduler) DefaultPeriod() domain.ReminderPeriod {
	return s.defaultPeriod
}

func (s *Scheduler) policy() reminder.Policy {
	return reminder.Policy{Location: s.loc, DefaultPeriod: s.defaultPeriod}
}

// ResetPermission forgets the cached permission decision so the next
// operation asks the platform again.
func (s *Scheduler) ResetPermission() {
	s.permMu.Lock()
	defer s.permMu.Unlock()
	s.permission = nil
}

// permitted asks the platform once per session and caches the answer.
// A failed request is not cached.
func (s *Scheduler) permitted(ctx context.Context) bool {
	s.permMu.Lock()
	defer s.permMu.Unlock()

	if s.permission != nil {
		return *s.permission
	}

	var granted bool
	err := s.platformCall(ctx, func(ctx context.Context) error {
		var err error
		granted, err = s.notifier.RequestPermission(ctx)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "notification permission request failed", "error", err)
		return false
	}

	s.permission = &granted
	if !granted {
		slog.InfoContext(ctx, "notification permission denied")
	}
	return granted
}

func (s *Scheduler) platformCall(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()
	return fn(opCtx)
}

func (s *Scheduler) cancelIDs(ctx context.Context, ids []int32) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.platformCall(ctx, func(ctx context.Context) error {
		return s.notifier.Cancel(ctx, ids)
	})
	if err != nil {
		return err
	}
	s.cancelledCounter.Add(ctx, int64(len(ids)))
	return nil
}

func (s *Scheduler) recordFailure(ctx context.Context, failure PlatformScheduleFailure) {
	slog.ErrorContext(ctx, "platform notification call failed",
		"op", failure.Op,
		"document_id", failure.DocumentID,
		"slot_kind", string(failure.Slot),
		"error", failure.Err)
	s.failureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", failure.Op),
		attribute.String("slot_kind", string(failure.Slot)),
	))
}

// ScheduleForDocument brings the platform's pending notifications for doc in
// line with its reminder plan at now.
//
// Platform failures are isolated per slot and returned in Outcome.Failures.
// Only schedule store failures are returned as an error (StoreIOError).
func (s *Scheduler) ScheduleForDocument(ctx context.Context, doc *domain.Document, now time.Time) (Outcome, error) {
	out := Outcome{DocumentID: doc.ID}

	if !reminder.Active(doc, now) {
		err := s.CancelForDocument(ctx, doc.ID)
		var failure PlatformScheduleFailure
		switch {
		case errors.As(err, &failure):
			out.Failures = append(out.Failures, failure)
		case err != nil:
			return out, err
		default:
			out.Cancelled = true
		}
		return out, nil
	}

	if !s.permitted(ctx) {
		out.PermissionDenied = true
		return out, nil
	}

	recorded, err := s.store.FindScheduled(ctx, doc.ID)
	if err != nil {
		return out, storeIO("find", err)
	}
	plan := reminder.PlanFor(doc, now, s.policy(), recorded)
	if plan.Matches(recorded) {
		out.Unchanged = true
		return out, nil
	}

	// Every slot is cancelled before anything is scheduled so a slot dropped
	// from the plan cannot linger. A failed cancel is reported but scheduling
	// still proceeds: the platform replaces notifications by ID.
	if err := s.cancelIDs(ctx, reminder.SlotIDs(doc.ID)); err != nil {
		failure := PlatformScheduleFailure{Op: "cancel", DocumentID: doc.ID, Err: err}
		s.recordFailure(ctx, failure)
		out.Failures = append(out.Failures, failure)
	}

	scheduled := make([]domain.ScheduledReminder, 0, len(plan.Slots))
	for _, slot := range plan.Slots {
		title, body := reminder.Message(doc, slot.Slot, slot.FiresAt)
		n := domain.Notification{
			ID:      slot.NotificationID,
			FiresAt: slot.FiresAt,
			Title:   title,
			Body:    body,
			Payload: reminder.Payload(doc, slot.Slot),
		}

		err := s.platformCall(ctx, func(ctx context.Context) error {
			return s.notifier.Schedule(ctx, n)
		})
		if err != nil {
			failure := PlatformScheduleFailure{Op: "schedule", DocumentID: doc.ID, Slot: slot.Slot, Err: err}
			s.recordFailure(ctx, failure)
			out.Failures = append(out.Failures, failure)
			continue
		}

		s.scheduledCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("slot_kind", string(slot.Slot))))
		scheduled = append(scheduled, domain.ScheduledReminder{
			DocumentID:     doc.ID,
			Slot:           slot.Slot,
			NotificationID: slot.NotificationID,
			FiresAt:        slot.FiresAt,
		})

		slog.DebugContext(ctx, "reminder scheduled",
			"document_id", doc.ID,
			"slot_kind", string(slot.Slot),
			"notification_id", slot.NotificationID,
			"fires_at", slot.FiresAt)
	}

	if err := s.store.ReplaceScheduled(ctx, doc.ID, scheduled); err != nil {
		return out, storeIO("replace", err)
	}

	out.Scheduled = len(scheduled)
	return out, nil
}

// CancelForDocument cancels every slot of documentID and clears its bookkeeping.
// It is safe to call when nothing is scheduled.
//
// A platform failure is returned as PlatformScheduleFailure and leaves the
// bookkeeping in place so a later pass retries the cancellation.
func (s *Scheduler) CancelForDocument(ctx context.Context, documentID string) error {
	if err := s.cancelIDs(ctx, reminder.SlotIDs(documentID)); err != nil {
		failure := PlatformScheduleFailure{Op: "cancel", DocumentID: documentID, Err: err}
		s.recordFailure(ctx, failure)
		return failure
	}

	if err := s.store.ClearScheduled(ctx, documentID); err != nil {
		return storeIO("clear", err)
	}

	slog.DebugContext(ctx, "reminders cancelled", "document_id", documentID)
	return nil
}

// SendImmediateUrgentAlert schedules an urgent alert for doc about one second
// after now. A repeated call supersedes the previous alert. The alert is not
// recorded in the schedule store.
//
// It returns false without error when notification permission is denied.
func (s *Scheduler) SendImmediateUrgentAlert(ctx context.Context, doc *domain.Document, now time.Time) (bool, error) {
	if !s.permitted(ctx) {
		return false, nil
	}

	id := reminder.SlotID(doc.ID, domain.SlotUrgentAlert)
	if err := s.cancelIDs(ctx, []int32{id}); err != nil {
		slog.WarnContext(ctx, "failed to cancel previous urgent alert",
			"document_id", doc.ID,
			"notification_id", id,
			"error", err)
	}

	firesAt := now.Add(UrgentAlertDelay)
	title, body := reminder.Message(doc, domain.SlotUrgentAlert, firesAt)
	n := domain.Notification{
		ID:      id,
		FiresAt: firesAt,
		Title:   title,
		Body:    body,
		Payload: reminder.Payload(doc, domain.SlotUrgentAlert),
	}

	err := s.platformCall(ctx, func(ctx context.Context) error {
		return s.notifier.Schedule(ctx, n)
	})
	if err != nil {
		failure := PlatformScheduleFailure{Op: "schedule", DocumentID: doc.ID, Slot: domain.SlotUrgentAlert, Err: err}
		s.recordFailure(ctx, failure)
		return false, failure
	}

	s.scheduledCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("slot_kind", string(domain.SlotUrgentAlert))))
	slog.InfoContext(ctx, "urgent alert scheduled",
		"document_id", doc.ID,
		"notification_id", id,
		"fires_at", firesAt)
	return true, nil
}

// RescheduleAll reconciles every document against the platform.
//
// A pass snapshots pending notifications, lists documents, drops bookkeeping that is no longer backed by a
// pending notification, cancels handled and expired documents, schedules the
// rest, and finally cancels pending notifications nothing owns and clears
// bookkeeping for deleted documents. Failures are isolated per document and
// aggregated in the Summary. A schedule store failure aborts the pass.
func (s *Scheduler) RescheduleAll(ctx context.Context, now time.Time) (sum Summary, err error) {
	sum.PassID = uuid.NewString()
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "scheduler.RescheduleAll",
		trace.WithAttributes(attribute.String("pass_id", sum.PassID)))
	defer func() {
		span.SetAttributes(
			attribute.Int("documents", sum.Documents),
			attribute.Int("scheduled", sum.Scheduled),
			attribute.Int("cancelled", sum.Cancelled),
			attribute.Int("failed", sum.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.passDuration.Record(ctx, time.Since(start).Seconds())
	}()

	// The pending snapshot is taken before documents and bookkeeping are
	// read, so notifications scheduled by a concurrent save belong to a
	// document this pass sees and are never cancelled as orphans.
	// Without the pending list the pass still schedules from its bookkeeping.
	var pendingKnown bool
	pending := map[int32]bool{}
	listErr := s.platformCall(ctx, func(ctx context.Context) error {
		list, err := s.notifier.ListPending(ctx)
		if err != nil {
			return err
		}
		for _, p := range list {
			pending[p.ID] = true
		}
		return nil
	})
	if listErr != nil {
		slog.WarnContext(ctx, "failed to list pending notifications, skipping drift detection",
			"pass_id", sum.PassID,
			"error", listErr)
	} else {
		pendingKnown = true
	}

	recorded, err := s.store.ListScheduled(ctx)
	if err != nil {
		return sum, storeIO("list", err)
	}

	docs, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list documents: %w", err)
	}
	sum.Documents = len(docs)

	byDoc := make(map[string][]domain.ScheduledReminder)
	for _, r := range recorded {
		if pendingKnown && !pending[r.NotificationID] {
			if err := s.store.ClearScheduled(ctx, r.DocumentID, r.Slot); err != nil {
				return sum, storeIO("clear", err)
			}
			sum.Drifted++
			continue
		}
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r)
	}

	owned := make(map[int32]bool)
	known := make(map[string]bool, len(docs))

	for i, doc := range docs {
		if ctx.Err() != nil {
			sum.Interrupted = true
			slog.InfoContext(ctx, "reschedule pass interrupted",
				"pass_id", sum.PassID,
				"reason", ctx.Err(),
				"processed", i,
				"remaining", len(docs)-i)
			return sum, nil
		}

		known[doc.ID] = true
		ids := reminder.SlotIDs(doc.ID)
		for _, id := range ids {
			owned[id] = true
		}

		if !reminder.Active(doc, now) {
			if len(byDoc[doc.ID]) == 0 && !anyPending(pending, ids) {
				sum.Skipped++
				continue
			}
			err := s.CancelForDocument(ctx, doc.ID)
			if IsStoreIO(err) {
				return sum, err
			}
			var failure PlatformScheduleFailure
			if errors.As(err, &failure) {
				sum.Failed++
				sum.Failures = append(sum.Failures, failure)
				continue
			}
			sum.Cancelled++
			continue
		}

		// A reminder slot pending on the platform but missing from the
		// bookkeeping forces a full cancel-and-schedule for the document.
		if pendingKnown && untracked(pending, doc.ID, byDoc[doc.ID]) {
			if err := s.store.ClearScheduled(ctx, doc.ID); err != nil {
				return sum, storeIO("clear", err)
			}
			sum.Drifted++
		}

		out, err := s.ScheduleForDocument(ctx, doc, now)
		if err != nil {
			return sum, err
		}

		switch {
		case out.PermissionDenied:
			sum.PermissionDenied = true
		case out.Unchanged:
			sum.Unchanged++
		case out.Scheduled > 0:
			sum.Scheduled++
		}
		if !out.OK() {
			sum.Failed++
			sum.Failures = append(sum.Failures, out.Failures...)
		}
	}

	handled := make(map[int32]bool)
	for docID := range byDoc {
		if known[docID] {
			continue
		}
		err := s.CancelForDocument(ctx, docID)
		if IsStoreIO(err) {
			return sum, err
		}
		var failure PlatformScheduleFailure
		if errors.As(err, &failure) {
			sum.Failed++
			sum.Failures = append(sum.Failures, failure)
			continue
		}
		for _, id := range reminder.SlotIDs(docID) {
			handled[id] = true
		}
		sum.Cancelled++
	}

	if pendingKnown {
		var orphans []int32
		for id := range pending {
			if !owned[id] && !handled[id] {
				orphans = append(orphans, id)
			}
		}
		if len(orphans) > 0 {
			if err := s.cancelIDs(ctx, orphans); err != nil {
				slog.ErrorContext(ctx, "failed to cancel orphaned notifications",
					"pass_id", sum.PassID,
					"count", len(orphans),
					"error", err)
			} else {
				sum.Orphans = len(orphans)
			}
		}
	}

	slog.InfoContext(ctx, "reschedule pass completed",
		"pass_id", sum.PassID,
		"documents", sum.Documents,
		"scheduled", sum.Scheduled,
		"unchanged", sum.Unchanged,
		"cancelled", sum.Cancelled,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"drifted", sum.Drifted,
		"orphans", sum.Orphans,
		"permission_denied", sum.PermissionDenied,
		"duration", time.Since(start))

	return sum, nil
}

func anyPending(pending map[int32]bool, ids []int32) bool {
	for _, id := range ids {
		if pending[id] {
			return true
		}
	}
	return false
}

// untracked reports whether a reminder slot of documentID is pending but not
// recorded. Urgent alerts are never recorded and are ignored.
func untracked(pending map[int32]bool, documentID string, recorded []domain.ScheduledReminder) bool {
	tracked := make(map[int32]bool, len(recorded))
	for _, r := range recorded {
		tracked[r.NotificationID] = true
	}
	for _, slot := range []domain.SlotKind{domain.SlotPrimary, domain.SlotFollowUp, domain.SlotFinalWarning} {
		id := reminder.SlotID(documentID, slot)
		if pending[id] && !tracked[id] {
			return true
		}
	}
	return false
}
