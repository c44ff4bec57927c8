// Command renewctl manages documents and inspects or drives the reminder engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/renewal/internal/bootstrap"
	"github.com/rezkam/renewal/internal/config"
	"github.com/rezkam/renewal/internal/domain"
	"github.com/rezkam/renewal/internal/reminder"
)

const usage = `usage: renewctl <command> [flags]

commands:
  status                 list documents, pending reminders and recent deliveries
  add -name -expiry ...  create a document and schedule its reminders
  handled -id ID         mark a document as renewed and cancel its reminders
  delete -id ID          delete a document and cancel its reminders
  cancel -id ID          cancel a document's reminders, keeping the document
  alert -id ID           send an urgent alert for a document in one second
  reschedule             run a full reschedule pass
  dispatch               deliver every notification that is due now
`

// errUsage marks errors that should print the usage text.
var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, rt, os.Args[1:], os.Stdout)
	if cerr := rt.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, rt *bootstrap.Runtime, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		return status(ctx, rt, out)
	case "add":
		return add(ctx, rt, rest, out)
	case "handled":
		return withID(cmd, rest, func(id string) error { return markHandled(ctx, rt, id, out) })
	case "delete":
		return withID(cmd, rest, func(id string) error { return deleteDocument(ctx, rt, id, out) })
	case "cancel":
		return withID(cmd, rest, func(id string) error {
			if err := rt.Hooks.CancelReminders(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cancelled reminders for %s\n", id)
			return nil
		})
	case "alert":
		return withID(cmd, rest, func(id string) error { return alert(ctx, rt, id, out) })
	case "reschedule":
		return reschedule(ctx, rt, out)
	case "dispatch":
		return dispatch(ctx, rt, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func withID(cmd string, args []string, fn func(id string) error) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "document ID (required)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *id == "" {
		return fmt.Errorf("%w: -id is required", errUsage)
	}
	return fn(*id)
}

func status(ctx context.Context, rt *bootstrap.Runtime, out io.Writer) error {
	now := rt.Scheduler.Now()
	loc := rt.Scheduler.Location()

	docs, err := rt.Documents.ListDocuments(ctx)
	if err != nil {
		return err
	}
	recorded, err := rt.State.ListScheduled(ctx)
	if err != nil {
		return err
	}
	byDoc := make(map[string][]domain.ScheduledReminder)
	for _, r := range recorded {
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEXPIRES\tDAYS\tURGENCY\tPERIOD\tHANDLED\tNEXT REMINDER")
	for _, doc := range docs {
		next := "-"
		if rs := byDoc[doc.ID]; len(rs) > 0 {
			first := rs[0]
			for _, r := range rs[1:] {
				if r.FiresAt.Before(first.FiresAt) {
					first = r
				}
			}
			next = fmt.Sprintf("%s %s", first.Slot, first.FiresAt.In(loc).Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%t\t%s\n",
			doc.ID, doc.DisplayName(), doc.ExpiryDate.In(loc).Format(time.DateOnly),
			reminder.DaysUntilExpiry(doc.ExpiryDate, now), reminder.UrgencyOf(doc.ExpiryDate, now),
			doc.EffectiveReminderPeriod(rt.Scheduler.DefaultPeriod()).Label(),
			doc.IsHandled, next)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	deliveries, err := rt.State.RecentDeliveries(ctx, 10)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DELIVERED\tSTATUS\tATTEMPTS\tSLOT\tTITLE")
	for _, d := range deliveries {
		slot := "-"
		if kind, err := d.Slot(); err == nil {
			slot = string(kind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			d.DeliveredAt.In(loc).Format("2006-01-02 15:04"), d.Status, d.Attempts, slot, d.Title)
	}
	return tw.Flush()
}

func add(ctx context.Context, rt *bootstrap.Runtime, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "document ID (default: random UUID)")
	name := fs.String("name", "", "document name (required)")
	docType := fs.String("type", "other", "document type, e.g. passport")
	expiry := fs.String("expiry", "", "expiry date YYYY-MM-DD (required)")
	period := fs.String("period", "", "reminder period, one of "+periodChoices()+" (default: configured default)")
	at := fs.String("time", domain.DefaultReminderTime.String(), "reminder time HH:MM")
	notes := fs.String("notes", "", "free-form notes")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if strings.TrimSpace(*name) == "" || *expiry == "" {
		return fmt.Errorf("%w: -name and -expiry are required", errUsage)
	}

	loc := rt.Scheduler.Location()
	expiryDate, err := time.ParseInLocation(time.DateOnly, *expiry, loc)
	if err != nil {
		return fmt.Errorf("invalid -expiry: %w", err)
	}
	reminderPeriod, err := domain.NewReminderPeriod(*period)
	if err != nil {
		return err
	}
	tod, err := domain.ParseTimeOfDay(*at)
	if err != nil {
		return err
	}

	if *id == "" {
		*id = uuid.NewString()
	}
	now := rt.Scheduler.Now().UTC()
	doc := &domain.Document{
		ID:             *id,
		Name:           strings.TrimSpace(*name),
		Type:           *docType,
		ExpiryDate:     expiryDate.UTC(),
		ReminderPeriod: reminderPeriod,
		ReminderTime:   &tod,
		Notes:          *notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := rt.Documents.SaveDocument(ctx, doc); err != nil {
		return err
	}
	if err := rt.Hooks.OnDocumentSaved(ctx, doc); err != nil {
		return err
	}

	fmt.Fprintf(out, "Added %s (%s)\n", doc.ID, doc.DisplayName())
	return nil
}

func periodChoices() string {
	names := make([]string, len(domain.ReminderPeriods))
	for i, p := range domain.ReminderPeriods {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func markHandled(ctx context.Context, rt *bootstrap.Runtime, id string, out io.Writer) error {
	doc, err := rt.Documents.FindDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	doc.IsHandled = true
	doc.UpdatedAt = rt.Scheduler.Now().UTC()
	if err := rt.Documents.SaveDocument(ctx, doc); err != nil {
		return err
	}
	if err := rt.Hooks.OnDocumentMarkedHandled(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Marked %s as handled\n", id)
	return nil
}

func deleteDocument(ctx context.Context, rt *bootstrap.Runtime, id string, out io.Writer) error {
	if err := rt.Documents.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := rt.Hooks.OnDocumentDeleted(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %s\n", id)
	return nil
}

func alert(ctx context.Context, rt *bootstrap.Runtime, id string, out io.Writer) error {
	doc, err := rt.Documents.FindDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	sent, err := rt.Hooks.RequestImmediateAlert(ctx, doc)
	if err != nil {
		return err
	}
	if !sent {
		fmt.Fprintln(out, "Notifications are not permitted; no alert sent")
		return nil
	}
	fmt.Fprintf(out, "Urgent alert for %s fires in %s\n", id, time.Second)
	return nil
}

func reschedule(ctx context.Context, rt *bootstrap.Runtime, out io.Writer) error {
	sum, err := rt.Hooks.Reschedule(ctx)
	if err != nil {
		return err
	}
	if sum.PermissionDenied {
		fmt.Fprintln(out, "Notifications are not permitted; nothing scheduled")
	}
	fmt.Fprintf(out, "documents=%d scheduled=%d unchanged=%d cancelled=%d skipped=%d failed=%d drifted=%d orphans=%d\n",
		sum.Documents, sum.Scheduled, sum.Unchanged, sum.Cancelled, sum.Skipped, sum.Failed, sum.Drifted, sum.Orphans)
	for _, f := range sum.Failures {
		fmt.Fprintf(out, "  failure: %v\n", f)
	}
	return nil
}

func dispatch(ctx context.Context, rt *bootstrap.Runtime, out io.Writer) error {
	dispatcher := rt.NewDispatcher()
	if dispatcher == nil {
		return errors.New("no notification sink configured")
	}
	n, err := dispatcher.DispatchOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Delivered %d notification(s)\n", n)
	return nil
}
