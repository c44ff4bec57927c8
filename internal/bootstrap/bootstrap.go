// Package bootstrap assembles the reminder engine from configuration. Both
// binaries build on it so they operate on the same documents and state.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rezkam/renewal/internal/application/lifecycle"
	"github.com/rezkam/renewal/internal/application/scheduler"
	"github.com/rezkam/renewal/internal/config"
	"github.com/rezkam/renewal/internal/infrastructure/notify"
	"github.com/rezkam/renewal/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/renewal/internal/infrastructure/persistence/sqlite"
	"github.com/rezkam/renewal/internal/storage"
	"github.com/rezkam/renewal/internal/storage/fs"
	"github.com/rezkam/renewal/internal/storage/gcs"
)

// SchedulerLease is the state-store lease every process takes before
// touching the schedule.
const SchedulerLease = "scheduler"

// Runtime is a fully wired engine.
type Runtime struct {
	Documents storage.DocumentStore
	State     *sqlite.Store
	Sink      notify.Sink
	Platform  *notify.Platform
	Scheduler *scheduler.Scheduler
	Hooks     *lifecycle.Hooks

	notifyCfg config.NotifyConfig
	closers   []io.Closer
}

// OpenDocumentStore opens the configured document repository. The returned
// closer is nil for backends that hold no resources.
func OpenDocumentStore(ctx context.Context, cfg config.StorageConfig) (storage.DocumentStore, io.Closer, error) {
	switch cfg.Type {
	case config.StorageFS:
		store, err := fs.NewStore(cfg.FSDir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case config.StorageGCS:
		store, err := gcs.NewStore(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	case config.StoragePostgres:
		store, err := postgres.Open(ctx, cfg.DSN, postgres.PoolConfig{
			MaxConns:        int32(cfg.DBMaxConns),
			MinConns:        int32(cfg.DBMinConns),
			MaxConnLifetime: cfg.DBConnMaxLifetime,
			MaxConnIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// NewSink builds the delivery sink chain. It returns nil when no sink is
// configured, which makes the platform report permission as denied.
func NewSink(cfg config.NotifyConfig) notify.Sink {
	var sinks notify.MultiSink
	if cfg.LogSink {
		sinks = append(sinks, notify.LogSink{})
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL,
			notify.WithWebhookFormat(notify.WebhookFormat(cfg.WebhookFormat))))
	}

	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// New opens every store and wires the scheduler and lifecycle hooks.
func New(ctx context.Context, cfg *config.Config) (_ *Runtime, err error) {
	rt := &Runtime{notifyCfg: cfg.Notify}
	defer func() {
		if err != nil {
			if cerr := rt.Close(); cerr != nil {
				slog.ErrorContext(ctx, "failed to close partially opened runtime", "error", cerr)
			}
		}
	}()

	docs, closer, err := OpenDocumentStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	rt.Documents = docs
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	state, err := sqlite.Open(ctx, cfg.Scheduler.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	rt.State = state
	rt.closers = append(rt.closers, state)

	rt.Sink = NewSink(cfg.Notify)
	rt.Platform = notify.NewPlatform(state, cfg.Notify.Enabled, rt.Sink)

	rt.Scheduler, err = scheduler.New(docs, rt.Platform, state, scheduler.SystemClock{},
		scheduler.WithLocation(cfg.Scheduler.Location()),
		scheduler.WithDefaultPeriod(cfg.Scheduler.DefaultPeriod()),
		scheduler.WithOperationTimeout(cfg.Scheduler.OperationTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	rt.Hooks = lifecycle.New(rt.Scheduler, docs,
		lifecycle.WithPassLock(state.NewLease(SchedulerLease, cfg.Scheduler.PassLeaseTTL)))

	slog.InfoContext(ctx, "reminder engine ready",
		"storage", cfg.Storage.Type,
		"state_path", cfg.Scheduler.StatePath,
		"timezone", cfg.Scheduler.Location().String(),
		"default_reminder_period", string(cfg.Scheduler.DefaultPeriod()),
		"notifications_enabled", cfg.Notify.Enabled)

	return rt, nil
}

// NewDispatcher returns a dispatcher delivering the runtime's queue to its sink.
// It returns nil when there is no sink.
func (rt *Runtime) NewDispatcher(opts ...notify.DispatcherOption) *notify.Dispatcher {
	if rt.Sink == nil {
		return nil
	}
	base := []notify.DispatcherOption{
		notify.WithPollInterval(rt.notifyCfg.PollInterval),
		notify.WithMaxAttempts(rt.notifyCfg.MaxAttempts),
	}
	return notify.NewDispatcher(rt.State, rt.Sink, append(base, opts...)...)
}

// Close releases every store in reverse opening order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
