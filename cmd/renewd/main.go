// Command renewd keeps document renewal reminders scheduled and delivers them
// when they fire.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rezkam/renewal/internal/application/lifecycle"
	"github.com/rezkam/renewal/internal/bootstrap"
	"github.com/rezkam/renewal/internal/config"
	"github.com/rezkam/renewal/internal/infrastructure/observability"
	"github.com/rezkam/renewal/internal/storage/fs"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		// slog might not be initialized if config fails
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Root context for all normal operations, cancelled on SIGTERM/SIGINT.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Configuration via OTEL_* env vars (endpoint, headers, resource attributes)
	providers, _, err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.ServiceName,
		Insecure:    cfg.Observability.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to init observability: %w", err)
	}
	defer func() {
		// Use a timeout to prevent hanging if collector is unreachable
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown telemetry providers", "error", err)
		}
	}()

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("failed to close runtime", "error", err)
		}
	}()

	if err := serve(ctx, cfg, rt); err != nil {
		return err
	}

	slog.InfoContext(ctx, "renewd shut down gracefully")
	return nil
}

// serve runs the daemon loops until ctx is done. Everything that can fail is
// opened before the first goroutine starts, so an early error never leaves a
// loop running against a runtime the caller is about to close.
func serve(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
	var watcher *fs.Watcher
	if cfg.Scheduler.WatchDocuments && cfg.Storage.Type == config.StorageFS {
		var err error
		watcher, err = fs.NewWatcher(cfg.Storage.FSDir, fs.DefaultDebounce)
		if err != nil {
			return fmt.Errorf("failed to watch documents: %w", err)
		}
	}

	signals := make(chan lifecycle.Signal, 64)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Hooks.Run(gctx, signals)
	})

	g.Go(func() error {
		return foreground(gctx, cfg.Scheduler.ForegroundInterval, signals)
	})

	g.Go(func() error {
		return permissionSignals(gctx, signals)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, signals)
		})
	}

	if dispatcher := rt.NewDispatcher(); dispatcher != nil {
		g.Go(func() error {
			return dispatcher.Run(gctx)
		})
	} else {
		slog.WarnContext(ctx, "no notification sink configured, reminders will not be delivered")
	}

	slog.InfoContext(ctx, "renewd started",
		"foreground_interval", cfg.Scheduler.ForegroundInterval,
		"watch_documents", watcher != nil)

	err := g.Wait()
	slog.InfoContext(ctx, "renewd loops stopped", "reschedule_passes", rt.Hooks.Passes())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// foreground emits a foreground signal at startup and then every interval.
// A periodic pass is how a long-running daemon sees the day change.
func foreground(ctx context.Context, interval time.Duration, signals chan<- lifecycle.Signal) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case signals <- lifecycle.Signal{Kind: lifecycle.SignalForeground}:
		case <-ctx.Done():
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// permissionSignals turns SIGHUP into a permission re-check, the daemon's
// equivalent of the user granting notification permission.
func permissionSignals(ctx context.Context, signals chan<- lifecycle.Signal) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			slog.InfoContext(ctx, "SIGHUP received, re-checking notification permission")
			select {
			case signals <- lifecycle.Signal{Kind: lifecycle.SignalPermissionGranted}:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
