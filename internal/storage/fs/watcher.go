package fs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rezkam/renewal/internal/application/lifecycle"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 250 * time.Millisecond

// Watcher turns changes in a document directory into lifecycle signals.
type Watcher struct {
	dir       string
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	removed map[string]bool
}

// NewWatcher watches dir. Call Run to start emitting signals.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", absDir, err)
	}

	return &Watcher{
		dir:       absDir,
		fsWatcher: fsw,
		debounce:  debounce,
		timers:    make(map[string]*time.Timer),
		removed:   make(map[string]bool),
	}, nil
}

// Run forwards debounced document changes to signals until ctx is done.
// A created or written file becomes SignalDocumentSaved; a removed or
// renamed-away file becomes SignalDocumentDeleted.
func (w *Watcher) Run(ctx context.Context, signals chan<- lifecycle.Signal) error {
	defer w.fsWatcher.Close()
	defer w.stopTimers()

	slog.InfoContext(ctx, "document watcher started", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "document watcher stopped")
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			id, ok := DocumentIDFromPath(event.Name)
			if !ok {
				continue
			}

			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.schedule(ctx, id, true, signals)
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.schedule(ctx, id, false, signals)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.ErrorContext(ctx, "document watcher error", "error", err)
			// Events may have been dropped; ask for a full pass.
			w.emit(ctx, signals, lifecycle.Signal{Kind: lifecycle.SignalDocumentsChanged})
		}
	}
}

// schedule (re)starts the debounce timer for id. The last event wins.
func (w *Watcher) schedule(ctx context.Context, id string, removed bool, signals chan<- lifecycle.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.removed[id] = removed
	if t, ok := w.timers[id]; ok {
		t.Stop()
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		gone := w.removed[id]
		delete(w.timers, id)
		delete(w.removed, id)
		w.mu.Unlock()

		kind := lifecycle.SignalDocumentSaved
		if gone {
			kind = lifecycle.SignalDocumentDeleted
		}
		w.emit(ctx, signals, lifecycle.Signal{Kind: kind, DocumentID: id})
	})
}

func (w *Watcher) emit(ctx context.Context, signals chan<- lifecycle.Signal, sig lifecycle.Signal) {
	select {
	case signals <- sig:
	case <-ctx.Done():
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}
