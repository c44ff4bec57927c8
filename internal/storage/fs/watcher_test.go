package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/application/lifecycle"
	"github.com/rezkam/renewal/internal/domain"
)

func waitSignal(t *testing.T, signals <-chan lifecycle.Signal) lifecycle.Signal {
	t.Helper()
	select {
	case sig := <-signals:
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("no signal received")
		return lifecycle.Signal{}
	}
}

func TestWatcher_EmitsSavedAndDeleted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	w, err := NewWatcher(dir, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan lifecycle.Signal, 16)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, signals) }()

	doc := &domain.Document{ID: "doc1", ExpiryDate: time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.SaveDocument(ctx, doc))

	sig := waitSignal(t, signals)
	assert.Equal(t, lifecycle.SignalDocumentSaved, sig.Kind)
	assert.Equal(t, "doc1", sig.DocumentID)

	require.NoError(t, store.DeleteDocument(ctx, "doc1"))

	sig = waitSignal(t, signals)
	assert.Equal(t, lifecycle.SignalDocumentDeleted, sig.Kind)
	assert.Equal(t, "doc1", sig.DocumentID)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 200*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan lifecycle.Signal, 16)
	go func() { _ = w.Run(ctx, signals) }()

	path := filepath.Join(dir, "doc1.json")
	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte(`{"id":"doc1","n":`+string(rune('0'+i))+`}`), 0o644))
	}

	sig := waitSignal(t, signals)
	assert.Equal(t, "doc1", sig.DocumentID)

	select {
	case extra := <-signals:
		t.Fatalf("unexpected extra signal %+v", extra)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan lifecycle.Signal, 16)
	go func() { _ = w.Run(ctx, signals) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case sig := <-signals:
		t.Fatalf("unexpected signal %+v", sig)
	case <-time.After(200 * time.Millisecond):
	}
}
