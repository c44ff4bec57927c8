// Package fs stores documents as one JSON file per document in a directory.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rezkam/renewal/internal/domain"
	"github.com/rezkam/renewal/internal/storage"
)

const fileExt = ".json"

// Store is a filesystem-based implementation of storage.DocumentStore.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

var _ storage.DocumentStore = (*Store)(nil)

// NewStore creates a new filesystem store.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) getFilePath(id string) string {
	return filepath.Join(s.baseDir, id+fileExt)
}

// DocumentIDFromPath returns the document ID a file path stores, if any.
func DocumentIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileExt) || strings.HasPrefix(base, ".") {
		return "", false
	}
	return strings.TrimSuffix(base, fileExt), true
}

// SaveDocument writes doc atomically: a temp file renamed over the target, so
// readers and watchers never see a partial document.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if err := storage.ValidateID(doc.ID); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.baseDir, "."+doc.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.getFilePath(doc.ID)); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// FindDocumentByID reads one document.
func (s *Store) FindDocumentByID(ctx context.Context, id string) (*domain.Document, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.getFilePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %w", id, err)
	}
	return &doc, nil
}

// DeleteDocument removes one document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.getFilePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ListDocuments loads every document file in parallel. Unreadable or
// malformed files are logged and skipped.
func (s *Store) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var mu sync.Mutex
	var docs []*domain.Document
	var wg sync.WaitGroup

	// Limit concurrency to avoid "too many open files" on large directories.
	const maxConcurrency = 20
	semaphore := make(chan struct{}, maxConcurrency)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := DocumentIDFromPath(entry.Name()); !ok {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(filename string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			path := filepath.Join(s.baseDir, filename)
			data, err := os.ReadFile(path)
			if err != nil {
				slog.WarnContext(ctx, "skipping unreadable document file", "path", path, "error", err)
				return
			}

			var doc domain.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				slog.WarnContext(ctx, "skipping malformed document file", "path", path, "error", err)
				return
			}

			mu.Lock()
			docs = append(docs, &doc)
			mu.Unlock()
		}(entry.Name())
	}

	wg.Wait()
	storage.SortDocuments(docs)
	return docs, nil
}
