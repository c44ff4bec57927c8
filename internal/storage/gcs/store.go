// Package gcs stores documents as JSON objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/rezkam/renewal/internal/domain"
	docstorage "github.com/rezkam/renewal/internal/storage"
)

const (
	objectExt = ".json"

	// GCS handles 20+ concurrent requests well, but we stay conservative.
	maxConcurrency = 20
)

// Store is a GCS-based implementation of storage.DocumentStore.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ docstorage.DocumentStore = (*Store)(nil)

// NewStore creates a new GCS store. Objects are kept under prefix, which may be empty.
// It assumes the client is authenticated (e.g. via GOOGLE_APPLICATION_CREDENTIALS).
func NewStore(ctx context.Context, bucketName, prefix string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucketName,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(id string) string {
	if s.prefix == "" {
		return id + objectExt
	}
	return path.Join(s.prefix, id+objectExt)
}

func (s *Store) object(id string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.objectName(id))
}

// SaveDocument creates or overwrites the document object.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if err := docstorage.ValidateID(doc.ID); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	w := s.object(doc.ID).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// FindDocumentByID reads one document object.
func (s *Store) FindDocumentByID(ctx context.Context, id string) (*domain.Document, error) {
	if err := docstorage.ValidateID(id); err != nil {
		return nil, err
	}

	r, err := s.object(id).NewReader(ctx)
	if err != nil {
		// Use errors.Is to handle wrapped errors from GCS client
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	defer r.Close()

	var doc domain.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// DeleteDocument removes the document object.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if err := docstorage.ValidateID(id); err != nil {
		return err
	}

	if err := s.object(id).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// ListDocuments scans the prefix for JSON objects and loads them in parallel.
// Unreadable objects are logged and skipped.
func (s *Store) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	names, err := s.objectNames(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var docs []*domain.Document

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, name := range names {
		g.Go(func() error {
			r, err := s.client.Bucket(s.bucket).Object(name).NewReader(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.WarnContext(ctx, "skipping unreadable document object", "object", name, "error", err)
				return nil
			}
			defer r.Close()

			var doc domain.Document
			if err := json.NewDecoder(r).Decode(&doc); err != nil {
				slog.WarnContext(ctx, "skipping malformed document object", "object", name, "error", err)
				return nil
			}

			mu.Lock()
			docs = append(docs, &doc)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	docstorage.SortDocuments(docs)
	return docs, nil
}

func (s *Store) objectNames(ctx context.Context) ([]string, error) {
	query := &storage.Query{}
	if s.prefix != "" {
		query.Prefix = s.prefix + "/"
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		base := path.Base(attrs.Name)
		if strings.HasSuffix(base, objectExt) && !strings.HasPrefix(base, ".") {
			names = append(names, attrs.Name)
		}
	}
	return names, nil
}
