// Package storage defines the document store the reminder engine reads from.
// Backends live in the subpackages.
package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rezkam/renewal/internal/application/scheduler"
	"github.com/rezkam/renewal/internal/domain"
)

// DocumentStore is a document repository that can also be written to.
type DocumentStore interface {
	scheduler.DocumentRepository

	// SaveDocument creates or replaces doc.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// DeleteDocument returns domain.ErrDocumentNotFound when id is unknown.
	DeleteDocument(ctx context.Context, id string) error
}

// ValidateID rejects IDs that cannot be used as a file or object name.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid id %q", domain.ErrInvalidDocument, id)
	}
	return nil
}

// SortDocuments orders docs by expiry, then ID, so listings are stable across backends.
func SortDocuments(docs []*domain.Document) {
	slices.SortFunc(docs, func(a, b *domain.Document) int {
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
