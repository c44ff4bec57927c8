package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/renewal/internal/domain"
	"github.com/rezkam/renewal/internal/storage"
)

const documentColumns = `id, name, type, expiry_date, reminder_period, reminder_time,
	notes, entity_id, is_handled, created_at, updated_at`

// checkRowsAffected validates that an UPDATE/DELETE operation affected exactly one row.
func checkRowsAffected(rowsAffected int64, id string) error {
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}

// scanDocument converts one documents row into the domain type.
func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc          domain.Document
		period       string
		reminderTime *string
	)
	if err := row.Scan(
		&doc.ID, &doc.Name, &doc.Type, &doc.ExpiryDate, &period, &reminderTime,
		&doc.Notes, &doc.EntityID, &doc.IsHandled, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	// Stored periods were validated on write; an unknown value falls back to
	// the engine's lead-time default instead of failing the whole listing.
	doc.ReminderPeriod = domain.ReminderPeriod(period)

	if reminderTime != nil {
		tod, err := domain.ParseTimeOfDay(*reminderTime)
		if err != nil {
			return nil, fmt.Errorf("%w: document %s: %w", domain.ErrInvalidDocument, doc.ID, err)
		}
		doc.ReminderTime = &tod
	}

	doc.ExpiryDate = doc.ExpiryDate.UTC()
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func reminderTimeParam(doc *domain.Document) *string {
	if doc.ReminderTime == nil {
		return nil
	}
	s := doc.ReminderTime.String()
	return &s
}

// SaveDocument inserts or replaces a document.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if err := storage.ValidateID(doc.ID); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			expiry_date = EXCLUDED.expiry_date,
			reminder_period = EXCLUDED.reminder_period,
			reminder_time = EXCLUDED.reminder_time,
			notes = EXCLUDED.notes,
			entity_id = EXCLUDED.entity_id,
			is_handled = EXCLUDED.is_handled,
			updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Name, doc.Type, doc.ExpiryDate.UTC(), string(doc.ReminderPeriod), reminderTimeParam(doc),
		doc.Notes, doc.EntityID, doc.IsHandled, doc.CreatedAt.UTC(), doc.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// ImportDocuments saves docs in one transaction: all of them or none.
func (s *Store) ImportDocuments(ctx context.Context, docs []*domain.Document) error {
	return s.executeInTransaction(ctx, "import_documents", func(txStore *Store) error {
		for _, doc := range docs {
			if err := txStore.SaveDocument(ctx, doc); err != nil {
				return fmt.Errorf("document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
}

// FindDocumentByID retrieves one document.
func (s *Store) FindDocumentByID(ctx context.Context, id string) (*domain.Document, error) {
	row := s.q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns every document ordered by expiry, then ID.
func (s *Store) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	rows, err := s.q.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY expiry_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Document, error) {
		return scanDocument(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes one document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return checkRowsAffected(tag.RowsAffected(), id)
}
