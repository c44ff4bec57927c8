// Package compliance holds the behavioural test suite every document store backend must pass.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/domain"
	"github.com/rezkam/renewal/internal/storage"
)

func newDocument(name string, expiry time.Time) *domain.Document {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Document{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           "passport",
		ExpiryDate:     expiry,
		ReminderPeriod: domain.ReminderOneMonth,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RunDocumentStoreComplianceTest runs a standard set of tests against a DocumentStore.
// setup returns a fresh (clean) store and a cleanup function.
func RunDocumentStoreComplianceTest(t *testing.T, setup func() (storage.DocumentStore, func())) {
	expiry := time.Date(2030, time.June, 1, 0, 0, 0, 0, time.UTC)

	t.Run("SaveAndFindDocument", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		doc := newDocument("Passport", expiry)
		tod := domain.TimeOfDay{Hour: 18, Minute: 30}
		doc.ReminderTime = &tod
		doc.Notes = "renew at consulate"

		require.NoError(t, store.SaveDocument(ctx, doc))

		fetched, err := store.FindDocumentByID(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, fetched.ID)
		assert.Equal(t, "Passport", fetched.Name)
		assert.True(t, doc.ExpiryDate.Equal(fetched.ExpiryDate))
		assert.Equal(t, domain.ReminderOneMonth, fetched.ReminderPeriod)
		require.NotNil(t, fetched.ReminderTime)
		assert.Equal(t, tod, *fetched.ReminderTime)
		assert.Equal(t, "renew at consulate", fetched.Notes)
		assert.False(t, fetched.IsHandled)
	})

	t.Run("SaveReplacesDocument", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		doc := newDocument("Insurance", expiry)
		require.NoError(t, store.SaveDocument(ctx, doc))

		doc.IsHandled = true
		doc.ReminderPeriod = domain.ReminderTwoWeeks
		require.NoError(t, store.SaveDocument(ctx, doc))

		fetched, err := store.FindDocumentByID(ctx, doc.ID)
		require.NoError(t, err)
		assert.True(t, fetched.IsHandled)
		assert.Equal(t, domain.ReminderTwoWeeks, fetched.ReminderPeriod)
	})

	t.Run("ListDocuments", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		later := newDocument("Visa", expiry.AddDate(1, 0, 0))
		sooner := newDocument("License", expiry)
		require.NoError(t, store.SaveDocument(ctx, later))
		require.NoError(t, store.SaveDocument(ctx, sooner))

		docs, err := store.ListDocuments(ctx)
		require.NoError(t, err)

		var ids []string
		for _, d := range docs {
			if d.ID == later.ID || d.ID == sooner.ID {
				ids = append(ids, d.ID)
			}
		}
		assert.Equal(t, []string{sooner.ID, later.ID}, ids, "listed by expiry")
	})

	t.Run("DeleteDocument", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		doc := newDocument("Membership", expiry)
		require.NoError(t, store.SaveDocument(ctx, doc))
		require.NoError(t, store.DeleteDocument(ctx, doc.ID))

		_, err := store.FindDocumentByID(ctx, doc.ID)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

		assert.ErrorIs(t, store.DeleteDocument(ctx, doc.ID), domain.ErrDocumentNotFound)
	})

	t.Run("FindNonExistentDocument", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()

		_, err := store.FindDocumentByID(context.Background(), "non-existent-id")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("RejectsInvalidDocument", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()

		doc := newDocument("Broken", time.Time{})
		err := store.SaveDocument(context.Background(), doc)
		assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	})
}
