package gcs

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docstorage "github.com/rezkam/renewal/internal/storage"
	"github.com/rezkam/renewal/internal/storage/compliance"
)

func TestGCSStore_Compliance(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS tests")
	}

	compliance.RunDocumentStoreComplianceTest(t, func() (docstorage.DocumentStore, func()) {
		// Note: This assumes Application Default Credentials are set up
		// and point to a valid project with access to the bucket.
		ctx := context.Background()

		// Each run gets its own prefix so parallel runs never see each other's objects.
		prefix := fmt.Sprintf("renewal-test-%d", time.Now().UnixNano())
		store, err := NewStore(ctx, bucket, prefix)
		require.NoError(t, err)

		cleanup := func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			defer store.Close()

			names, err := store.objectNames(cleanupCtx)
			if err != nil {
				t.Logf("Warning: failed to list objects during cleanup: %v", err)
				return
			}
			for _, name := range names {
				if err := store.client.Bucket(bucket).Object(name).Delete(cleanupCtx); err != nil {
					t.Logf("Warning: failed to delete object %s: %v", name, err)
				}
			}
		}

		return store, cleanup
	})
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "doc1.json", (&Store{}).objectName("doc1"))
	assert.Equal(t, "docs/doc1.json", (&Store{prefix: "docs"}).objectName("doc1"))
}
