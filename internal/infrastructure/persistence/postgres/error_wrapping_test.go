package postgres_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/domain"
)

// TestErrorWrappingPattern verifies that error wrapping preserves the full error chain.
// Rows with a malformed reminder_time are reported as domain.ErrInvalidDocument
// while the parse error stays reachable for logging.
func TestErrorWrappingPattern(t *testing.T) {
	t.Run("%w with %v breaks error chain", func(t *testing.T) {
		_, parseErr := domain.ParseTimeOfDay("25:99")
		require.Error(t, parseErr)

		wrappedErr := fmt.Errorf("%w: %v", domain.ErrInvalidDocument, parseErr)

		assert.True(t, errors.Is(wrappedErr, domain.ErrInvalidDocument))
		assert.False(t, errors.Is(wrappedErr, domain.ErrInvalidTimeOfDay),
			"only the first error is wrapped, the parse error is lost")
	})

	t.Run("%w with %w preserves error chain", func(t *testing.T) {
		_, parseErr := domain.ParseTimeOfDay("25:99")
		require.Error(t, parseErr)

		wrappedErr := fmt.Errorf("%w: document %s: %w", domain.ErrInvalidDocument, "doc1", parseErr)

		assert.True(t, errors.Is(wrappedErr, domain.ErrInvalidDocument))
		assert.True(t, errors.Is(wrappedErr, domain.ErrInvalidTimeOfDay),
			"both errors should be in the chain for debugging")
	})
}
