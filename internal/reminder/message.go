package reminder

import (
	"fmt"
	"time"

	"github.com/rezkam/renewal/internal/domain"
)

// Message returns the notification title and body for slot, phrased as of firesAt.
func Message(doc *domain.Document, slot domain.SlotKind, firesAt time.Time) (title, body string) {
	name := doc.DisplayName()
	days := DaysUntilExpiry(doc.ExpiryDate, firesAt)

	switch slot {
	case domain.SlotFollowUp:
		title = "Reminder: Document Renewal Pending"
		body = fmt.Sprintf("Your %s still needs renewing. %s.", name, expiresIn(days))
	case domain.SlotFinalWarning:
		title = "Final Warning: Document Expiring"
		body = fmt.Sprintf("Your %s expires %s. Renew it now!", name, whenPhrase(days))
	case domain.SlotUrgentAlert:
		title = "URGENT: Document Expiring!"
		body = fmt.Sprintf("%s expires %s!", name, whenPhrase(days))
	default:
		title = "Document Expiring Soon!"
		body = fmt.Sprintf("Your %s expires in %d days", name, days)
	}
	return title, body
}

func expiresIn(days int) string {
	switch {
	case days <= 0:
		return "It expires today"
	case days == 1:
		return "It expires in 1 day"
	default:
		return fmt.Sprintf("It expires in %d days", days)
	}
}

func whenPhrase(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "in 1 day"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

// Payload builds the correlation payload attached to every notification.
func Payload(doc *domain.Document, slot domain.SlotKind) map[string]string {
	return map[string]string{
		domain.PayloadDocumentID:   doc.ID,
		domain.PayloadSlotKind:     string(slot),
		domain.PayloadDocumentName: doc.DisplayName(),
		domain.PayloadExpiryDate:   doc.ExpiryDate.UTC().Format(time.RFC3339),
	}
}
