package domain

import (
	"fmt"
	"strings"
	"time"
)

// Document is a user-registered document with an expiry date.
// Owned by the document repository; the reminder engine only reads it.
type Document struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	ExpiryDate     time.Time      `json:"expiry_date"`
	ReminderPeriod ReminderPeriod `json:"reminder_period"`
	ReminderTime   *TimeOfDay     `json:"reminder_time,omitempty"` // nil = DefaultReminderTime
	Notes          string         `json:"notes,omitempty"`
	EntityID       string         `json:"entity_id,omitempty"`
	IsHandled      bool           `json:"is_handled"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EffectiveReminderTime returns the reminder time, falling back to DefaultReminderTime.
func (d *Document) EffectiveReminderTime() TimeOfDay {
	if d.ReminderTime == nil {
		return DefaultReminderTime
	}
	return *d.ReminderTime
}

// EffectiveReminderPeriod returns the document's reminder period, or fallback
// when it has none. An unset fallback means DefaultReminderPeriod.
func (d *Document) EffectiveReminderPeriod(fallback ReminderPeriod) ReminderPeriod {
	switch {
	case d.ReminderPeriod != "":
		return d.ReminderPeriod
	case fallback != "":
		return fallback
	default:
		return DefaultReminderPeriod
	}
}

// DisplayName is the name used in notification text.
func (d *Document) DisplayName() string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return name
	}
	if d.Type != "" {
		return strings.ReplaceAll(d.Type, "_", " ")
	}
	return "document"
}

// Validate checks the fields the reminder engine depends on.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDocument)
	}
	if d.ExpiryDate.IsZero() {
		return fmt.Errorf("%w: expiry date is required", ErrInvalidDocument)
	}
	if d.ReminderPeriod != "" && !d.ReminderPeriod.Valid() {
		return fmt.Errorf("%w: %w: %s", ErrInvalidDocument, ErrInvalidReminderPeriod, d.ReminderPeriod)
	}
	return nil
}
