package domain

import (
	"fmt"
	"strings"
)

// ReminderPeriod is the lead time before expiry at which the primary reminder fires.
// Value object - immutable string enum.
type ReminderPeriod string

const (
	ReminderOneWeek      ReminderPeriod = "1_week"
	ReminderTwoWeeks     ReminderPeriod = "2_weeks"
	ReminderOneMonth     ReminderPeriod = "1_month"
	ReminderTwoMonths    ReminderPeriod = "2_months"
	ReminderThreeMonths  ReminderPeriod = "3_months"
	ReminderSixMonths    ReminderPeriod = "6_months"
	ReminderNineMonths   ReminderPeriod = "9_months"
	ReminderTwelveMonths ReminderPeriod = "12_months"
)

// DefaultReminderPeriod is used when a document carries no period and no
// other default is configured.
const DefaultReminderPeriod = ReminderOneWeek

// ReminderPeriods lists every supported period, shortest first.
var ReminderPeriods = []ReminderPeriod{
	ReminderOneWeek,
	ReminderTwoWeeks,
	ReminderOneMonth,
	ReminderTwoMonths,
	ReminderThreeMonths,
	ReminderSixMonths,
	ReminderNineMonths,
	ReminderTwelveMonths,
}

// NewReminderPeriod validates and creates a ReminderPeriod.
// An empty string yields the unset period, which follows the configured default.
func NewReminderPeriod(s string) (ReminderPeriod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}

	period := ReminderPeriod(s)
	if !period.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidReminderPeriod, s)
	}
	return period, nil
}

// Valid reports whether p is one of the supported periods.
func (p ReminderPeriod) Valid() bool {
	switch p {
	case ReminderOneWeek, ReminderTwoWeeks, ReminderOneMonth, ReminderTwoMonths,
		ReminderThreeMonths, ReminderSixMonths, ReminderNineMonths, ReminderTwelveMonths:
		return true
	default:
		return false
	}
}

// Label returns the human-readable form, e.g. "2 Weeks Before".
func (p ReminderPeriod) Label() string {
	switch p {
	case ReminderOneWeek:
		return "1 Week Before"
	case ReminderTwoWeeks:
		return "2 Weeks Before"
	case ReminderOneMonth:
		return "1 Month Before"
	case ReminderTwoMonths:
		return "2 Months Before"
	case ReminderThreeMonths:
		return "3 Months Before"
	case ReminderSixMonths:
		return "6 Months Before"
	case ReminderNineMonths:
		return "9 Months Before"
	case ReminderTwelveMonths:
		return "12 Months Before"
	default:
		return string(p)
	}
}

func (p ReminderPeriod) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

func (p *ReminderPeriod) UnmarshalText(text []byte) error {
	period, err := NewReminderPeriod(string(text))
	if err != nil {
		return err
	}
	*p = period
	return nil
}

// SlotKind is one of the reminder roles a document can have scheduled simultaneously.
type SlotKind string

const (
	SlotPrimary      SlotKind = "primary"
	SlotFollowUp     SlotKind = "follow_up"
	SlotFinalWarning SlotKind = "final_warning"
	SlotUrgentAlert  SlotKind = "urgent_alert"
)

// AllSlots enumerates every slot kind in a stable order.
var AllSlots = []SlotKind{SlotPrimary, SlotFollowUp, SlotFinalWarning, SlotUrgentAlert}

// NewSlotKind validates and creates a SlotKind.
func NewSlotKind(s string) (SlotKind, error) {
	kind := SlotKind(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case SlotPrimary, SlotFollowUp, SlotFinalWarning, SlotUrgentAlert:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidSlotKind, s)
	}
}

// Urgency is a coarse classification of time-to-expiry used for sorting and coloring.
type Urgency string

const (
	UrgencySafe    Urgency = "safe"
	UrgencyWarning Urgency = "warning"
	UrgencyDanger  Urgency = "danger"
	UrgencyExpired Urgency = "expired"
)
