// Package reminder holds the pure time/policy math and the notification
// identity scheme. Nothing here performs I/O or reads the wall clock: callers
// pass "now" and the user's location explicitly.
package reminder

import (
	"math"
	"time"

	"github.com/rezkam/renewal/internal/domain"
)

const day = 24 * time.Hour

// Urgency thresholds in days-until-expiry, inclusive on the more severe side.
const (
	DangerDays  = 7
	WarningDays = 30
)

// LeadDays returns the fixed number of days before expiry for period.
// Months are fixed 30-day blocks, not calendar months. Unknown periods
// fall back to one week.
func LeadDays(period domain.ReminderPeriod) int {
	switch period {
	case domain.ReminderOneWeek:
		return 7
	case domain.ReminderTwoWeeks:
		return 14
	case domain.ReminderOneMonth:
		return 30
	case domain.ReminderTwoMonths:
		return 60
	case domain.ReminderThreeMonths:
		return 90
	case domain.ReminderSixMonths:
		return 180
	case domain.ReminderNineMonths:
		return 270
	case domain.ReminderTwelveMonths:
		return 365
	default:
		return 7
	}
}

// atTimeOfDay returns the calendar date of t in loc, shifted by offsetDays,
// at tod with seconds zeroed.
func atTimeOfDay(t time.Time, offsetDays int, tod domain.TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	// time.Date normalizes day underflow across month and year boundaries.
	return time.Date(local.Year(), local.Month(), local.Day()+offsetDays, tod.Hour, tod.Minute, 0, 0, loc)
}

// ReminderInstant returns when the primary reminder fires: the expiry's
// calendar date in loc, minus the period's lead days, at tod.
func ReminderInstant(expiry time.Time, period domain.ReminderPeriod, tod domain.TimeOfDay, loc *time.Location) time.Time {
	return atTimeOfDay(expiry, -LeadDays(period), tod, loc)
}

// FollowUpInstant fires one calendar day after the primary, same wall-clock time.
func FollowUpInstant(primary time.Time) time.Time {
	return primary.AddDate(0, 0, 1)
}

// FinalWarningInstant fires on the calendar day before expiry at tod.
func FinalWarningInstant(expiry time.Time, tod domain.TimeOfDay, loc *time.Location) time.Time {
	return atTimeOfDay(expiry, -1, tod, loc)
}

// DaysUntilExpiry is ceil((expiry - now) / 24h). Negative once expired.
func DaysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(float64(expiry.Sub(now)) / float64(day)))
}

// UrgencyOf classifies expiry relative to now.
func UrgencyOf(expiry, now time.Time) domain.Urgency {
	days := DaysUntilExpiry(expiry, now)
	switch {
	case days < 0:
		return domain.UrgencyExpired
	case days <= DangerDays:
		return domain.UrgencyDanger
	case days <= WarningDays:
		return domain.UrgencyWarning
	default:
		return domain.UrgencySafe
	}
}

// FinalWarningEligible reports whether a final warning applies at now.
func FinalWarningEligible(expiry, now time.Time) bool {
	days := DaysUntilExpiry(expiry, now)
	return days > 0 && days <= DangerDays
}
