package reminder

import (
	"time"

	"github.com/rezkam/renewal/internal/domain"
)

// PlannedSlot is one notification a document should have pending.
type PlannedSlot struct {
	Slot           domain.SlotKind
	NotificationID int32
	FiresAt        time.Time
}

// Plan is the desired notification set for one document at a point in time.
type Plan struct {
	DocumentID string
	Slots      []PlannedSlot

	// Inactive is set when the document is handled or already expired;
	// every slot should be cancelled and nothing scheduled.
	Inactive bool
}

// Policy holds the user settings a plan is computed under.
type Policy struct {
	Location *time.Location

	// DefaultPeriod applies to documents without a reminder period.
	DefaultPeriod domain.ReminderPeriod
}

// Active reports whether doc still wants reminders at now.
func Active(doc *domain.Document, now time.Time) bool {
	return !doc.IsHandled && doc.ExpiryDate.After(now)
}

// PlanFor computes which slots doc should have pending at now. recorded is
// what the schedule store holds for doc.
//
//   - primary: the lead-time instant, if still in the future
//   - follow-up: the day after primary, if still in the future and the primary
//     is either still ahead or was scheduled for this instant (recorded holds
//     the primary or the follow-up at the current times)
//   - final warning: the day before expiry, when 0 < days-left <= 7 and in the future
func PlanFor(doc *domain.Document, now time.Time, policy Policy, recorded []domain.ScheduledReminder) Plan {
	plan := Plan{DocumentID: doc.ID}

	if !Active(doc, now) {
		plan.Inactive = true
		return plan
	}

	loc := policy.Location
	tod := doc.EffectiveReminderTime()

	primary := ReminderInstant(doc.ExpiryDate, doc.EffectiveReminderPeriod(policy.DefaultPeriod), tod, loc)
	followUp := FollowUpInstant(primary)

	primaryAhead := primary.After(now)
	if primaryAhead {
		plan.Slots = append(plan.Slots, PlannedSlot{
			Slot:           domain.SlotPrimary,
			NotificationID: SlotID(doc.ID, domain.SlotPrimary),
			FiresAt:        primary,
		})
	}

	primaryScheduled := primaryAhead ||
		recordedAt(recorded, domain.SlotPrimary, primary) ||
		recordedAt(recorded, domain.SlotFollowUp, followUp)
	if primaryScheduled && followUp.After(now) {
		plan.Slots = append(plan.Slots, PlannedSlot{
			Slot:           domain.SlotFollowUp,
			NotificationID: SlotID(doc.ID, domain.SlotFollowUp),
			FiresAt:        followUp,
		})
	}

	if FinalWarningEligible(doc.ExpiryDate, now) {
		final := FinalWarningInstant(doc.ExpiryDate, tod, loc)
		if final.After(now) {
			plan.Slots = append(plan.Slots, PlannedSlot{
				Slot:           domain.SlotFinalWarning,
				NotificationID: SlotID(doc.ID, domain.SlotFinalWarning),
				FiresAt:        final,
			})
		}
	}

	return plan
}

func recordedAt(recorded []domain.ScheduledReminder, slot domain.SlotKind, firesAt time.Time) bool {
	for _, r := range recorded {
		if r.Slot == slot && r.FiresAt.Equal(firesAt) {
			return true
		}
	}
	return false
}

// Matches reports whether recorded holds exactly the slots of p with equal fire instants.
func (p Plan) Matches(recorded []domain.ScheduledReminder) bool {
	if len(recorded) != len(p.Slots) {
		return false
	}
	bySlot := make(map[domain.SlotKind]domain.ScheduledReminder, len(recorded))
	for _, r := range recorded {
		bySlot[r.Slot] = r
	}
	for _, s := range p.Slots {
		r, ok := bySlot[s.Slot]
		if !ok || r.NotificationID != s.NotificationID || !r.FiresAt.Equal(s.FiresAt) {
			return false
		}
	}
	return true
}
