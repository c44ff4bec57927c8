package reminder

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/rezkam/renewal/internal/domain"
)

// Per-slot offsets added to a document's base ID. The spacing keeps the four
// slots of one document distinct. Two different documents may still collide
// (base_a + 10000 == base_b); with high-entropy document IDs this is rare and
// accepted.
const (
	primaryOffset      = 0
	followUpOffset     = 10000
	finalWarningOffset = 20000
	urgentAlertOffset  = 30000
)

// baseSpace keeps base+offset within a positive int32.
const baseSpace = math.MaxInt32 - urgentAlertOffset

// BaseID maps documentID to [1, baseSpace]. Stable across processes.
func BaseID(documentID string) int32 {
	return int32(xxhash.Sum64String(documentID)%uint64(baseSpace)) + 1
}

func slotOffset(slot domain.SlotKind) int32 {
	switch slot {
	case domain.SlotFollowUp:
		return followUpOffset
	case domain.SlotFinalWarning:
		return finalWarningOffset
	case domain.SlotUrgentAlert:
		return urgentAlertOffset
	default:
		return primaryOffset
	}
}

// SlotID returns the notification ID for (documentID, slot).
func SlotID(documentID string, slot domain.SlotKind) int32 {
	return BaseID(documentID) + slotOffset(slot)
}

// SlotIDs returns the IDs of every slot for documentID, ordered as domain.AllSlots.
func SlotIDs(documentID string) []int32 {
	ids := make([]int32, 0, len(domain.AllSlots))
	for _, slot := range domain.AllSlots {
		ids = append(ids, SlotID(documentID, slot))
	}
	return ids
}
