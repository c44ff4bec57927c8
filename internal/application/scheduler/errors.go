package scheduler

import (
	"errors"
	"fmt"

	"github.com/rezkam/renewal/internal/domain"
)

// PlatformScheduleFailure records a platform call that failed for one document.
// Op is "schedule" or "cancel"; Slot is empty when every slot was affected.
// The failure is isolated: the pass continues with the remaining work.
type PlatformScheduleFailure struct {
	Op         string
	DocumentID string
	Slot       domain.SlotKind
	Err        error
}

func (e PlatformScheduleFailure) Error() string {
	if e.Slot == "" {
		return fmt.Sprintf("%s notifications for document %s: %v", e.Op, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("%s %s for document %s: %v", e.Op, e.Slot, e.DocumentID, e.Err)
}

func (e PlatformScheduleFailure) Unwrap() error { return e.Err }

// IsPlatformFailure returns true if err is or wraps a PlatformScheduleFailure.
func IsPlatformFailure(err error) bool {
	var failure PlatformScheduleFailure
	return errors.As(err, &failure)
}

// StoreIOError wraps a schedule store failure. It aborts the triggering
// operation; the next full pass reconciles whatever was left behind.
type StoreIOError struct {
	Op  string
	Err error
}

func (e StoreIOError) Error() string {
	return fmt.Sprintf("schedule store %s: %v", e.Op, e.Err)
}

func (e StoreIOError) Unwrap() error { return e.Err }

// IsStoreIO returns true if err is or wraps a StoreIOError.
func IsStoreIO(err error) bool {
	var storeErr StoreIOError
	return errors.As(err, &storeErr)
}

func storeIO(op string, err error) error {
	return StoreIOError{Op: op, Err: err}
}
