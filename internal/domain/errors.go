package domain

import "errors"

// Domain errors returned by value constructors and repository implementations.

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDocumentNotFound indicates the specified document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocument indicates a document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidReminderPeriod indicates an unsupported reminder period.
	ErrInvalidReminderPeriod = errors.New("invalid reminder period")

	// ErrInvalidTimeOfDay indicates a malformed HH:MM reminder time.
	ErrInvalidTimeOfDay = errors.New("invalid time of day")

	// ErrInvalidSlotKind indicates an unknown notification slot kind.
	ErrInvalidSlotKind = errors.New("invalid slot kind")

	// ErrPermissionDenied indicates the user declined notification permission.
	// Callers receive it as a boolean signal, never as a hard failure.
	ErrPermissionDenied = errors.New("notification permission denied")
)
