package domain

import "time"

// ScheduledReminder records one notification the engine has handed to the platform.
type ScheduledReminder struct {
	DocumentID     string
	Slot           SlotKind
	NotificationID int32
	FiresAt        time.Time
}

// Notification is a single request to the platform notification primitive.
type Notification struct {
	ID      int32
	FiresAt time.Time
	Title   string
	Body    string
	Payload map[string]string
}

// Payload keys used to correlate a delivered notification back to its document.
const (
	PayloadDocumentID   = "document_id"
	PayloadSlotKind     = "slot_kind"
	PayloadDocumentName = "document_name"
	PayloadExpiryDate   = "expiry_date"
)

// PendingNotification is a notification the platform still intends to fire.
type PendingNotification struct {
	ID      int32
	FiresAt time.Time
}

// QueuedNotification is a notification claimed from the durable queue for delivery.
type QueuedNotification struct {
	Notification

	// Attempts counts delivery attempts including the current one.
	Attempts int

	// Version changes every time the notification is (re)scheduled. A delivery
	// result is only applied if the version is unchanged.
	Version int64
}

// DeliveryStatus is the terminal state of a queued notification.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDead      DeliveryStatus = "dead"
)

// Delivery is the history record written when a notification leaves the queue.
type Delivery struct {
	NotificationID int32
	Title          string
	Body           string
	Payload        map[string]string
	FiresAt        time.Time
	DeliveredAt    time.Time
	Attempts       int
	Status         DeliveryStatus
	LastError      string
}

// Slot returns the slot kind carried in the delivery payload.
func (d Delivery) Slot() (SlotKind, error) {
	return NewSlotKind(d.Payload[PayloadSlotKind])
}
