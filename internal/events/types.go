package events

import (
	"fmt"
	"time"
)

// Booking lifecycle actions carried in event types.
const (
	ActionCreated   = "created"
	ActionVerified  = "verified"
	ActionConfirmed = "confirmed"
	ActionCancelled = "cancelled"
	ActionCompleted = "completed"
	ActionNoShow    = "no_show"
)

// BookingEventType returns the versioned event type for an action,
// e.g. "booking.confirmed.v1".
func BookingEventType(action string) string {
	return fmt.Sprintf("booking.%s.v1", action)
}

// BookingTransitionV1 is emitted after every successful lifecycle transition.
type BookingTransitionV1 struct {
	EventID     string    `json:"event_id"`
	BookingID   string    `json:"booking_id"`
	ProviderID  string    `json:"provider_id"`
	Action      string    `json:"action"`
	FromState   string    `json:"from_state,omitempty"`
	ToState     string    `json:"to_state"`
	Actor       string    `json:"actor"`
	BookingDate string    `json:"booking_date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
