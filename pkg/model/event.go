package model

import "time"

type EventType string

const (
	EventPromoted         EventType = "promoted"
	EventPromotionOffered EventType = "promotion_offered"
	EventHoldExpired      EventType = "hold_expired"
	EventConfirmed        EventType = "confirmed"
	EventReleased         EventType = "released"
	EventBooked           EventType = "booked"
	EventCancelled        EventType = "cancelled"
)

// Event is a state change emitted to the notification sink. For slot events
// ResourceID carries the slot ID.
type Event struct {
	ID            string     `json:"id"`
	Type          EventType  `json:"type"`
	ResourceID    string     `json:"resource_id"`
	ClaimantID    string     `json:"claimant_id"`
	Timestamp     time.Time  `json:"timestamp"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}
