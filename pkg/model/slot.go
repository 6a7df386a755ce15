package model

import "time"

type SlotState string

const (
	SlotOpen     SlotState = "open"
	SlotReserved SlotState = "reserved"
)

// Slot is an exclusive single-owner booking target, e.g. one interview time.
type Slot struct {
	ID         string     `json:"id" bson:"_id" validate:"required,max=128"`
	TeamID     string     `json:"team_id" bson:"team_id" validate:"required,max=128"`
	StartTime  time.Time  `json:"start_time" bson:"start_time" validate:"required"`
	EndTime    time.Time  `json:"end_time" bson:"end_time" validate:"required,gtfield=StartTime"`
	State      SlotState  `json:"state" bson:"state" validate:"required,oneof=open reserved"`
	Claimant   string     `json:"claimant,omitempty" bson:"claimant,omitempty"`
	ReservedAt *time.Time `json:"reserved_at,omitempty" bson:"reserved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}

func (s *Slot) Clone() *Slot {
	cp := *s
	if s.ReservedAt != nil {
		t := *s.ReservedAt
		cp.ReservedAt = &t
	}
	return &cp
}
