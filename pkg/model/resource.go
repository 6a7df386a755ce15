package model

import (
	"slices"
	"time"
)

const (
	ResourceKindEvent = "event"
	ResourceKindTeam  = "team"
)

// Resource is a finite-capacity allocation target: the seats of an event, the
// interview places of a team.
type Resource struct {
	ID                   string        `json:"id" bson:"_id" validate:"required,max=128"`
	Kind                 string        `json:"kind" bson:"kind" validate:"required,oneof=event team"`
	Capacity             int           `json:"capacity" bson:"capacity" validate:"min=0"`
	RegistrationDeadline time.Time     `json:"registration_deadline" bson:"registration_deadline" validate:"required"`
	HoldDuration         time.Duration `json:"hold_duration" bson:"hold_duration" validate:"min=0"`
	Holders              []string      `json:"holders" bson:"holders"`
	// LapsedHolds lists claimants whose hold expired and was reclaimed, so a
	// late finalize still reports the expiry. Cleared when the claimant claims
	// or joins again.
	LapsedHolds          []string      `json:"lapsed_holds,omitempty" bson:"lapsed_holds,omitempty"`
	Version              int64         `json:"version" bson:"version"`
	CreatedAt            time.Time     `json:"created_at" bson:"created_at"`
}

func (r *Resource) HolderCount() int {
	return len(r.Holders)
}

func (r *Resource) IsHolder(claimantID string) bool {
	return slices.Contains(r.Holders, claimantID)
}

func (r *Resource) HoldLapsed(claimantID string) bool {
	return slices.Contains(r.LapsedHolds, claimantID)
}

// Open reports whether new claims and promotions are still accepted at now.
func (r *Resource) Open(now time.Time) bool {
	return now.Before(r.RegistrationDeadline)
}

// Clone returns a deep copy so callers can mutate a snapshot without touching
// the stored value.
func (r *Resource) Clone() *Resource {
	cp := *r
	cp.Holders = slices.Clone(r.Holders)
	cp.LapsedHolds = slices.Clone(r.LapsedHolds)
	return &cp
}
