package model

import (
	"cmp"
	"time"
)

type EntryState string

const (
	EntryWaiting EntryState = "waiting"
	EntryHolding EntryState = "holding"
)

// WaitlistEntry is one claimant queued on one resource. There is at most one
// entry per (ResourceID, ClaimantID).
type WaitlistEntry struct {
	ResourceID    string     `json:"resource_id" bson:"resource_id"`
	ClaimantID    string     `json:"claimant_id" bson:"claimant_id"`
	JoinedAt      time.Time  `json:"joined_at" bson:"joined_at"`
	State         EntryState `json:"state" bson:"state"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty" bson:"hold_expires_at,omitempty"`
}

// Expired reports whether a holding entry can no longer be finalized at now.
// Waiting entries never expire.
func (e *WaitlistEntry) Expired(now time.Time) bool {
	if e.State != EntryHolding || e.HoldExpiresAt == nil {
		return false
	}
	return !now.Before(*e.HoldExpiresAt)
}

func (e *WaitlistEntry) Clone() *WaitlistEntry {
	cp := *e
	if e.HoldExpiresAt != nil {
		t := *e.HoldExpiresAt
		cp.HoldExpiresAt = &t
	}
	return &cp
}

// CompareFIFO orders entries by JoinedAt, breaking ties by ClaimantID.
func CompareFIFO(a, b *WaitlistEntry) int {
	if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ClaimantID, b.ClaimantID)
}
