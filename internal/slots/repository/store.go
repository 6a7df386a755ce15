package repository

import (
	"allotment/pkg/model"
	"context"
	"errors"
	"time"
)

var (
	ErrSlotNotFound  = errors.New("slot not found")
	ErrSlotExists    = errors.New("slot already exists")
	ErrSlotTaken     = errors.New("slot already reserved")
	ErrAlreadyBooked = errors.New("claimant already holds a slot in this team")
	ErrNotOwner      = errors.New("slot not reserved by claimant")
)

// SlotStore persists exclusive slots. Reserve and Release are single
// conditional operations; no read-then-write happens outside the store.
type SlotStore interface {
	Create(ctx context.Context, slot *model.Slot) error
	Get(ctx context.Context, slotID string) (*model.Slot, error)
	ListByTeam(ctx context.Context, teamID string) ([]*model.Slot, error)
	// Reserve flips an open slot to reserved for claimant, unless claimant
	// already holds another reserved slot of the same team.
	Reserve(ctx context.Context, slotID, claimant string, at time.Time) (*model.Slot, error)
	// Release reopens a slot reserved by claimant.
	Release(ctx context.Context, slotID, claimant string) (*model.Slot, error)
}
