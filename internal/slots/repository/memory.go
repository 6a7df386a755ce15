package repository

import (
	"allotment/pkg/model"
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type memorySlotStore struct {
	mu    sync.Mutex
	slots map[string]*model.Slot
}

func NewMemorySlotStore() SlotStore {
	return &memorySlotStore{slots: make(map[string]*model.Slot)}
}

func (s *memorySlotStore) Create(_ context.Context, slot *model.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[slot.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSlotExists, slot.ID)
	}
	s.slots[slot.ID] = slot.Clone()
	return nil
}

func (s *memorySlotStore) Get(_ context.Context, slotID string) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return slot.Clone(), nil
}

func (s *memorySlotStore) ListByTeam(_ context.Context, teamID string) ([]*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Slot
	for _, slot := range s.slots {
		if slot.TeamID == teamID {
			out = append(out, slot.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *model.Slot) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *memorySlotStore) Reserve(_ context.Context, slotID, claimant string, at time.Time) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if slot.State != model.SlotOpen {
		return nil, ErrSlotTaken
	}
	for _, other := range s.slots {
		if other.TeamID == slot.TeamID && other.State == model.SlotReserved && other.Claimant == claimant {
			return nil, ErrAlreadyBooked
		}
	}

	reservedAt := at
	slot.State = model.SlotReserved
	slot.Claimant = claimant
	slot.ReservedAt = &reservedAt
	return slot.Clone(), nil
}

func (s *memorySlotStore) Release(_ context.Context, slotID, claimant string) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if slot.State != model.SlotReserved || slot.Claimant != claimant {
		return nil, ErrNotOwner
	}

	slot.State = model.SlotOpen
	slot.Claimant = ""
	slot.ReservedAt = nil
	return slot.Clone(), nil
}
