package repository

import (
	"allotment/pkg/model"
	"context"
	"fmt"
	"slices"
	"sync"
)

type memoryResourceStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryResourceStore returns a process-local store. The mutex makes every
// AtomicUpdate a single read-verify-write step, the same contract the Mongo and
// Redis stores give across processes.
func NewMemoryResourceStore() ResourceStore {
	return &memoryResourceStore{snapshots: make(map[string]*Snapshot)}
}

func (s *memoryResourceStore) Create(_ context.Context, resource *model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[resource.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, resource.ID)
	}
	s.snapshots[resource.ID] = &Snapshot{Resource: resource.Clone()}
	return nil
}

func (s *memoryResourceStore) Read(_ context.Context, resourceID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *memoryResourceStore) AtomicUpdate(_ context.Context, resourceID string, expectedVersion int64, mutation Mutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[resourceID]
	if !ok {
		return 0, ErrNotFound
	}
	if snap.Resource.Version != expectedVersion {
		return 0, ErrVersionConflict
	}

	next := mutation.Apply(snap)
	s.snapshots[resourceID] = next
	return next.Resource.Version, nil
}

func (s *memoryResourceStore) ListPending(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, snap := range s.snapshots {
		if len(snap.Entries) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memoryResourceStore) Ping(context.Context) error {
	return nil
}
