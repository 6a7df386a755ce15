package repository_test

import (
	"allotment/internal/slots/repository"
	"allotment/internal/testutil"
	"allotment/pkg/model"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var slotStart = time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)

type storeFactory struct {
	name string
	new  func(t *testing.T) repository.SlotStore
}

// backends lists every SlotStore implementation. The Mongo one runs only when
// TEST_MONGO_URI is set; it relies on the migrated partial unique index.
func backends() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) repository.SlotStore {
				return repository.NewMemorySlotStore()
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) repository.SlotStore {
				return repository.NewRedisSlotStore(testutil.NewRedisClient(t), "test")
			},
		},
		{
			name: "mongo",
			new: func(t *testing.T) repository.SlotStore {
				return repository.NewMongoSlotStore(testutil.NewMongoHelper(t).Config())
			},
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store repository.SlotStore)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.new(t))
		})
	}
}

func openSlot(id, team string, offset time.Duration) *model.Slot {
	start := slotStart.Add(offset)
	return &model.Slot{
		ID:        id,
		TeamID:    team,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		State:     model.SlotOpen,
		CreatedAt: slotStart.Add(-time.Hour),
	}
}

func mustCreate(t *testing.T, store repository.SlotStore, slots ...*model.Slot) {
	t.Helper()
	for _, s := range slots {
		if err := store.Create(context.Background(), s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}
}

func TestSlotStore_CreateGetList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store repository.SlotStore) {
		ctx := context.Background()
		mustCreate(t, store,
			openSlot("late", "t1", 2*time.Hour),
			openSlot("b", "t1", 0),
			openSlot("a", "t1", 0),
			openSlot("other", "t2", 0),
		)

		if err := store.Create(ctx, openSlot("a", "t1", 0)); !errors.Is(err, repository.ErrSlotExists) {
			t.Errorf("duplicate Create() error = %v, want ErrSlotExists", err)
		}
		if _, err := store.Get(ctx, "missing"); !errors.Is(err, repository.ErrSlotNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrSlotNotFound", err)
		}

		got, err := store.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.TeamID != "t1" || got.State != model.SlotOpen || !got.StartTime.Equal(slotStart) {
			t.Errorf("Get() = %+v", got)
		}

		slots, err := store.ListByTeam(ctx, "t1")
		if err != nil {
			t.Fatalf("ListByTeam() error = %v", err)
		}
		ids := make([]string, 0, len(slots))
		for _, s := range slots {
			ids = append(ids, s.ID)
		}
		if !slices.Equal(ids, []string{"a", "b", "late"}) {
			t.Errorf("ListByTeam() = %v, want [a b late]", ids)
		}
	})
}

func TestSlotStore_ReserveRelease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store repository.SlotStore) {
		ctx := context.Background()
		mustCreate(t, store,
			openSlot("a", "t1", 0),
			openSlot("b", "t1", time.Hour),
			openSlot("x", "t2", 0),
		)

		slot, err := store.Reserve(ctx, "a", "u1", slotStart)
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		if slot.State != model.SlotReserved || slot.Claimant != "u1" || slot.ReservedAt == nil || !slot.ReservedAt.Equal(slotStart) {
			t.Errorf("Reserve() = %+v, want reserved by u1 at %v", slot, slotStart)
		}

		tests := []struct {
			name     string
			slotID   string
			claimant string
			wantErr  error
		}{
			{"slot already reserved", "a", "u2", repository.ErrSlotTaken},
			{"second slot in same team", "b", "u1", repository.ErrAlreadyBooked},
			{"missing slot", "zz", "u1", repository.ErrSlotNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := store.Reserve(ctx, tt.slotID, tt.claimant, slotStart); !errors.Is(err, tt.wantErr) {
					t.Errorf("Reserve() error = %v, want %v", err, tt.wantErr)
				}
			})
		}

		if _, err := store.Reserve(ctx, "x", "u1", slotStart); err != nil {
			t.Errorf("Reserve() in another team error = %v", err)
		}

		if _, err := store.Release(ctx, "a", "u2"); !errors.Is(err, repository.ErrNotOwner) {
			t.Errorf("Release() by other claimant error = %v, want ErrNotOwner", err)
		}
		if _, err := store.Release(ctx, "b", "u1"); !errors.Is(err, repository.ErrNotOwner) {
			t.Errorf("Release() of open slot error = %v, want ErrNotOwner", err)
		}
		if _, err := store.Release(ctx, "zz", "u1"); !errors.Is(err, repository.ErrSlotNotFound) {
			t.Errorf("Release(missing) error = %v, want ErrSlotNotFound", err)
		}

		released, err := store.Release(ctx, "a", "u1")
		if err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if released.State != model.SlotOpen || released.Claimant != "" || released.ReservedAt != nil {
			t.Errorf("Release() = %+v, want open slot without claimant", released)
		}
		if got, _ := store.Get(ctx, "a"); got.State != model.SlotOpen || got.Claimant != "" {
			t.Errorf("Get() after release = %+v", got)
		}

		if _, err := store.Reserve(ctx, "b", "u1", slotStart); err != nil {
			t.Errorf("Reserve() after release error = %v", err)
		}
		if _, err := store.Reserve(ctx, "a", "u2", slotStart); err != nil {
			t.Errorf("Reserve() of released slot error = %v", err)
		}
	})
}

func TestSlotStore_ConcurrentReserveSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store repository.SlotStore) {
		ctx := context.Background()
		mustCreate(t, store, openSlot("a", "t1", 0))

		const claimants = 8
		var wg sync.WaitGroup
		errs := make([]error, claimants)
		for i := range claimants {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.Reserve(ctx, "a", string(rune('a'+i)), slotStart)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, repository.ErrSlotTaken):
				t.Errorf("losing Reserve() error = %v, want ErrSlotTaken", err)
			}
		}
		if wins != 1 {
			t.Errorf("winners = %d, want exactly 1", wins)
		}
	})
}

func TestSlotStore_ConcurrentReserveOnePerTeam(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store repository.SlotStore) {
		ctx := context.Background()
		ids := []string{"a", "b", "c", "d", "e"}
		for i, id := range ids {
			mustCreate(t, store, openSlot(id, "t1", time.Duration(i)*time.Hour))
		}

		var wg sync.WaitGroup
		errs := make([]error, len(ids))
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				_, errs[i] = store.Reserve(ctx, id, "u1", slotStart)
			}(i, id)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, repository.ErrAlreadyBooked):
				t.Errorf("losing Reserve() error = %v, want ErrAlreadyBooked", err)
			}
		}
		if wins != 1 {
			t.Errorf("slots reserved by u1 = %d, want exactly 1", wins)
		}

		slots, _ := store.ListByTeam(ctx, "t1")
		reserved := 0
		for _, s := range slots {
			if s.State == model.SlotReserved {
				reserved++
			}
		}
		if reserved != 1 {
			t.Errorf("reserved slots in team = %d, want 1", reserved)
		}
	})
}
