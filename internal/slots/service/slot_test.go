package service

import (
	"allotment/internal/notify"
	"allotment/internal/slots/repository"
	"allotment/internal/slots/validator"
	"allotment/pkg/clock"
	apperrors "allotment/pkg/errors"
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var slotStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type slotFixture struct {
	svc    SlotService
	store  repository.SlotStore
	mu     sync.Mutex
	events []model.Event
}

func newSlotFixture(t *testing.T) *slotFixture {
	t.Helper()
	f := &slotFixture{store: repository.NewMemorySlotStore()}
	log := logger.NewDiscard()
	sink := notify.SinkFunc(func(_ context.Context, e model.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	})
	f.svc = NewSlotService(f.store, validator.NewSlotValidator(log), sink, clock.NewManual(slotStart), log)
	return f
}

func (f *slotFixture) addSlot(t *testing.T, id, team string, offset time.Duration) {
	t.Helper()
	err := f.svc.CreateSlot(context.Background(), &model.Slot{
		ID:        id,
		TeamID:    team,
		StartTime: slotStart.Add(offset),
		EndTime:   slotStart.Add(offset + 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSlot(%s) error = %v", id, err)
	}
}

func TestSlotService_Book(t *testing.T) {
	ctx := context.Background()
	f := newSlotFixture(t)
	f.addSlot(t, "s1", "team-a", 0)
	f.addSlot(t, "s2", "team-a", time.Hour)
	f.addSlot(t, "s3", "team-b", 0)

	slot, err := f.svc.Book(ctx, "s1", "alice")
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if slot.State != model.SlotReserved || slot.Claimant != "alice" || slot.ReservedAt == nil {
		t.Errorf("Book() = %+v", slot)
	}

	tests := []struct {
		name     string
		slotID   string
		claimant string
		wantErr  error
	}{
		{"slot taken", "s1", "bob", apperrors.ErrSlotTaken},
		{"second slot in same team", "s2", "alice", apperrors.ErrAlreadyBooked},
		{"unknown slot", "nope", "alice", apperrors.ErrSlotNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Book(ctx, tt.slotID, tt.claimant); !errors.Is(err, tt.wantErr) {
				t.Errorf("Book() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := f.svc.Book(ctx, "s3", "alice"); err != nil {
		t.Errorf("Book() in another team error = %v", err)
	}
	if len(f.events) != 2 || f.events[0].Type != model.EventBooked || f.events[0].ResourceID != "s1" {
		t.Errorf("events = %+v", f.events)
	}
}

func TestSlotService_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newSlotFixture(t)
	f.addSlot(t, "s1", "team-a", 0)
	f.addSlot(t, "s2", "team-a", time.Hour)

	if _, err := f.svc.Book(ctx, "s1", "alice"); err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if err := f.svc.Cancel(ctx, "s1", "bob"); !errors.Is(err, apperrors.ErrNotSlotOwner) {
		t.Errorf("Cancel() by other claimant error = %v, want ErrNotSlotOwner", err)
	}
	if err := f.svc.Cancel(ctx, "missing", "alice"); !errors.Is(err, apperrors.ErrSlotNotFound) {
		t.Errorf("Cancel() unknown slot error = %v, want ErrSlotNotFound", err)
	}
	if err := f.svc.Cancel(ctx, "s1", "alice"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	slot, _ := f.store.Get(ctx, "s1")
	if slot.State != model.SlotOpen || slot.Claimant != "" {
		t.Errorf("slot after cancel = %+v", slot)
	}
	if _, err := f.svc.Book(ctx, "s2", "alice"); err != nil {
		t.Errorf("Book() after cancel error = %v, claimant should be free again", err)
	}
	if err := f.svc.Cancel(ctx, "s1", "alice"); !errors.Is(err, apperrors.ErrNotSlotOwner) {
		t.Errorf("Cancel() of open slot error = %v, want ErrNotSlotOwner", err)
	}
}

func TestSlotService_ConcurrentBookSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newSlotFixture(t)
	f.addSlot(t, "hot", "team-a", 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(ctx, "hot", fmt.Sprintf("claimant-%d", i))
			switch {
			case err == nil:
				mu.Lock()
				winners++
				mu.Unlock()
			case !errors.Is(err, apperrors.ErrSlotTaken):
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestSlotService_ConcurrentBookOnePerTeam(t *testing.T) {
	ctx := context.Background()
	f := newSlotFixture(t)
	for i := range 8 {
		f.addSlot(t, fmt.Sprintf("s%d", i), "team-a", time.Duration(i)*time.Hour)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.Book(ctx, fmt.Sprintf("s%d", i), "alice")
		}(i)
	}
	wg.Wait()

	slots, err := f.svc.ListByTeam(ctx, "team-a")
	if err != nil {
		t.Fatalf("ListByTeam() error = %v", err)
	}
	reserved := 0
	for _, s := range slots {
		if s.State == model.SlotReserved {
			reserved++
		}
	}
	if reserved != 1 {
		t.Errorf("alice holds %d slots in team-a, want 1", reserved)
	}
}

func TestSlotService_CreateSlot(t *testing.T) {
	ctx := context.Background()
	f := newSlotFixture(t)

	slot := &model.Slot{TeamID: "team-a", StartTime: slotStart, EndTime: slotStart.Add(time.Hour)}
	if err := f.svc.CreateSlot(ctx, slot); err != nil {
		t.Fatalf("CreateSlot() error = %v", err)
	}
	if slot.ID == "" || slot.State != model.SlotOpen {
		t.Errorf("defaults not applied: %+v", slot)
	}

	dup := *slot
	if err := f.svc.CreateSlot(ctx, &dup); apperrors.AsAppError(err).Code != apperrors.CodeConflict {
		t.Errorf("duplicate CreateSlot() error = %v", err)
	}

	bad := &model.Slot{ID: "bad", TeamID: "team-a", StartTime: slotStart, EndTime: slotStart}
	if err := f.svc.CreateSlot(ctx, bad); apperrors.AsAppError(err).Code != apperrors.CodeValidation {
		t.Errorf("invalid CreateSlot() error = %v", err)
	}
}

func TestSlotService_CreateSlotIgnoresReservation(t *testing.T) {
	ctx := context.Background()
	f := newSlotFixture(t)

	reservedAt := slotStart.Add(-time.Hour)
	slot := &model.Slot{
		ID:         "s1",
		TeamID:     "team-a",
		StartTime:  slotStart,
		EndTime:    slotStart.Add(time.Hour),
		State:      model.SlotReserved,
		Claimant:   "mallory",
		ReservedAt: &reservedAt,
	}
	if err := f.svc.CreateSlot(ctx, slot); err != nil {
		t.Fatalf("CreateSlot() error = %v", err)
	}

	stored, err := f.store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.State != model.SlotOpen || stored.Claimant != "" || stored.ReservedAt != nil {
		t.Errorf("stored slot = %+v, want open and unclaimed", stored)
	}

	if _, err := f.svc.Book(ctx, "s1", "alice"); err != nil {
		t.Errorf("Book() after create error = %v", err)
	}
	if _, err := f.svc.Book(ctx, "s1", "mallory"); !errors.Is(err, apperrors.ErrSlotTaken) {
		t.Errorf("Book(mallory) error = %v, want ErrSlotTaken", err)
	}
}

func TestSlotService_ListByTeamOrdered(t *testing.T) {
	f := newSlotFixture(t)
	f.addSlot(t, "late", "team-a", 2*time.Hour)
	f.addSlot(t, "early", "team-a", 0)
	f.addSlot(t, "other", "team-b", time.Hour)

	slots, err := f.svc.ListByTeam(context.Background(), "team-a")
	if err != nil {
		t.Fatalf("ListByTeam() error = %v", err)
	}
	if len(slots) != 2 || slots[0].ID != "early" || slots[1].ID != "late" {
		t.Errorf("ListByTeam() = %v", slots)
	}
}
