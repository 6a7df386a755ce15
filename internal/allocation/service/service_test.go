package service

import (
	"allotment/internal/allocation/repository"
	"allotment/internal/allocation/validator"
	"allotment/pkg/clock"
	apperrors "allotment/pkg/errors"
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) ofType(t model.EventType) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// mockStore delegates to an in-memory store unless a func field overrides a call.
type mockStore struct {
	repository.ResourceStore
	atomicUpdateFunc func(ctx context.Context, id string, version int64, m repository.Mutation) (int64, error)
	updates          int
	mu               sync.Mutex
}

func (m *mockStore) AtomicUpdate(ctx context.Context, id string, version int64, mut repository.Mutation) (int64, error) {
	m.mu.Lock()
	m.updates++
	m.mu.Unlock()
	if m.atomicUpdateFunc != nil {
		return m.atomicUpdateFunc(ctx, id, version, mut)
	}
	return m.ResourceStore.AtomicUpdate(ctx, id, version, mut)
}

type fixture struct {
	ledger   LedgerService
	waitlist WaitlistService
	store    repository.ResourceStore
	clock    *clock.Manual
	sink     *recordingSink
}

func newFixture(t *testing.T, store repository.ResourceStore) *fixture {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryResourceStore()
	}
	f := &fixture{
		store: store,
		clock: clock.NewManual(start),
		sink:  &recordingSink{},
	}
	deps := Deps{
		Store: store,
		Sink:  f.sink,
		Clock: f.clock,
		Log:   logger.NewDiscard(),
		Retry: RetryPolicy{Attempts: 3, BaseBackoff: time.Millisecond},
	}
	log := logger.NewDiscard()
	f.ledger = NewLedgerService(deps, validator.NewResourceValidator(log))
	f.waitlist = NewWaitlistService(deps)
	return f
}

func (f *fixture) createResource(t *testing.T, id string, capacity int, hold time.Duration) {
	t.Helper()
	err := f.ledger.CreateResource(context.Background(), &model.Resource{
		ID:                   id,
		Kind:                 model.ResourceKindEvent,
		Capacity:             capacity,
		RegistrationDeadline: start.Add(48 * time.Hour),
		HoldDuration:         hold,
	})
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
}

func (f *fixture) snapshot(t *testing.T, id string) *repository.Snapshot {
	t.Helper()
	snap, err := f.ledger.Snapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func mustClaim(t *testing.T, f *fixture, id, claimant string) {
	t.Helper()
	if _, err := f.ledger.Claim(context.Background(), id, claimant); err != nil {
		t.Fatalf("Claim(%s) error = %v", claimant, err)
	}
}

func mustJoin(t *testing.T, f *fixture, id, claimant string) {
	t.Helper()
	if _, err := f.waitlist.Join(context.Background(), id, claimant); err != nil {
		t.Fatalf("Join(%s) error = %v", claimant, err)
	}
	f.clock.Advance(time.Second)
}

func TestScenario_SingleSeatHandOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, 30*time.Minute)

	res, err := f.ledger.Claim(ctx, "r1", "A")
	if err != nil || res.Status != ClaimGranted {
		t.Fatalf("Claim(A) = %+v, %v", res, err)
	}
	if _, err := f.ledger.Claim(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrNoDirectSlot) {
		t.Fatalf("Claim(B) error = %v, want ErrNoDirectSlot", err)
	}
	mustJoin(t, f, "r1", "B")

	if err := f.ledger.Release(ctx, "r1", "A"); err != nil {
		t.Fatalf("Release(A) error = %v", err)
	}

	snap := f.snapshot(t, "r1")
	b := snap.Entry("B")
	if b == nil || b.State != model.EntryHolding {
		t.Fatalf("B should be holding, got %+v", b)
	}
	if b.HoldExpiresAt.After(snap.Resource.RegistrationDeadline) {
		t.Errorf("hold %v outlives deadline %v", b.HoldExpiresAt, snap.Resource.RegistrationDeadline)
	}
	if len(f.sink.ofType(model.EventPromotionOffered)) != 1 {
		t.Errorf("expected one promotion_offered event")
	}

	f.clock.Advance(10 * time.Minute)
	if err := f.waitlist.Finalize(ctx, "r1", "B"); err != nil {
		t.Fatalf("Finalize(B) error = %v", err)
	}

	snap = f.snapshot(t, "r1")
	if snap.Resource.HolderCount() != 1 || !snap.Resource.IsHolder("B") || len(snap.Entries) != 0 {
		t.Errorf("B should be the sole holder, got holders=%v entries=%d", snap.Resource.Holders, len(snap.Entries))
	}
}

func TestScenario_OnlyFirstWaiterPromoted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 2, 30*time.Minute)

	mustClaim(t, f, "r1", "A")
	mustClaim(t, f, "r1", "B")
	mustJoin(t, f, "r1", "C")
	mustJoin(t, f, "r1", "D")

	if err := f.ledger.Release(ctx, "r1", "A"); err != nil {
		t.Fatalf("Release(A) error = %v", err)
	}

	snap := f.snapshot(t, "r1")
	if e := snap.Entry("C"); e == nil || e.State != model.EntryHolding {
		t.Errorf("C should be holding, got %+v", e)
	}
	if e := snap.Entry("D"); e == nil || e.State != model.EntryWaiting {
		t.Errorf("D should still be waiting, got %+v", e)
	}
}

func TestPromote_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)

	mustClaim(t, f, "r1", "holder")
	for _, c := range []string{"A", "B", "C"} {
		mustJoin(t, f, "r1", c)
	}
	_ = f.ledger.Release(ctx, "r1", "holder")

	offered := f.sink.ofType(model.EventPromotionOffered)
	if len(offered) != 1 || offered[0].ClaimantID != "A" {
		t.Fatalf("offered = %+v, want only A", offered)
	}

	pos, err := f.waitlist.Position(ctx, "r1", "C")
	if err != nil {
		t.Fatalf("Position() error = %v", err)
	}
	if pos.Position != 2 || pos.Waiting != 2 || pos.State != model.EntryWaiting {
		t.Errorf("Position(C) = %+v, want 2 of 2", pos)
	}
}

func TestPromote_TieBreakByClaimant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "holder")

	// Same clock reading for both joins.
	for _, c := range []string{"zed", "amy"} {
		if _, err := f.waitlist.Join(ctx, "r1", c); err != nil {
			t.Fatalf("Join(%s) error = %v", c, err)
		}
	}
	_ = f.ledger.Release(ctx, "r1", "holder")

	if e := f.snapshot(t, "r1").Entry("amy"); e == nil || e.State != model.EntryHolding {
		t.Errorf("amy should win the tie, got %+v", e)
	}
}

func TestPromote_NoHoldStepConfirmsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "free", 1, 0)

	mustClaim(t, f, "free", "A")
	mustJoin(t, f, "free", "B")
	_ = f.ledger.Release(ctx, "free", "A")

	snap := f.snapshot(t, "free")
	if !snap.Resource.IsHolder("B") || len(snap.Entries) != 0 {
		t.Errorf("B should be confirmed directly, holders=%v entries=%d", snap.Resource.Holders, len(snap.Entries))
	}
	if len(f.sink.ofType(model.EventPromoted)) != 1 {
		t.Errorf("expected a promoted event")
	}
}

func TestPromote_NoOpAfterDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")

	f.clock.Advance(49 * time.Hour)
	if err := f.ledger.Release(ctx, "r1", "A"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if e := f.snapshot(t, "r1").Entry("B"); e.State != model.EntryWaiting {
		t.Errorf("no promotion expected after the deadline, got %s", e.State)
	}
	if _, err := f.ledger.Claim(ctx, "r1", "C"); !errors.Is(err, apperrors.ErrDeadlinePassed) {
		t.Errorf("Claim() after deadline error = %v, want ErrDeadlinePassed", err)
	}
}

func TestFinalize_ExpiredHoldIsReclaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, 10*time.Minute)

	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")
	mustJoin(t, f, "r1", "C")
	_ = f.ledger.Release(ctx, "r1", "A")

	f.clock.Advance(11 * time.Minute)
	err := f.waitlist.Finalize(ctx, "r1", "B")
	if !errors.Is(err, apperrors.ErrHoldExpired) {
		t.Fatalf("Finalize(B) error = %v, want ErrHoldExpired", err)
	}

	snap := f.snapshot(t, "r1")
	if snap.Entry("B") != nil {
		t.Error("expired entry B should be removed")
	}
	if e := snap.Entry("C"); e == nil || e.State != model.EntryHolding {
		t.Errorf("C should be promoted into the reclaimed unit, got %+v", e)
	}
	if len(f.sink.ofType(model.EventHoldExpired)) != 1 {
		t.Error("expected one hold_expired event")
	}
	if err := f.waitlist.Finalize(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrHoldExpired) {
		t.Errorf("second Finalize(B) error = %v, want ErrHoldExpired", err)
	}
}

func TestFinalize_ExpiredHoldReclaimsEveryLapsedHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 2, 10*time.Minute)

	mustClaim(t, f, "r1", "A")
	mustClaim(t, f, "r1", "Z")
	for _, c := range []string{"B", "C", "D", "E"} {
		mustJoin(t, f, "r1", c)
	}
	_ = f.ledger.Release(ctx, "r1", "A")
	f.clock.Advance(time.Minute)
	_ = f.ledger.Release(ctx, "r1", "Z")

	f.clock.Advance(11 * time.Minute)
	if err := f.waitlist.Finalize(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrHoldExpired) {
		t.Fatalf("Finalize(B) error = %v, want ErrHoldExpired", err)
	}

	snap := f.snapshot(t, "r1")
	if snap.Entry("B") != nil || snap.Entry("C") != nil {
		t.Errorf("both expired holds should be reclaimed, entries %+v", snap.Entries)
	}
	for _, c := range []string{"D", "E"} {
		if e := snap.Entry(c); e == nil || e.State != model.EntryHolding {
			t.Errorf("%s should be promoted, got %+v", c, e)
		}
	}
	if n := len(f.sink.ofType(model.EventHoldExpired)); n != 2 {
		t.Errorf("hold_expired events = %d, want 2", n)
	}
	if err := f.waitlist.Finalize(ctx, "r1", "C"); !errors.Is(err, apperrors.ErrHoldExpired) {
		t.Errorf("Finalize(C) error = %v, want ErrHoldExpired", err)
	}
}

func TestFinalize_AfterSweepReportsHoldExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, 10*time.Minute)

	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")
	_ = f.ledger.Release(ctx, "r1", "A")

	f.clock.Advance(11 * time.Minute)
	if reclaimed, _, err := f.waitlist.ReclaimExpired(ctx, "r1"); err != nil || reclaimed != 1 {
		t.Fatalf("ReclaimExpired() = %d, %v, want 1 reclaimed", reclaimed, err)
	}

	err := f.waitlist.Finalize(ctx, "r1", "B")
	if !errors.Is(err, apperrors.ErrHoldExpired) {
		t.Fatalf("Finalize(B) after sweep error = %v, want ErrHoldExpired", err)
	}
	if apperrors.KindOf(err) != apperrors.KindStateConflict {
		t.Errorf("Finalize(B) kind = %s, want %s", apperrors.KindOf(err), apperrors.KindStateConflict)
	}
	if err := f.waitlist.Finalize(ctx, "r1", "nobody"); !errors.Is(err, apperrors.ErrNotQueued) {
		t.Errorf("Finalize(never queued) error = %v, want ErrNotQueued", err)
	}

	mustJoin(t, f, "r1", "B")
	if f.snapshot(t, "r1").Resource.HoldLapsed("B") {
		t.Error("joining again should clear the lapsed hold")
	}
	if err := f.waitlist.Finalize(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrNotHolding) {
		t.Errorf("Finalize(B) while waiting again error = %v, want ErrNotHolding", err)
	}
}

func TestFinalize_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")

	if err := f.waitlist.Finalize(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrNotHolding) {
		t.Errorf("Finalize(waiting) error = %v, want ErrNotHolding", err)
	}
	if err := f.waitlist.Finalize(ctx, "r1", "nobody"); !errors.Is(err, apperrors.ErrNotQueued) {
		t.Errorf("Finalize(missing) error = %v, want ErrNotQueued", err)
	}
	if err := f.waitlist.Finalize(ctx, "missing", "B"); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Errorf("Finalize(unknown resource) error = %v, want ErrResourceNotFound", err)
	}
}

func TestLeave_HoldingPromotesNext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")
	mustJoin(t, f, "r1", "C")
	_ = f.ledger.Release(ctx, "r1", "A")

	if err := f.waitlist.Leave(ctx, "r1", "B"); err != nil {
		t.Fatalf("Leave(B) error = %v", err)
	}
	if e := f.snapshot(t, "r1").Entry("C"); e == nil || e.State != model.EntryHolding {
		t.Errorf("C should be holding after B left, got %+v", e)
	}
	if err := f.waitlist.Leave(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrNotQueued) {
		t.Errorf("second Leave(B) error = %v, want ErrNotQueued", err)
	}
}

func TestLeave_WaitingDoesNotPromote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")
	mustJoin(t, f, "r1", "C")

	if err := f.waitlist.Leave(ctx, "r1", "B"); err != nil {
		t.Fatalf("Leave(B) error = %v", err)
	}
	if e := f.snapshot(t, "r1").Entry("C"); e.State != model.EntryWaiting {
		t.Errorf("C should still wait, got %s", e.State)
	}
}

func TestClaimAndJoin_AlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")

	if _, err := f.ledger.Claim(ctx, "r1", "A"); !errors.Is(err, apperrors.ErrAlreadyClaimed) {
		t.Errorf("Claim(holder) error = %v", err)
	}
	if _, err := f.waitlist.Join(ctx, "r1", "B"); !errors.Is(err, apperrors.ErrAlreadyClaimed) {
		t.Errorf("Join(queued) error = %v", err)
	}
	if _, err := f.waitlist.Join(ctx, "r1", "A"); !errors.Is(err, apperrors.ErrAlreadyClaimed) {
		t.Errorf("Join(holder) error = %v", err)
	}
}

func TestRelease_NonHolderIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, time.Hour)

	before := f.snapshot(t, "r1").Resource.Version
	if err := f.ledger.Release(context.Background(), "r1", "ghost"); err != nil {
		t.Fatalf("Release(non-holder) error = %v", err)
	}
	if after := f.snapshot(t, "r1").Resource.Version; after != before {
		t.Errorf("no-op release bumped version %d -> %d", before, after)
	}
	if len(f.sink.ofType(model.EventReleased)) != 0 {
		t.Error("no-op release must not emit an event")
	}
}

func TestClaim_CapacityInvariantUnderConcurrency(t *testing.T) {
	const capacity = 5
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", capacity, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := range 60 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimant := "c" + string(rune('A'+i%26)) + string(rune('a'+i/26))
			_, err := f.ledger.Claim(ctx, "r1", claimant)
			switch {
			case err == nil:
				mu.Lock()
				granted++
				mu.Unlock()
			case errors.Is(err, apperrors.ErrNoDirectSlot), errors.Is(err, apperrors.ErrContention):
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap := f.snapshot(t, "r1")
	if snap.Resource.HolderCount() > capacity {
		t.Fatalf("holders %d exceed capacity %d", snap.Resource.HolderCount(), capacity)
	}
	if granted != snap.Resource.HolderCount() {
		t.Errorf("granted %d but store has %d holders", granted, snap.Resource.HolderCount())
	}
}

func TestClaimRelease_InvariantUnderMixedLoad(t *testing.T) {
	const capacity = 3
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", capacity, time.Hour)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimant := string(rune('a' + i))
			for range 5 {
				if _, err := f.ledger.Claim(ctx, "r1", claimant); err == nil {
					if snap, err := f.store.Read(ctx, "r1"); err == nil && snap.Resource.HolderCount() > capacity {
						t.Errorf("observed %d holders", snap.Resource.HolderCount())
					}
					for f.ledger.Release(ctx, "r1", claimant) != nil {
					}
				}
			}
		}(i)
	}
	wg.Wait()

	if n := f.snapshot(t, "r1").Resource.HolderCount(); n != 0 {
		t.Errorf("every claimant released, holders = %d", n)
	}
}

func TestMutate_ContentionAfterRetryBudget(t *testing.T) {
	store := &mockStore{ResourceStore: repository.NewMemoryResourceStore()}
	f := newFixture(t, store)
	f.createResource(t, "r1", 1, time.Hour)

	store.atomicUpdateFunc = func(context.Context, string, int64, repository.Mutation) (int64, error) {
		return 0, repository.ErrVersionConflict
	}

	_, err := f.ledger.Claim(context.Background(), "r1", "A")
	if !errors.Is(err, apperrors.ErrContention) {
		t.Fatalf("Claim() error = %v, want ErrContention", err)
	}
	if apperrors.KindOf(err) != apperrors.KindContention {
		t.Errorf("kind = %s, want contention", apperrors.KindOf(err))
	}
	if store.updates != 3 {
		t.Errorf("AtomicUpdate called %d times, want 3", store.updates)
	}
	if len(f.sink.ofType(model.EventConfirmed)) != 0 {
		t.Error("no event may be emitted without a commit")
	}
}

func TestMutate_RetriesThenSucceeds(t *testing.T) {
	mem := repository.NewMemoryResourceStore()
	store := &mockStore{ResourceStore: mem}
	f := newFixture(t, store)
	f.createResource(t, "r1", 1, time.Hour)

	calls := 0
	store.atomicUpdateFunc = func(ctx context.Context, id string, v int64, m repository.Mutation) (int64, error) {
		calls++
		if calls == 1 {
			return 0, repository.ErrVersionConflict
		}
		return mem.AtomicUpdate(ctx, id, v, m)
	}

	if _, err := f.ledger.Claim(context.Background(), "r1", "A"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestMutate_StateConflictIsNotRetried(t *testing.T) {
	store := &mockStore{ResourceStore: repository.NewMemoryResourceStore()}
	f := newFixture(t, store)
	f.createResource(t, "r1", 0, time.Hour)

	if _, err := f.ledger.Claim(context.Background(), "r1", "A"); !errors.Is(err, apperrors.ErrNoDirectSlot) {
		t.Fatalf("Claim() error = %v, want ErrNoDirectSlot", err)
	}
	if store.updates != 0 {
		t.Errorf("a rejected claim must not write, got %d updates", store.updates)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, nil)
	f.sink.err = errors.New("broker down")
	f.createResource(t, "r1", 1, time.Hour)

	if _, err := f.ledger.Claim(context.Background(), "r1", "A"); err != nil {
		t.Fatalf("Claim() error = %v, sink failures must be swallowed", err)
	}
	if !f.snapshot(t, "r1").Resource.IsHolder("A") {
		t.Error("claim should be committed")
	}
}

func TestReclaimExpired_ConcurrentSweepsPromoteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.createResource(t, "r1", 1, 5*time.Minute)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")
	mustJoin(t, f, "r1", "C")
	mustJoin(t, f, "r1", "D")
	_ = f.ledger.Release(ctx, "r1", "A")

	f.clock.Advance(6 * time.Minute)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = f.waitlist.ReclaimExpired(ctx, "r1")
		}()
	}
	wg.Wait()

	snap := f.snapshot(t, "r1")
	holding := 0
	for _, e := range snap.Entries {
		if e.State == model.EntryHolding {
			holding++
		}
	}
	if holding > 1 {
		t.Fatalf("%d holds for capacity 1", holding)
	}
	if len(f.sink.ofType(model.EventHoldExpired)) != 1 {
		t.Errorf("hold_expired events = %d, want exactly 1", len(f.sink.ofType(model.EventHoldExpired)))
	}
	if snap.Entry("B") != nil {
		t.Error("B's expired hold should be gone")
	}
}

func TestReclaimExpired_HealsStrandedCapacity(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{ResourceStore: repository.NewMemoryResourceStore()}
	f := newFixture(t, store)
	f.createResource(t, "r1", 1, time.Hour)
	mustClaim(t, f, "r1", "A")
	mustJoin(t, f, "r1", "B")

	// Release commits but the follow-up promotion is lost.
	mem := store.ResourceStore
	store.atomicUpdateFunc = func(ctx context.Context, id string, v int64, m repository.Mutation) (int64, error) {
		if len(m.RemoveHolders) == 0 {
			return 0, errors.New("connection reset")
		}
		return mem.AtomicUpdate(ctx, id, v, m)
	}
	_ = f.ledger.Release(ctx, "r1", "A")
	store.atomicUpdateFunc = nil

	if e := f.snapshot(t, "r1").Entry("B"); e.State != model.EntryWaiting {
		t.Fatalf("setup: B should still be waiting, got %s", e.State)
	}

	reclaimed, promoted, err := f.waitlist.ReclaimExpired(ctx, "r1")
	if err != nil {
		t.Fatalf("ReclaimExpired() error = %v", err)
	}
	if reclaimed != 0 || promoted != 1 {
		t.Errorf("ReclaimExpired() = %d, %d; want 0, 1", reclaimed, promoted)
	}
}

func TestCreateResource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	r := &model.Resource{
		Kind:                 model.ResourceKindTeam,
		Capacity:             4,
		RegistrationDeadline: start.Add(time.Hour),
	}
	if err := f.ledger.CreateResource(ctx, r); err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if r.ID == "" || !r.CreatedAt.Equal(start) {
		t.Errorf("defaults not applied: %+v", r)
	}

	dup := *r
	if err := f.ledger.CreateResource(ctx, &dup); apperrors.KindOf(err) != apperrors.KindStateConflict {
		t.Errorf("duplicate CreateResource() error = %v, want state conflict", err)
	}

	bad := &model.Resource{ID: "x", Kind: "party", Capacity: -1}
	err := f.ledger.CreateResource(ctx, bad)
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeValidation {
		t.Errorf("invalid CreateResource() error = %v, want validation", err)
	}
}

func TestOperations_RejectEmptyIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if _, err := f.ledger.Claim(ctx, "", "A"); apperrors.AsAppError(err).Code != apperrors.CodeInvalidInput {
		t.Errorf("Claim(empty resource) error = %v", err)
	}
	if _, err := f.waitlist.Join(ctx, "r1", ""); apperrors.AsAppError(err).Code != apperrors.CodeInvalidInput {
		t.Errorf("Join(empty claimant) error = %v", err)
	}
	if _, err := f.waitlist.Promote(ctx, "r1", -1); apperrors.AsAppError(err).Code != apperrors.CodeInvalidInput {
		t.Errorf("Promote(-1) error = %v", err)
	}
	if _, err := f.ledger.Claim(ctx, "missing", "A"); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Errorf("Claim(missing) error = %v, want not found", err)
	}
}
