// Package policy holds the allocation decisions. Every function is pure: it
// takes a snapshot and an instant and returns the mutation to commit plus the
// events to emit once the commit succeeds. Nothing here touches a store.
package policy

import (
	"allotment/internal/allocation/repository"
	apperrors "allotment/pkg/errors"
	"allotment/pkg/model"
	"time"
)

// Outcome is a decision ready to be committed with AtomicUpdate.
type Outcome struct {
	Mutation repository.Mutation
	Events   []model.Event
}

func (o *Outcome) emit(eventType model.EventType, resourceID, claimantID string, now time.Time, holdExpiresAt *time.Time) {
	o.Events = append(o.Events, model.Event{
		Type:          eventType,
		ResourceID:    resourceID,
		ClaimantID:    claimantID,
		Timestamp:     now,
		HoldExpiresAt: holdExpiresAt,
	})
}

// Reserved counts holding entries, expired or not. An expired hold keeps its
// unit until it is reclaimed.
func Reserved(snap *repository.Snapshot) int {
	n := 0
	for _, e := range snap.Entries {
		if e.State == model.EntryHolding {
			n++
		}
	}
	return n
}

// FreeCapacity is capacity minus holders minus reserved holds, never negative.
func FreeCapacity(snap *repository.Snapshot) int {
	return max(snap.Resource.Capacity-snap.Resource.HolderCount()-Reserved(snap), 0)
}

func Waiting(snap *repository.Snapshot) []*model.WaitlistEntry {
	var out []*model.WaitlistEntry
	for _, e := range snap.Entries {
		if e.State == model.EntryWaiting {
			out = append(out, e)
		}
	}
	return out
}

func deadlineErr(res *model.Resource) error {
	return apperrors.ErrDeadlinePassed.WithDetails(map[string]any{
		"resource_id":           res.ID,
		"registration_deadline": res.RegistrationDeadline,
	})
}

func claimDetails(resourceID, claimantID string) map[string]any {
	return map[string]any{"resource_id": resourceID, "claimant_id": claimantID}
}

// DecideClaim grants a direct holder place when holders plus reserved holds are
// below capacity.
func DecideClaim(snap *repository.Snapshot, claimantID string, now time.Time) (Outcome, error) {
	res := snap.Resource
	if !res.Open(now) {
		return Outcome{}, deadlineErr(res)
	}
	if res.IsHolder(claimantID) || snap.Entry(claimantID) != nil {
		return Outcome{}, apperrors.ErrAlreadyClaimed.WithDetails(claimDetails(res.ID, claimantID))
	}
	if res.HolderCount()+Reserved(snap) >= res.Capacity {
		return Outcome{}, apperrors.ErrNoDirectSlot.WithDetails(map[string]any{
			"resource_id": res.ID,
			"capacity":    res.Capacity,
			"holders":     res.HolderCount(),
			"reserved":    Reserved(snap),
		})
	}

	var out Outcome
	out.Mutation.AddHolders = []string{claimantID}
	out.Mutation.RemoveLapsed = clearLapsed(res, claimantID)
	out.emit(model.EventConfirmed, res.ID, claimantID, now, nil)
	return out, nil
}

func clearLapsed(res *model.Resource, claimantID string) []string {
	if res.HoldLapsed(claimantID) {
		return []string{claimantID}
	}
	return nil
}

// PlanRelease removes a holder. ok is false when claimantID holds nothing,
// which callers treat as a no-op.
func PlanRelease(snap *repository.Snapshot, claimantID string, now time.Time) (out Outcome, ok bool) {
	if !snap.Resource.IsHolder(claimantID) {
		return Outcome{}, false
	}
	out.Mutation.RemoveHolders = []string{claimantID}
	out.emit(model.EventReleased, snap.Resource.ID, claimantID, now, nil)
	return out, true
}

// PlanJoin appends a waiting entry. Capacity is not checked here; a direct
// claim is expected to have failed first.
func PlanJoin(snap *repository.Snapshot, claimantID string, now time.Time) (Outcome, error) {
	res := snap.Resource
	if !res.Open(now) {
		return Outcome{}, deadlineErr(res)
	}
	if res.IsHolder(claimantID) || snap.Entry(claimantID) != nil {
		return Outcome{}, apperrors.ErrAlreadyClaimed.WithDetails(claimDetails(res.ID, claimantID))
	}

	var out Outcome
	out.Mutation.PutEntries = []*model.WaitlistEntry{{
		ResourceID: res.ID,
		ClaimantID: claimantID,
		JoinedAt:   now,
		State:      model.EntryWaiting,
	}}
	out.Mutation.RemoveLapsed = clearLapsed(res, claimantID)
	return out, nil
}

// HoldExpiry caps a new hold at the registration deadline.
func HoldExpiry(res *model.Resource, now time.Time) time.Time {
	expires := now.Add(res.HoldDuration)
	if expires.After(res.RegistrationDeadline) {
		return res.RegistrationDeadline
	}
	return expires
}

// PlanPromotion offers up to freedUnits places to the oldest waiting entries.
// freedUnits is only an upper bound: the free capacity is recomputed from the
// snapshot so stacked triggers cannot over-promote. Resources without a hold
// step confirm the claimant straight away.
func PlanPromotion(snap *repository.Snapshot, freedUnits int, now time.Time) Outcome {
	res := snap.Resource
	if freedUnits <= 0 || !res.Open(now) {
		return Outcome{}
	}

	n := min(freedUnits, FreeCapacity(snap))
	waiting := Waiting(snap)
	if n > len(waiting) {
		n = len(waiting)
	}

	var out Outcome
	for _, e := range waiting[:n] {
		if res.HoldDuration == 0 {
			out.Mutation.DeleteEntries = append(out.Mutation.DeleteEntries, e.ClaimantID)
			out.Mutation.AddHolders = append(out.Mutation.AddHolders, e.ClaimantID)
			out.emit(model.EventPromoted, res.ID, e.ClaimantID, now, nil)
			continue
		}

		expires := HoldExpiry(res, now)
		held := e.Clone()
		held.State = model.EntryHolding
		held.HoldExpiresAt = &expires
		out.Mutation.PutEntries = append(out.Mutation.PutEntries, held)
		out.emit(model.EventPromotionOffered, res.ID, e.ClaimantID, now, &expires)
	}
	return out
}

// PlanFinalize confirms a live hold. For an expired hold it returns both the
// reclamation outcome and ErrHoldExpired: the caller commits the outcome and
// still reports the error. A hold already reclaimed by a sweep reports
// ErrHoldExpired with nothing to commit.
func PlanFinalize(snap *repository.Snapshot, claimantID string, now time.Time) (Outcome, error) {
	res := snap.Resource
	entry := snap.Entry(claimantID)
	if entry == nil {
		if res.HoldLapsed(claimantID) {
			return Outcome{}, apperrors.ErrHoldExpired.WithDetails(claimDetails(res.ID, claimantID))
		}
		return Outcome{}, apperrors.ErrNotQueued.WithDetails(claimDetails(res.ID, claimantID))
	}
	if entry.State != model.EntryHolding {
		return Outcome{}, apperrors.ErrNotHolding.WithDetails(claimDetails(res.ID, claimantID))
	}

	var out Outcome
	out.Mutation.DeleteEntries = []string{claimantID}
	if entry.Expired(now) {
		out.Mutation.AddLapsed = []string{claimantID}
		out.emit(model.EventHoldExpired, res.ID, claimantID, now, entry.HoldExpiresAt)
		return out, apperrors.ErrHoldExpired.WithDetails(map[string]any{
			"resource_id":     res.ID,
			"claimant_id":     claimantID,
			"hold_expires_at": *entry.HoldExpiresAt,
		})
	}

	out.Mutation.AddHolders = []string{claimantID}
	out.emit(model.EventConfirmed, res.ID, claimantID, now, nil)
	return out, nil
}

// PlanLeave removes the claimant's entry. wasHolding tells the caller a
// reserved unit was freed.
func PlanLeave(snap *repository.Snapshot, claimantID string) (out Outcome, wasHolding bool, err error) {
	entry := snap.Entry(claimantID)
	if entry == nil {
		return Outcome{}, false, apperrors.ErrNotQueued.WithDetails(claimDetails(snap.Resource.ID, claimantID))
	}
	out.Mutation.DeleteEntries = []string{claimantID}
	return out, entry.State == model.EntryHolding, nil
}

// PlanExpiry removes every holding entry whose hold has run out at now and
// reports how many units it reclaimed.
func PlanExpiry(snap *repository.Snapshot, now time.Time) (out Outcome, reclaimed int) {
	for _, e := range snap.Entries {
		if !e.Expired(now) {
			continue
		}
		out.Mutation.DeleteEntries = append(out.Mutation.DeleteEntries, e.ClaimantID)
		out.Mutation.AddLapsed = append(out.Mutation.AddLapsed, e.ClaimantID)
		out.emit(model.EventHoldExpired, snap.Resource.ID, e.ClaimantID, now, e.HoldExpiresAt)
		reclaimed++
	}
	return out, reclaimed
}
