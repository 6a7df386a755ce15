package service

import (
	"allotment/internal/allocation/policy"
	"allotment/internal/allocation/repository"
	apperrors "allotment/pkg/errors"
	"allotment/pkg/model"
	"context"
	"errors"
	"time"
)

// QueuePosition describes where a claimant stands on a waitlist. Position is
// 1-based among waiting entries and 0 while holding.
type QueuePosition struct {
	ResourceID    string           `json:"resource_id"`
	ClaimantID    string           `json:"claimant_id"`
	State         model.EntryState `json:"state"`
	Position      int              `json:"position"`
	Waiting       int              `json:"waiting"`
	JoinedAt      time.Time        `json:"joined_at"`
	HoldExpiresAt *time.Time       `json:"hold_expires_at,omitempty"`
}

// WaitlistService keeps the FIFO queue of a resource and moves claimants from
// waiting to holding to confirmed.
type WaitlistService interface {
	Join(ctx context.Context, resourceID, claimantID string) (*model.WaitlistEntry, error)
	Promote(ctx context.Context, resourceID string, freedUnits int) (int, error)
	Finalize(ctx context.Context, resourceID, claimantID string) error
	Leave(ctx context.Context, resourceID, claimantID string) error
	Position(ctx context.Context, resourceID, claimantID string) (*QueuePosition, error)
	// ReclaimExpired removes holds that ran out and promotes into the freed
	// capacity. It also promotes when free capacity sits next to waiting entries.
	ReclaimExpired(ctx context.Context, resourceID string) (reclaimed, promoted int, err error)
}

type waitlistService struct {
	*engine
}

func NewWaitlistService(deps Deps) WaitlistService {
	return &waitlistService{engine: newEngine(deps)}
}

// Join appends a waiting entry stamped with the engine clock. Capacity is not
// checked; callers join after a direct claim failed with NoDirectSlot.
func (s *waitlistService) Join(ctx context.Context, resourceID, claimantID string) (*model.WaitlistEntry, error) {
	if err := s.validateIDs(resourceID, claimantID); err != nil {
		return nil, err
	}

	res, err := s.mutate(ctx, "join", resourceID, func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error) {
		return policy.PlanJoin(snap, claimantID, now)
	})
	if err != nil {
		return nil, err
	}

	entry := res.outcome.Mutation.PutEntries[0]
	s.log.Info("Joined waitlist",
		"resource_id", resourceID,
		"claimant_id", claimantID,
		"joined_at", entry.JoinedAt,
		"version", res.version,
	)
	return entry, nil
}

func (s *waitlistService) Promote(ctx context.Context, resourceID string, freedUnits int) (int, error) {
	if resourceID == "" {
		return 0, apperrors.InvalidInput("Resource ID cannot be empty")
	}
	if freedUnits < 0 {
		return 0, apperrors.InvalidInput("Freed units cannot be negative")
	}
	return s.promote(ctx, resourceID, freedUnits)
}

// Finalize confirms a live hold. An expired hold is reclaimed on the spot,
// followed by one reclamation pass over the resource, before HoldExpired is
// returned. A hold the sweep already reclaimed reports HoldExpired too.
func (s *waitlistService) Finalize(ctx context.Context, resourceID, claimantID string) error {
	if err := s.validateIDs(resourceID, claimantID); err != nil {
		return err
	}

	res, err := s.mutate(ctx, "finalize", resourceID, func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error) {
		return policy.PlanFinalize(snap, claimantID, now)
	})
	if errors.Is(err, apperrors.ErrHoldExpired) && res.committed {
		s.log.Info("Expired hold reclaimed on finalize", "resource_id", resourceID, "claimant_id", claimantID)
		if _, _, reclaimErr := s.ReclaimExpired(ctx, resourceID); reclaimErr != nil {
			s.log.ForResource(resourceID).Warn("Follow-up reclamation failed",
				"op", "finalize",
				"error", reclaimErr,
			)
		}
		return err
	}
	if err != nil {
		return err
	}

	s.log.Info("Hold confirmed",
		"resource_id", resourceID,
		"claimant_id", claimantID,
		"version", res.version,
	)
	return nil
}

func (s *waitlistService) Leave(ctx context.Context, resourceID, claimantID string) error {
	if err := s.validateIDs(resourceID, claimantID); err != nil {
		return err
	}

	var wasHolding bool
	res, err := s.mutate(ctx, "leave", resourceID, func(snap *repository.Snapshot, _ time.Time) (policy.Outcome, error) {
		out, holding, err := policy.PlanLeave(snap, claimantID)
		wasHolding = holding
		return out, err
	})
	if err != nil {
		return err
	}

	s.log.Info("Left waitlist",
		"resource_id", resourceID,
		"claimant_id", claimantID,
		"was_holding", wasHolding,
		"version", res.version,
	)
	if wasHolding {
		s.promoteAfter(ctx, "leave", resourceID)
	}
	return nil
}

func (s *waitlistService) Position(ctx context.Context, resourceID, claimantID string) (*QueuePosition, error) {
	if err := s.validateIDs(resourceID, claimantID); err != nil {
		return nil, err
	}

	snap, err := s.read(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	entry := snap.Entry(claimantID)
	if entry == nil {
		return nil, apperrors.ErrNotQueued.WithDetails(map[string]any{
			"resource_id": resourceID,
			"claimant_id": claimantID,
		})
	}

	waiting := policy.Waiting(snap)
	pos := &QueuePosition{
		ResourceID:    resourceID,
		ClaimantID:    claimantID,
		State:         entry.State,
		Waiting:       len(waiting),
		JoinedAt:      entry.JoinedAt,
		HoldExpiresAt: entry.HoldExpiresAt,
	}
	for i, e := range waiting {
		if e.ClaimantID == claimantID {
			pos.Position = i + 1
			break
		}
	}
	return pos, nil
}

func (s *waitlistService) ReclaimExpired(ctx context.Context, resourceID string) (int, int, error) {
	if resourceID == "" {
		return 0, 0, apperrors.InvalidInput("Resource ID cannot be empty")
	}

	var reclaimed int
	res, err := s.mutate(ctx, "reclaim", resourceID, func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error) {
		out, n := policy.PlanExpiry(snap, now)
		reclaimed = n
		return out, nil
	})
	if err != nil {
		return 0, 0, err
	}
	if !res.committed {
		reclaimed = 0
	}

	// Capacity already free before this sweep is offered too, so a promotion
	// lost after a crash is picked up here.
	freed := reclaimed + policy.FreeCapacity(res.before)
	if freed == 0 || len(policy.Waiting(res.before)) == 0 {
		return reclaimed, 0, nil
	}

	promoted, err := s.promote(ctx, resourceID, freed)
	if err != nil {
		return reclaimed, 0, err
	}
	if reclaimed > 0 {
		s.log.Info("Reclaimed expired holds",
			"resource_id", resourceID,
			"reclaimed", reclaimed,
			"promoted", promoted,
		)
	}
	return reclaimed, promoted, nil
}
