package service

import (
	"allotment/internal/allocation/policy"
	"allotment/internal/allocation/repository"
	"allotment/internal/notify"
	"allotment/pkg/clock"
	apperrors "allotment/pkg/errors"
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Deps are the collaborators shared by the ledger and the waitlist.
type Deps struct {
	Store repository.ResourceStore
	Sink  notify.Sink
	Clock clock.Clock
	Log   *logger.Logger
	Retry RetryPolicy
}

// engine runs the optimistic loop every capacity-affecting operation goes
// through: read a snapshot, let a pure plan decide, commit with AtomicUpdate
// keyed on the read version, publish events after the commit.
type engine struct {
	store repository.ResourceStore
	sink  notify.Sink
	clock clock.Clock
	log   *logger.Logger
	retry RetryPolicy
}

func newEngine(deps Deps) *engine {
	if deps.Sink == nil {
		deps.Sink = notify.Nop
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Retry.Attempts <= 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	return &engine{
		store: deps.Store,
		sink:  deps.Sink,
		clock: deps.Clock,
		log:   deps.Log,
		retry: deps.Retry,
	}
}

// planFunc decides on a snapshot. Returning an error together with a non-empty
// mutation commits the mutation and then reports the error.
type planFunc func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error)

type commitResult struct {
	before    *repository.Snapshot
	outcome   policy.Outcome
	version   int64
	committed bool
}

func (e *engine) read(ctx context.Context, resourceID string) (*repository.Snapshot, error) {
	snap, err := e.store.Read(ctx, resourceID)
	if err != nil {
		return nil, e.storeError(resourceID, err, "Failed to read resource")
	}
	return snap, nil
}

func (e *engine) storeError(resourceID string, err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundWithID("Resource", resourceID)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Internal(msg, err)
}

func (e *engine) mutate(ctx context.Context, op, resourceID string, plan planFunc) (commitResult, error) {
	log := e.log.ForResource(resourceID).With("op", op)

	for attempt := 1; attempt <= e.retry.Attempts; attempt++ {
		snap, err := e.read(ctx, resourceID)
		if err != nil {
			return commitResult{}, err
		}

		now := e.clock.Now()
		outcome, planErr := plan(snap, now)
		if outcome.Mutation.IsEmpty() {
			return commitResult{before: snap, outcome: outcome, version: snap.Resource.Version}, planErr
		}

		version, err := e.store.AtomicUpdate(ctx, resourceID, snap.Resource.Version, outcome.Mutation)
		if err == nil {
			e.publish(ctx, log, outcome.Events, now)
			return commitResult{before: snap, outcome: outcome, version: version, committed: true}, planErr
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			log.Error("Failed to commit allocation change", "attempt", attempt, "error", err)
			return commitResult{}, e.storeError(resourceID, err, "Failed to update resource")
		}

		log.Debug("Version conflict, retrying", "attempt", attempt, "version", snap.Resource.Version)
		if attempt < e.retry.Attempts {
			if err := sleep(ctx, e.retry.backoff(attempt)); err != nil {
				return commitResult{}, apperrors.Internal("Operation cancelled", err)
			}
		}
	}

	log.Warn("Retry budget exhausted", "attempts", e.retry.Attempts)
	return commitResult{}, apperrors.ErrContention.WithDetails(map[string]any{
		"resource_id": resourceID,
		"attempts":    e.retry.Attempts,
	})
}

// publish sends committed events. Failures are logged only: the state change
// has already happened.
func (e *engine) publish(ctx context.Context, log *logger.Logger, events []model.Event, now time.Time) {
	for _, ev := range events {
		ev.ID = uuid.NewString()
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		if err := e.sink.Publish(ctx, ev); err != nil {
			log.Warn("Failed to publish allocation event",
				"event_id", ev.ID,
				"type", ev.Type,
				"claimant_id", ev.ClaimantID,
				"error", err,
			)
		}
	}
}

// promote offers freed capacity to the queue in its own optimistic commit and
// returns how many entries moved.
func (e *engine) promote(ctx context.Context, resourceID string, freedUnits int) (int, error) {
	res, err := e.mutate(ctx, "promote", resourceID, func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error) {
		return policy.PlanPromotion(snap, freedUnits, now), nil
	})
	if err != nil {
		return 0, err
	}
	if !res.committed {
		return 0, nil
	}
	promoted := len(res.outcome.Events)
	e.log.ForResource(resourceID).Info("Promoted waitlist entries",
		"freed_units", freedUnits,
		"promoted", promoted,
		"version", res.version,
	)
	return promoted, nil
}

// promoteAfter runs a follow-up promotion for an operation that already
// committed. Its failure is logged rather than returned; the next sweep heals
// stranded capacity.
func (e *engine) promoteAfter(ctx context.Context, op, resourceID string) {
	if _, err := e.promote(ctx, resourceID, 1); err != nil {
		e.log.ForResource(resourceID).Warn("Follow-up promotion failed",
			"op", op,
			"error", err,
		)
	}
}
