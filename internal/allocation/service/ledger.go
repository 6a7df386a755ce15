package service

import (
	"allotment/internal/allocation/policy"
	"allotment/internal/allocation/repository"
	"allotment/internal/allocation/validator"
	apperrors "allotment/pkg/errors"
	"allotment/pkg/model"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ClaimStatus string

const ClaimGranted ClaimStatus = "granted"

type ClaimResult struct {
	ResourceID string      `json:"resource_id"`
	ClaimantID string      `json:"claimant_id"`
	Status     ClaimStatus `json:"status"`
	GrantedAt  time.Time   `json:"granted_at"`
	Version    int64       `json:"version"`
}

// LedgerService grants and releases direct holder places on a resource.
type LedgerService interface {
	CreateResource(ctx context.Context, resource *model.Resource) error
	Claim(ctx context.Context, resourceID, claimantID string) (*ClaimResult, error)
	Release(ctx context.Context, resourceID, claimantID string) error
	Snapshot(ctx context.Context, resourceID string) (*repository.Snapshot, error)
}

type ledgerService struct {
	*engine
	validator *validator.ResourceValidator
}

func NewLedgerService(deps Deps, v *validator.ResourceValidator) LedgerService {
	return &ledgerService{
		engine:    newEngine(deps),
		validator: v,
	}
}

func (s *ledgerService) CreateResource(ctx context.Context, resource *model.Resource) error {
	if resource == nil {
		return apperrors.InvalidInput("Resource cannot be empty")
	}
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	if resource.Holders == nil {
		resource.Holders = []string{}
	}
	resource.Version = 0
	resource.CreatedAt = s.clock.Now()

	if err := s.validator.Validate(resource); err != nil {
		s.log.Warn("Resource validation failed", "resource_id", resource.ID, "error", err)
		return apperrors.Validation("Resource validation failed", map[string]any{"error": err.Error()})
	}

	if err := s.store.Create(ctx, resource); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return apperrors.Conflict("Resource with this ID already exists").
				WithDetails(map[string]any{"id": resource.ID})
		}
		s.log.Error("Failed to create resource", "resource_id", resource.ID, "error", err)
		return apperrors.Internal("Failed to create resource", err)
	}

	s.log.Info("Resource created successfully",
		"resource_id", resource.ID,
		"kind", resource.Kind,
		"capacity", resource.Capacity,
		"registration_deadline", resource.RegistrationDeadline,
		"hold_duration", resource.HoldDuration,
	)
	return nil
}

func (s *ledgerService) Claim(ctx context.Context, resourceID, claimantID string) (*ClaimResult, error) {
	if err := s.validateIDs(resourceID, claimantID); err != nil {
		return nil, err
	}

	res, err := s.mutate(ctx, "claim", resourceID, func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error) {
		return policy.DecideClaim(snap, claimantID, now)
	})
	if err != nil {
		s.log.Debug("Claim rejected", "resource_id", resourceID, "claimant_id", claimantID, "error", err)
		return nil, err
	}

	s.log.Info("Claim granted",
		"resource_id", resourceID,
		"claimant_id", claimantID,
		"version", res.version,
	)
	return &ClaimResult{
		ResourceID: resourceID,
		ClaimantID: claimantID,
		Status:     ClaimGranted,
		GrantedAt:  res.outcome.Events[0].Timestamp,
		Version:    res.version,
	}, nil
}

// Release drops a holder and offers the freed unit to the queue. Releasing a
// claimant that holds nothing is a no-op, since a cancellation can race an
// expiry sweep.
func (s *ledgerService) Release(ctx context.Context, resourceID, claimantID string) error {
	if err := s.validateIDs(resourceID, claimantID); err != nil {
		return err
	}

	res, err := s.mutate(ctx, "release", resourceID, func(snap *repository.Snapshot, now time.Time) (policy.Outcome, error) {
		out, _ := policy.PlanRelease(snap, claimantID, now)
		return out, nil
	})
	if err != nil {
		return err
	}
	if !res.committed {
		s.log.Debug("Release of non-holder ignored", "resource_id", resourceID, "claimant_id", claimantID)
		return nil
	}

	s.log.Info("Holder released", "resource_id", resourceID, "claimant_id", claimantID, "version", res.version)
	s.promoteAfter(ctx, "release", resourceID)
	return nil
}

func (s *ledgerService) Snapshot(ctx context.Context, resourceID string) (*repository.Snapshot, error) {
	if resourceID == "" {
		return nil, apperrors.InvalidInput("Resource ID cannot be empty")
	}
	return s.read(ctx, resourceID)
}

func (e *engine) validateIDs(resourceID, claimantID string) error {
	if resourceID == "" {
		return apperrors.InvalidInput("Resource ID cannot be empty")
	}
	if claimantID == "" {
		return apperrors.InvalidInput("Claimant ID cannot be empty")
	}
	return nil
}
