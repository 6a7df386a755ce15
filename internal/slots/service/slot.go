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

	"github.com/google/uuid"
)

// SlotService books exclusive single-owner slots, one per claimant and team.
type SlotService interface {
	CreateSlot(ctx context.Context, slot *model.Slot) error
	Book(ctx context.Context, slotID, claimantID string) (*model.Slot, error)
	Cancel(ctx context.Context, slotID, claimantID string) error
	ListByTeam(ctx context.Context, teamID string) ([]*model.Slot, error)
}

type slotService struct {
	store     repository.SlotStore
	validator *validator.SlotValidator
	sink      notify.Sink
	clock     clock.Clock
	log       *logger.Logger
}

func NewSlotService(store repository.SlotStore, v *validator.SlotValidator, sink notify.Sink, clk clock.Clock, log *logger.Logger) SlotService {
	if sink == nil {
		sink = notify.Nop
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &slotService{
		store:     store,
		validator: v,
		sink:      sink,
		clock:     clk,
		log:       log,
	}
}

func (s *slotService) CreateSlot(ctx context.Context, slot *model.Slot) error {
	if slot == nil {
		return apperrors.InvalidInput("Slot cannot be empty")
	}
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	// New slots always start open; reservations only come through Book.
	slot.State = model.SlotOpen
	slot.Claimant = ""
	slot.ReservedAt = nil
	slot.CreatedAt = s.clock.Now()

	if err := s.validator.Validate(slot); err != nil {
		s.log.Warn("Slot validation failed", "slot_id", slot.ID, "error", err)
		return apperrors.Validation("Slot validation failed", map[string]any{"error": err.Error()})
	}

	if err := s.store.Create(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrSlotExists) {
			return apperrors.Conflict("Slot with this ID already exists").
				WithDetails(map[string]any{"id": slot.ID})
		}
		s.log.Error("Failed to create slot", "slot_id", slot.ID, "error", err)
		return apperrors.Internal("Failed to create slot", err)
	}

	s.log.Info("Slot created successfully",
		"slot_id", slot.ID,
		"team_id", slot.TeamID,
		"start_time", slot.StartTime,
		"end_time", slot.EndTime,
	)
	return nil
}

func (s *slotService) Book(ctx context.Context, slotID, claimantID string) (*model.Slot, error) {
	if slotID == "" || claimantID == "" {
		return nil, apperrors.InvalidInput("Slot ID and claimant ID are required")
	}

	now := s.clock.Now()
	slot, err := s.store.Reserve(ctx, slotID, claimantID, now)
	if err != nil {
		return nil, s.mapError(err, slotID, claimantID, "Failed to book slot")
	}

	s.log.Info("Slot booked",
		"slot_id", slotID,
		"team_id", slot.TeamID,
		"claimant_id", claimantID,
	)
	s.publish(ctx, model.EventBooked, slotID, claimantID)
	return slot, nil
}

func (s *slotService) Cancel(ctx context.Context, slotID, claimantID string) error {
	if slotID == "" || claimantID == "" {
		return apperrors.InvalidInput("Slot ID and claimant ID are required")
	}

	slot, err := s.store.Release(ctx, slotID, claimantID)
	if err != nil {
		return s.mapError(err, slotID, claimantID, "Failed to cancel slot")
	}

	s.log.Info("Slot booking cancelled",
		"slot_id", slotID,
		"team_id", slot.TeamID,
		"claimant_id", claimantID,
	)
	s.publish(ctx, model.EventCancelled, slotID, claimantID)
	return nil
}

func (s *slotService) ListByTeam(ctx context.Context, teamID string) ([]*model.Slot, error) {
	if teamID == "" {
		return nil, apperrors.InvalidInput("Team ID cannot be empty")
	}
	slots, err := s.store.ListByTeam(ctx, teamID)
	if err != nil {
		s.log.Error("Failed to list slots", "team_id", teamID, "error", err)
		return nil, apperrors.Internal("Failed to list slots", err)
	}
	return slots, nil
}

func (s *slotService) mapError(err error, slotID, claimantID, msg string) error {
	details := map[string]any{"slot_id": slotID, "claimant_id": claimantID}
	switch {
	case errors.Is(err, repository.ErrSlotNotFound):
		return apperrors.ErrSlotNotFound.WithDetails(details)
	case errors.Is(err, repository.ErrSlotTaken):
		return apperrors.ErrSlotTaken.WithDetails(details)
	case errors.Is(err, repository.ErrAlreadyBooked):
		return apperrors.ErrAlreadyBooked.WithDetails(details)
	case errors.Is(err, repository.ErrNotOwner):
		return apperrors.ErrNotSlotOwner.WithDetails(details)
	}
	s.log.Error(msg, "slot_id", slotID, "claimant_id", claimantID, "error", err)
	return apperrors.Internal(msg, err)
}

func (s *slotService) publish(ctx context.Context, typ model.EventType, slotID, claimantID string) {
	ev := model.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		ResourceID: slotID,
		ClaimantID: claimantID,
		Timestamp:  s.clock.Now(),
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.Warn("Failed to publish slot event",
			"event_id", ev.ID,
			"type", ev.Type,
			"slot_id", slotID,
			"error", err,
		)
	}
}
