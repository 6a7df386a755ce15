package notify

import (
	"allotment/pkg/kafka"
	"allotment/pkg/logger"
	"context"
)

// Relay consumes allocation events published by any allocator instance and
// hands them to the local presence registry. Every instance runs one relay with
// its own consumer group so each instance sees every event.
type Relay struct {
	registry *Registry
	log      *logger.Logger
}

func NewRelay(registry *Registry, log *logger.Logger) *Relay {
	return &Relay{registry: registry, log: log}
}

// Handle is a kafka.MessageHandler.
func (r *Relay) Handle(_ context.Context, msg kafka.Message) error {
	event, err := DecodeEvent(msg)
	if err != nil {
		return err
	}

	delivered, err := r.registry.Deliver(event)
	if err != nil {
		// A broken session is the HTTP layer's problem; redelivery would not help.
		r.log.Warn("Failed to deliver event to session",
			"event_id", event.ID,
			"claimant_id", event.ClaimantID,
			"error", err,
		)
	}
	r.log.Debug("Relayed allocation event",
		"event_id", event.ID,
		"type", event.Type,
		"claimant_id", event.ClaimantID,
		"delivered", delivered,
	)
	return nil
}
