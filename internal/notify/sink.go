// Package notify delivers allocation events. Delivery is fire-and-forget from
// the engine's side: Publish errors are logged by the caller and never roll back
// an operation that already committed.
package notify

import (
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"context"
	"errors"
)

type Sink interface {
	Publish(ctx context.Context, event model.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event model.Event) error

func (f SinkFunc) Publish(ctx context.Context, event model.Event) error {
	return f(ctx, event)
}

type logSink struct {
	log *logger.Logger
}

// NewLogSink writes every event as a structured log record.
func NewLogSink(log *logger.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Publish(_ context.Context, event model.Event) error {
	args := []any{
		"event_id", event.ID,
		"type", event.Type,
		"resource_id", event.ResourceID,
		"claimant_id", event.ClaimantID,
		"timestamp", event.Timestamp,
	}
	if event.HoldExpiresAt != nil {
		args = append(args, "hold_expires_at", *event.HoldExpiresAt)
	}
	s.log.Info("Allocation event", args...)
	return nil
}

type multiSink []Sink

// Multi fans an event out to every sink. All sinks are attempted; their errors
// are joined.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Publish(ctx context.Context, event model.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
var Nop Sink = SinkFunc(func(context.Context, model.Event) error { return nil })
