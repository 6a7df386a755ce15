package notify

import (
	"allotment/pkg/kafka"
	"allotment/pkg/model"
	"context"
	"fmt"
)

const (
	SchemaVersion = "1"
	sourceName    = "allocator"
)

type messagePublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type kafkaSink struct {
	producer messagePublisher
}

// NewKafkaSink publishes events keyed by resource ID, so every event of one
// resource lands on the same partition in commit order.
func NewKafkaSink(producer messagePublisher) Sink {
	return &kafkaSink{producer: producer}
}

func (s *kafkaSink) Publish(ctx context.Context, event model.Event) error {
	msg := kafka.NewMessage().
		WithKey(event.ResourceID).
		WithEventID(event.ID).
		WithEventType(string(event.Type)).
		WithSchemaVersion(SchemaVersion).
		WithSource(sourceName).
		WithTimestamp(event.Timestamp).
		WithValue(event).
		Build()

	if err := s.producer.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// DecodeEvent turns a consumed message back into an event.
func DecodeEvent(msg kafka.Message) (model.Event, error) {
	var event model.Event
	if err := msg.DecodeValue(&event); err != nil {
		return model.Event{}, kafka.NewPermanentError("failed to decode allocation event", err)
	}
	if event.Type == "" || event.ClaimantID == "" {
		return model.Event{}, kafka.NewPermanentError("invalid message: allocation event without type or claimant", nil)
	}
	return event, nil
}
