package notify

import (
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQSink publishes events to a durable queue through the default
// exchange. The connection is dialled once and reopened lazily after a failure.
type RabbitMQSink struct {
	url   string
	queue string
	log   *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   amqpChannel
	dial func() (amqpChannel, error)
}

func NewRabbitMQSink(url, queue string, log *logger.Logger) *RabbitMQSink {
	s := &RabbitMQSink{url: url, queue: queue, log: log}
	s.dial = s.connect
	return s
}

func (s *RabbitMQSink) connect() (amqpChannel, error) {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}

	s.conn = conn
	return ch, nil
}

func (s *RabbitMQSink) channel() (amqpChannel, error) {
	if s.ch != nil {
		return s.ch, nil
	}
	ch, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.ch = ch
	return ch, nil
}

func (s *RabbitMQSink) Publish(ctx context.Context, event model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.Timestamp,
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", s.queue, false, false, pub); err != nil {
		s.resetLocked()
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

func (s *RabbitMQSink) resetLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.log.Info("Closed RabbitMQ notification sink")
	return nil
}
