// Package publisher forwards cart store changes to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// subscriber is the part of the cart store the publisher needs.
type subscriber interface {
	SubscribeAsync(fn func(domain.Event)) (func(), error)
}

type KafkaPublisher struct {
	writer       messageWriter
	log          *zap.Logger
	writeTimeout time.Duration
	unsubscribe  func()
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(w messageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:       w,
		log:          log.Named("publisher"),
		writeTimeout: 5 * time.Second,
	}
}

// Attach subscribes the publisher to store changes.
func (p *KafkaPublisher) Attach(s subscriber) error {
	unsubscribe, err := s.SubscribeAsync(p.Handle)
	if err != nil {
		return fmt.Errorf("attach publisher: %w", err)
	}
	p.unsubscribe = unsubscribe
	return nil
}

// Handle writes one message per event, keyed by session so a session's
// events stay on one partition. Failures are logged.
func (p *KafkaPublisher) Handle(e domain.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID.String())},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("failed to publish cart event",
			zap.String("event_type", string(e.Type)),
			zap.String("event_id", e.ID.String()),
			zap.Error(err))
		return
	}
	p.log.Debug("published cart event", zap.String("event_type", string(e.Type)))
}

func (p *KafkaPublisher) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	return p.writer.Close()
}
