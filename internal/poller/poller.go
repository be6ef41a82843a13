package poller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type cartClearer interface {
	ClearCart() []domain.LineItem
	SessionID() string
}

// Poller clears the session's cart once its checkout completes.
type Poller struct {
	store  cartClearer
	reader messageReader
	log    *zap.Logger
	// retryDelay is the pause after a failed read.
	retryDelay time.Duration
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewPoller(store cartClearer, reader messageReader, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		store:      store,
		reader:     reader,
		log:        log.Named("poller"),
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("error reading message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

// poll returns an error only when reading fails; bad messages are skipped.
func (p *Poller) poll(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		return err
	}
	p.handle(m)
	return nil
}

func (p *Poller) handle(m kafka.Message) {
	var payload map[string]interface{}
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		p.log.Warn("error parsing message", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	sessionID, err := sessionOf(payload)
	if err != nil {
		p.log.Warn("skipping message", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	if sessionID != p.store.SessionID() {
		p.log.Debug("checkout for another session", zap.String("session_id", sessionID))
		return
	}

	p.store.ClearCart()
	p.log.Info("cart cleared after checkout",
		zap.String("session_id", sessionID),
		zap.Any("checkout_id", payload["checkout_id"]))
}

var errNoSession = errors.New("missing or invalid user_id")

func sessionOf(payload map[string]interface{}) (string, error) {
	for _, key := range []string{"user_id", "session_id"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", errNoSession
}
