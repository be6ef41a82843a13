package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/service"
	"github.com/fjod/storefront-cart/internal/storage"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	m      sync.Mutex
	queue  []kafka.Message
	errs   []error
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.m.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.m.Unlock()
		return kafka.Message{}, err
	}
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.m.Unlock()
		return msg, nil
	}
	f.m.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error {
	f.m.Lock()
	defer f.m.Unlock()
	f.closed = true
	return nil
}

func message(t *testing.T, payload map[string]interface{}) kafka.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func newStore(t *testing.T, session string) *service.CartStore {
	t.Helper()
	s := service.NewCartStore(context.Background(), storage.NewMemoryKV(), service.WithSession(session))
	s.AddToCart(domain.Product{ID: "1", Name: "Mug", Price: decimal.NewFromInt(5), Stock: 3}, 2)
	t.Cleanup(s.Close)
	return s
}

func TestHandle_ClearsMatchingSession(t *testing.T) {
	s := newStore(t, "123")
	p := NewPoller(s, &fakeReader{}, nil)

	p.handle(message(t, map[string]interface{}{"checkout_id": "ch-1", "user_id": "123"}))

	assert.Empty(t, s.CartItems())
}

func TestHandle_SessionIDField(t *testing.T) {
	s := newStore(t, "abc")
	p := NewPoller(s, &fakeReader{}, nil)

	p.handle(message(t, map[string]interface{}{"session_id": "abc"}))

	assert.Empty(t, s.CartItems())
}

func TestHandle_IgnoresOtherSessions(t *testing.T) {
	s := newStore(t, "123")
	p := NewPoller(s, &fakeReader{}, nil)

	p.handle(message(t, map[string]interface{}{"user_id": "999"}))
	p.handle(message(t, map[string]interface{}{"user_id": 123}))
	p.handle(kafka.Message{Value: []byte("not json")})

	assert.Len(t, s.CartItems(), 1)
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	s := newStore(t, "123")
	reader := &fakeReader{
		errs:  []error{errors.New("coordinator not available")},
		queue: []kafka.Message{message(t, map[string]interface{}{"user_id": "123"})},
	}
	p := NewPoller(s, reader, nil)
	p.retryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(s.CartItems()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}

	p.Close()
	assert.True(t, reader.closed)
}
