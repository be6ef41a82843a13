package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/service"
	"github.com/fjod/storefront-cart/internal/storage"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	m      sync.RWMutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.m.Lock()
	defer w.m.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.m.Lock()
	defer w.m.Unlock()
	w.closed = true
	return nil
}

func (w *mockWriter) messages() []kafka.Message {
	w.m.RLock()
	defer w.m.RUnlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestHandle_WritesMessage(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaPublisher(w, nil)

	e := domain.NewEvent(domain.EventItemAdded, "guest", "1", []domain.LineItem{{ID: "1", Quantity: 2}}, nil)
	p.Handle(e)

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "guest", string(msgs[0].Key))
	assert.Equal(t, "event_type", msgs[0].Headers[0].Key)
	assert.Equal(t, "item_added", string(msgs[0].Headers[0].Value))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	require.Len(t, decoded.Cart, 1)
	assert.Equal(t, 2, decoded.Cart[0].Quantity)
}

func TestHandle_WriteErrorIsSwallowed(t *testing.T) {
	w := &mockWriter{err: errors.New("broker unavailable")}
	p := NewKafkaPublisher(w, nil)

	assert.NotPanics(t, func() {
		p.Handle(domain.NewEvent(domain.EventCartCleared, "guest", "", nil, nil))
	})
	assert.Empty(t, w.messages())
}

func TestAttach_PublishesStoreChanges(t *testing.T) {
	store := service.NewCartStore(context.Background(), storage.NewMemoryKV())
	w := &mockWriter{}
	p := NewKafkaPublisher(w, nil)
	require.NoError(t, p.Attach(store))

	store.AddToCart(domain.Product{ID: "1", Name: "Mug", Price: decimal.NewFromInt(8), Stock: 4}, 1)
	store.RemoveFromCart("missing")
	store.ClearCart()
	store.Close()

	msgs := w.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "item_added", string(msgs[0].Headers[0].Value))
	assert.Equal(t, "cart_cleared", string(msgs[1].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
