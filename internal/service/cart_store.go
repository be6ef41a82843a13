package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/pricing"
	"github.com/fjod/storefront-cart/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const changedTopic = "cart:changed"

// CartStore owns the cart and saved-for-later collections of one session.
// Every mutation is visible to the caller on return; persistence is a
// best-effort side effect whose failure is logged and never rolls back memory.
type CartStore struct {
	// writeMu serialises mutations together with their event delivery and
	// is always taken before mu. Readers take only mu.
	writeMu sync.Mutex
	mu      sync.Mutex
	cart    []domain.LineItem
	saved   []domain.LineItem

	subMu     sync.RWMutex
	nextSubID uint64
	syncSubs  map[uint64]func(domain.Event)
	asyncSubs map[uint64]func(domain.Event)

	// Async events queue here and are drained in order by one dispatcher
	// goroutine, started with the first async subscriber.
	queueMu    sync.Mutex
	queue      []domain.Event
	wake       chan struct{}
	dispatchOn bool
	closed     bool
	drained    chan struct{}

	kv             storage.KV
	keys           storage.Keys
	sessionID      string
	policy         pricing.Policy
	clampStock     bool
	persistTimeout time.Duration
	log            *zap.Logger
	bus            EventBus.Bus
	now            func() time.Time
}

type Option func(*CartStore)

// WithSeed sets the collections used when storage holds nothing usable.
// Seed rows are filtered the same way as persisted ones.
func WithSeed(seed storage.Seed) Option {
	return func(s *CartStore) {
		s.cart = sanitize(seed.Cart)
		s.saved = sanitize(seed.Saved)
	}
}

// WithStockClamp silently caps cart quantities at the item's stock.
func WithStockClamp(enabled bool) Option {
	return func(s *CartStore) { s.clampStock = enabled }
}

func WithPolicy(p pricing.Policy) Option {
	return func(s *CartStore) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *CartStore) { s.log = l }
}

// WithSession namespaces the storage keys by session id.
func WithSession(id string) Option {
	return func(s *CartStore) { s.sessionID = id }
}

func WithPersistTimeout(d time.Duration) Option {
	return func(s *CartStore) { s.persistTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *CartStore) { s.now = now }
}

// NewCartStore builds a store and hydrates it from kv. Missing, malformed
// or empty entries leave the seed in place.
func NewCartStore(ctx context.Context, kv storage.KV, opts ...Option) *CartStore {
	s := &CartStore{
		kv:             kv,
		sessionID:      "guest",
		policy:         pricing.DefaultPolicy(),
		persistTimeout: 2 * time.Second,
		log:            zap.NewNop(),
		bus:            EventBus.New(),
		now:            time.Now,
		syncSubs:       make(map[uint64]func(domain.Event)),
		asyncSubs:      make(map[uint64]func(domain.Event)),
		wake:           make(chan struct{}, 1),
		drained:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// subscribers are fanned out by id; async ones only get the event queued
	_ = s.bus.Subscribe(changedTopic, s.deliverSync)
	_ = s.bus.Subscribe(changedTopic, s.enqueueAsync)
	s.keys = storage.SessionKeys(s.sessionID)
	s.log = s.log.Named("cart_store").With(zap.String("session_id", s.sessionID))

	if items, ok := s.load(ctx, s.keys.Cart); ok {
		s.cart = items
	}
	if items, ok := s.load(ctx, s.keys.Saved); ok {
		s.saved = items
	}
	s.log.Info("cart store ready", zap.Int("cart_items", len(s.cart)), zap.Int("saved_items", len(s.saved)))
	return s
}

func (s *CartStore) load(ctx context.Context, key string) ([]domain.LineItem, bool) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Debug("no persisted state", zap.String("key", key))
		return nil, false
	}
	if err != nil {
		s.log.Warn("failed to read persisted state", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	items, err := storage.DecodeItems(data)
	if err != nil {
		s.log.Warn("ignoring malformed persisted state", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	items = sanitize(items)
	if len(items) == 0 {
		return nil, false
	}
	return items, true
}

// sanitize drops rows without an id, with a non-positive quantity, or
// repeating an earlier id.
func sanitize(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	seen := make(map[domain.ItemID]bool, len(items))
	for _, it := range items {
		if it.ID == "" || it.Quantity < 1 || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

// AddToCart merges p into the cart. An existing line keeps its fields and
// gains quantity; a new line is stamped with the current time. A quantity
// below 1 counts as 1.
func (s *CartStore) AddToCart(p domain.Product, quantity int) []domain.LineItem {
	s.lockWrite()
	changed := s.addLocked(p, quantity)
	s.persistLocked(s.keys.Cart, s.cart)
	return s.commit(changed, domain.EventItemAdded, p.ID).Cart
}

func (s *CartStore) addLocked(p domain.Product, quantity int) bool {
	if quantity < 1 {
		quantity = 1
	}

	if i := domain.IndexOf(s.cart, p.ID); i >= 0 {
		q := s.clamp(s.cart[i].Quantity+quantity, s.cart[i].Stock)
		if q < 1 || q == s.cart[i].Quantity {
			return false
		}
		s.cart[i].Quantity = q
		return true
	}

	q := s.clamp(quantity, p.Stock)
	if q < 1 {
		return false
	}
	s.cart = append(s.cart, domain.LineItem{
		ID:            p.ID,
		Name:          p.Name,
		Variant:       p.Variant,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Quantity:      q,
		Stock:         p.Stock,
		Image:         p.Image,
		AddedAt:       s.now().UTC(),
	})
	return true
}

// UpdateQuantity sets an exact quantity; zero or below removes the line.
func (s *CartStore) UpdateQuantity(id domain.ItemID, quantity int) []domain.LineItem {
	if quantity <= 0 {
		return s.RemoveFromCart(id)
	}

	s.lockWrite()
	changed := false
	if i := domain.IndexOf(s.cart, id); i >= 0 {
		q := s.clamp(quantity, s.cart[i].Stock)
		if q >= 1 && q != s.cart[i].Quantity {
			s.cart[i].Quantity = q
			changed = true
		}
	}
	s.persistLocked(s.keys.Cart, s.cart)
	return s.commit(changed, domain.EventQuantityUpdated, id).Cart
}

func (s *CartStore) RemoveFromCart(id domain.ItemID) []domain.LineItem {
	s.lockWrite()
	var changed bool
	s.cart, changed = without(s.cart, id)
	s.persistLocked(s.keys.Cart, s.cart)
	return s.commit(changed, domain.EventItemRemoved, id).Cart
}

// SaveForLater moves a cart line into the saved list with quantity 1. If the
// id is already saved the saved entry is left as is; the cart line is
// removed either way.
func (s *CartStore) SaveForLater(id domain.ItemID) (cart, saved []domain.LineItem) {
	s.lockWrite()
	changed := false
	if i := domain.IndexOf(s.cart, id); i >= 0 {
		if domain.IndexOf(s.saved, id) < 0 {
			item := s.cart[i]
			item.Quantity = 1
			s.saved = append(s.saved, item)
		}
		s.cart, _ = without(s.cart, id)
		changed = true
	}
	s.persistLocked(s.keys.Cart, s.cart)
	s.persistLocked(s.keys.Saved, s.saved)
	snap := s.commit(changed, domain.EventSavedForLater, id)
	return snap.Cart, snap.Saved
}

// MoveToCart adds one unit of a saved item back to the cart and drops it
// from the saved list. Out-of-stock saved items stay where they are.
func (s *CartStore) MoveToCart(id domain.ItemID) (cart, saved []domain.LineItem) {
	s.lockWrite()
	changed := false
	if i := domain.IndexOf(s.saved, id); i >= 0 && s.saved[i].Stock > 0 {
		s.addLocked(domain.ProductOf(s.saved[i]), 1)
		s.saved, _ = without(s.saved, id)
		changed = true
	}
	s.persistLocked(s.keys.Cart, s.cart)
	s.persistLocked(s.keys.Saved, s.saved)
	snap := s.commit(changed, domain.EventMovedToCart, id)
	return snap.Cart, snap.Saved
}

func (s *CartStore) RemoveFromSaved(id domain.ItemID) []domain.LineItem {
	s.lockWrite()
	var changed bool
	s.saved, changed = without(s.saved, id)
	s.persistLocked(s.keys.Saved, s.saved)
	return s.commit(changed, domain.EventSavedRemoved, id).Saved
}

// ClearCart empties the cart. Saved items are untouched.
func (s *CartStore) ClearCart() []domain.LineItem {
	s.lockWrite()
	changed := len(s.cart) > 0
	s.cart = []domain.LineItem{}
	s.persistLocked(s.keys.Cart, s.cart)
	return s.commit(changed, domain.EventCartCleared, "").Cart
}

func (s *CartStore) CartItems() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.cart)
}

func (s *CartStore) SavedItems() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.saved)
}

// CartTotal is the subtotal, before tax and shipping.
func (s *CartStore) CartTotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.Subtotal(s.cart)
}

// CartItemCount sums quantities.
func (s *CartStore) CartItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.ItemCount(s.cart)
}

func (s *CartStore) CalculateTax(subtotal decimal.Decimal) decimal.Decimal {
	return s.policy.Tax(subtotal)
}

func (s *CartStore) CalculateShipping(subtotal decimal.Decimal) decimal.Decimal {
	return s.policy.Shipping(subtotal)
}

func (s *CartStore) Summary() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.Summarize(s.cart)
}

func (s *CartStore) SessionID() string { return s.sessionID }

// Subscribe registers fn to run synchronously after every change. fn may
// read the store but must not call its mutating methods. The returned func
// unsubscribes.
func (s *CartStore) Subscribe(fn func(domain.Event)) (func(), error) {
	return s.addSubscriber(s.syncSubs, fn)
}

// SubscribeAsync runs fn off the caller's goroutine. Events reach fn one at
// a time, in order.
func (s *CartStore) SubscribeAsync(fn func(domain.Event)) (func(), error) {
	unsubscribe, err := s.addSubscriber(s.asyncSubs, fn)
	if err != nil {
		return nil, err
	}
	s.queueMu.Lock()
	if !s.dispatchOn && !s.closed {
		s.dispatchOn = true
		go s.dispatch()
	}
	s.queueMu.Unlock()
	return unsubscribe, nil
}

func (s *CartStore) addSubscriber(subs map[uint64]func(domain.Event), fn func(domain.Event)) (func(), error) {
	if fn == nil {
		return nil, errors.New("subscribe: nil handler")
	}
	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(subs, id)
		s.subMu.Unlock()
	}, nil
}

func (s *CartStore) deliverSync(e domain.Event) { s.fanOut(s.syncSubs, e) }

// enqueueAsync never blocks on a subscriber.
func (s *CartStore) enqueueAsync(e domain.Event) {
	s.queueMu.Lock()
	if !s.dispatchOn || s.closed {
		s.queueMu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *CartStore) dispatch() {
	defer close(s.drained)
	for {
		s.queueMu.Lock()
		batch, closed := s.queue, s.closed
		s.queue = nil
		s.queueMu.Unlock()

		for _, e := range batch {
			s.fanOut(s.asyncSubs, e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

// fanOut calls subscribers in registration order.
func (s *CartStore) fanOut(subs map[uint64]func(domain.Event), e domain.Event) {
	s.subMu.RLock()
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	s.subMu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		s.subMu.RLock()
		fn, ok := subs[id]
		s.subMu.RUnlock()
		if ok {
			fn(e)
		}
	}
}

// Close delivers the queued async events and stops the dispatcher. Later
// changes reach sync subscribers only. Close may be called more than once.
func (s *CartStore) Close() {
	s.queueMu.Lock()
	started := s.dispatchOn
	s.closed = true
	s.queueMu.Unlock()

	if !started {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.drained
}

// Snapshot is both collections and the cart summary taken under one lock.
type Snapshot struct {
	Cart    []domain.LineItem
	Saved   []domain.LineItem
	Summary pricing.Summary
}

func (s *CartStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *CartStore) snapshotLocked() Snapshot {
	return Snapshot{
		Cart:    domain.CloneItems(s.cart),
		Saved:   domain.CloneItems(s.saved),
		Summary: s.policy.Summarize(s.cart),
	}
}

func (s *CartStore) lockWrite() {
	s.writeMu.Lock()
	s.mu.Lock()
}

// commit must be called after lockWrite; it releases both locks. The event
// is published after mu is dropped so subscribers may read the store, and
// before writeMu is dropped so events keep mutation order.
func (s *CartStore) commit(changed bool, t domain.EventType, id domain.ItemID) Snapshot {
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer s.writeMu.Unlock()

	if changed {
		s.log.Debug("cart changed", zap.String("event", string(t)), zap.String("item_id", string(id)))
		s.bus.Publish(changedTopic, domain.NewEvent(t, s.sessionID, id, snap.Cart, snap.Saved))
	}
	return snap
}

func (s *CartStore) persistLocked(key string, items []domain.LineItem) {
	data, err := storage.EncodeItems(items)
	if err != nil {
		s.log.Error("failed to encode collection", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, key, data); err != nil {
		s.log.Warn("failed to persist collection", zap.String("key", key), zap.Error(err))
	}
}

func (s *CartStore) clamp(quantity, stock int) int {
	if s.clampStock && quantity > stock {
		return stock
	}
	return quantity
}

func without(items []domain.LineItem, id domain.ItemID) ([]domain.LineItem, bool) {
	i := domain.IndexOf(items, id)
	if i < 0 {
		return items, false
	}
	out := make([]domain.LineItem, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...), true
}
