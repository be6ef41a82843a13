// Package storage defines the durable key-value contract the cart store
// persists through, plus the in-process backends and wrappers around it.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("key not found")

// KV is a durable key-value store. Consumers hold this interface; each
// backend (memory, bbolt, redis, mongo, sql) implements it.
type KV interface {
	// Get returns ErrNotFound when the key has never been written or was deleted.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Keys names the two entries a cart session persists.
type Keys struct {
	Cart  string
	Saved string
}

func SessionKeys(sessionID string) Keys {
	return Keys{
		Cart:  fmt.Sprintf("storefront:%s:cart", sessionID),
		Saved: fmt.Sprintf("storefront:%s:saved", sessionID),
	}
}
