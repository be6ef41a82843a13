package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Layered reads through a cache in front of a durable store. Cache errors
// are logged and never returned; the durable store is the source of truth.
type Layered struct {
	durable KV
	cache   KV
	log     *zap.Logger
	sfg     singleflight.Group // collapses concurrent misses for the same key

	// fillMu orders cache fills against invalidations. A fill is dropped
	// if any write landed after its durable read started.
	fillMu sync.Mutex
	writes uint64
}

func NewLayered(durable, cache KV, log *zap.Logger) *Layered {
	if log == nil {
		log = zap.NewNop()
	}
	return &Layered{
		durable: durable,
		cache:   cache,
		log:     log.Named("layered"),
	}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	v, err, _ := l.sfg.Do(key, func() (interface{}, error) {
		data, err := l.cache.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			l.log.Warn("cache get error", zap.String("key", key), zap.Error(err))
		}

		l.fillMu.Lock()
		version := l.writes
		l.fillMu.Unlock()

		data, err = l.durable.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		go l.fill(key, data, version)

		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set writes to the durable store, then drops the cached copy.
func (l *Layered) Set(ctx context.Context, key string, value []byte) error {
	if err := l.durable.Set(ctx, key, value); err != nil {
		return fmt.Errorf("durable set: %w", err)
	}
	l.invalidate(key)
	return nil
}

func (l *Layered) Delete(ctx context.Context, key string) error {
	if err := l.durable.Delete(ctx, key); err != nil {
		return fmt.Errorf("durable delete: %w", err)
	}
	l.invalidate(key)
	return nil
}

func (l *Layered) Close() error {
	return errors.Join(l.durable.Close(), l.cache.Close())
}

func (l *Layered) fill(key string, data []byte, version uint64) {
	l.fillMu.Lock()
	defer l.fillMu.Unlock()
	if l.writes != version {
		l.log.Debug("skipping stale cache fill", zap.String("key", key))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.cache.Set(ctx, key, data); err != nil {
		l.log.Warn("cache set error", zap.String("key", key), zap.Error(err))
	}
}

func (l *Layered) invalidate(key string) {
	l.fillMu.Lock()
	defer l.fillMu.Unlock()
	l.writes++

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.cache.Delete(ctx, key); err != nil {
		l.log.Warn("cache invalidate error", zap.String("key", key), zap.Error(err))
	}
}
