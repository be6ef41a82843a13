package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterFailures(t *testing.T) {
	inner := newCountingKV()
	inner.setErr(errors.New("connection refused"))
	b := NewBreaker(inner, BreakerSettings{Name: "test", MaxFailures: 3, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, b.Set(ctx, "k", []byte("v")))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	_, sets, _ := inner.counts()
	assert.Equal(t, 3, sets, "open breaker does not reach the store")
}

func TestBreaker_NotFoundIsNotFailure(t *testing.T) {
	inner := newCountingKV()
	b := NewBreaker(inner, BreakerSettings{Name: "test", MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		_, err := b.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	inner := newCountingKV()
	inner.setErr(errors.New("timeout"))
	b := NewBreaker(inner, BreakerSettings{Name: "test", MaxFailures: 1, OpenTimeout: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	assert.Error(t, b.Set(ctx, "k", []byte("v")))
	require.Equal(t, gobreaker.StateOpen, b.State())

	inner.setErr(nil)
	require.Eventually(t, func() bool {
		return b.Set(ctx, "k", []byte("v")) == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, b.State())

	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}
