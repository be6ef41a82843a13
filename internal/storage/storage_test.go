package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKeys_Distinct(t *testing.T) {
	k := SessionKeys("guest")
	assert.Equal(t, "storefront:guest:cart", k.Cart)
	assert.Equal(t, "storefront:guest:saved", k.Saved)
	assert.NotEqual(t, k.Cart, k.Saved)
}

func TestCodec_RoundTrip(t *testing.T) {
	orig := decimal.RequireFromString("59.99")
	items := []domain.LineItem{
		{
			ID:            "1",
			Name:          "Headphones",
			Variant:       "Black",
			Price:         decimal.RequireFromString("49.99"),
			OriginalPrice: &orig,
			Quantity:      2,
			Stock:         10,
			Image:         "/img/1.png",
			AddedAt:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{ID: "sku-2", Name: "Cable", Price: decimal.RequireFromString("5"), Quantity: 1, Stock: 3},
	}

	data, err := EncodeItems(items)
	require.NoError(t, err)

	decoded, err := DecodeItems(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	for i := range items {
		assert.Equal(t, items[i].ID, decoded[i].ID)
		assert.Equal(t, items[i].Quantity, decoded[i].Quantity)
		assert.True(t, items[i].Price.Equal(decoded[i].Price))
		assert.True(t, items[i].AddedAt.Equal(decoded[i].AddedAt))
	}
	require.NotNil(t, decoded[0].OriginalPrice)
	assert.True(t, decoded[0].OriginalPrice.Equal(orig))

	again, err := EncodeItems(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestCodec_EncodeNil(t *testing.T) {
	data, err := EncodeItems(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestCodec_DecodeGarbage(t *testing.T) {
	_, err := DecodeItems([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeItems([]byte(`{"id":"1"}`))
	assert.Error(t, err)
}

func TestDecodeSeed(t *testing.T) {
	s, err := DecodeSeed([]byte(`{"cart":[{"id":1,"name":"A","price":"3","quantity":1,"stock":2}],"saved":[]}`))
	require.NoError(t, err)
	require.Len(t, s.Cart, 1)
	assert.Equal(t, domain.ItemID("1"), s.Cart[0].ID)
	assert.Empty(t, s.Saved)
}

// kvContract runs the same behaviour checks against every in-process backend.
func kvContract(t *testing.T, kv KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
	v, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, kv.Delete(ctx, "k"))
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()
	kvContract(t, kv)
}

func TestMemoryKV_CopiesValues(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", buf))
	buf[0] = 'z'

	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestBoltKV(t *testing.T) {
	kv, err := OpenBolt(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	defer kv.Close()
	kvContract(t, kv)
}

func TestBoltKV_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cart.db")
	ctx := context.Background()

	kv, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "k", []byte("persisted")))
	require.NoError(t, kv.Close())

	kv, err = OpenBolt(path)
	require.NoError(t, err)
	defer kv.Close()
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(v))
}

func TestBoltKV_CancelledContext(t *testing.T) {
	kv, err := OpenBolt(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	defer kv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = kv.Set(ctx, "k", []byte("v"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadSeedFile_Example(t *testing.T) {
	s, err := LoadSeedFile(filepath.Join("..", "..", "configs", "seed.json"))
	require.NoError(t, err)

	require.Len(t, s.Cart, 2)
	assert.Equal(t, domain.ItemID("1"), s.Cart[0].ID)
	require.NotNil(t, s.Cart[0].OriginalPrice)
	require.Len(t, s.Saved, 1)
	assert.Equal(t, 0, s.Saved[0].Stock)
}

func TestLoadSeedFile_Missing(t *testing.T) {
	_, err := LoadSeedFile(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}
