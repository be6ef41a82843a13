package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/storefront-cart/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLite(t *testing.T) *SQLKV {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	kv, err := NewSQLKV(db, DialectSQLite)
	require.NoError(t, err)
	require.NoError(t, kv.RunMigrations())

	t.Cleanup(func() { kv.Close() })
	return kv
}

func setupPostgres(t *testing.T) (*SQLKV, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := OpenPostgres(dsn)
	require.NoError(t, err)

	kv, err := NewSQLKV(db, DialectPostgres)
	require.NoError(t, err)
	require.NoError(t, kv.RunMigrations())

	cleanup := func() {
		kv.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return kv, cleanup
}

func assertKVBehaviour(t *testing.T, kv storage.KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, "storefront:guest:cart")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, kv.Set(ctx, "storefront:guest:cart", []byte(`[{"id":"1","quantity":2}]`)))
	v, err := kv.Get(ctx, "storefront:guest:cart")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","quantity":2}]`, string(v))

	require.NoError(t, kv.Set(ctx, "storefront:guest:cart", []byte(`[]`)))
	v, err = kv.Get(ctx, "storefront:guest:cart")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(v))

	require.NoError(t, kv.Set(ctx, "storefront:guest:saved", []byte(`[{"id":"9"}]`)))
	require.NoError(t, kv.Delete(ctx, "storefront:guest:cart"))
	_, err = kv.Get(ctx, "storefront:guest:cart")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	v, err = kv.Get(ctx, "storefront:guest:saved")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"9"}]`, string(v))
}

func TestSQLKV_SQLite(t *testing.T) {
	assertKVBehaviour(t, setupSQLite(t))
}

func TestSQLKV_SQLiteMigrationsIdempotent(t *testing.T) {
	kv := setupSQLite(t)
	assert.NoError(t, kv.RunMigrations())
}

func TestNewSQLKV_UnknownDialect(t *testing.T) {
	_, err := NewSQLKV(nil, Dialect("oracle"))
	assert.Error(t, err)
}

func TestSQLKV_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	kv, cleanup := setupPostgres(t)
	defer cleanup()

	assertKVBehaviour(t, kv)
}
