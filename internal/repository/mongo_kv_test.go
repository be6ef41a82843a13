package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupMongo(t *testing.T) (*MongoKV, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	kv := NewMongoKV(db)
	require.NoError(t, kv.CreateIndexes(ctx))

	cleanup := func() {
		kv.Close()
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return kv, cleanup
}

func TestMongoKV(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	kv, cleanup := setupMongo(t)
	defer cleanup()

	assertKVBehaviour(t, kv)
}
