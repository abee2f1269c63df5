package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

func TestKVStore_PostgresSetGetOverwrite(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	kv := NewKVStore(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, found, err := kv.Get(ctx, "@GoMarketplace:products")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, kv.Set(ctx, "@GoMarketplace:products", []byte(`[{"id":"p1"}]`)))
	require.NoError(t, kv.Set(ctx, "@GoMarketplace:products", []byte(`[]`)))

	value, found, err := kv.Get(ctx, "@GoMarketplace:products")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `[]`, string(value))

	count, err := WriteCount(ctx, store, "@GoMarketplace:products")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.NoError(t, kv.Ping(ctx))
}

func TestKVStore_PostgresEmptyKey(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	kv := NewKVStore(store)

	err := kv.Set(context.Background(), "", []byte("v"))
	require.True(t, errors.Is(err, domain.ErrKeyRequired))
}

func TestWriteCount_MissingKey(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	count, err := WriteCount(context.Background(), store, "missing")
	require.NoError(t, err)
	require.Zero(t, count)
}
