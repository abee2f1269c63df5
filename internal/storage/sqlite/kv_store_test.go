package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

func openTestStore(t *testing.T) (*KVStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "cart.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestKVStore_SetGet(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "@GoMarketplace:products")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "@GoMarketplace:products", []byte(`[{"id":"p1"}]`)))
	require.NoError(t, store.Set(ctx, "@GoMarketplace:products", []byte(`[]`)))

	value, found, err := store.Get(ctx, "@GoMarketplace:products")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `[]`, string(value))
	require.NoError(t, store.Ping(ctx))
}

func TestKVStore_SurvivesReopen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("persisted")))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "persisted", string(value))
	require.Equal(t, path, reopened.Path())
}

func TestKVStore_EmptyKeyAndPath(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.True(t, errors.Is(store.Set(ctx, "", nil), domain.ErrKeyRequired))
	_, _, err := store.Get(ctx, "")
	require.True(t, errors.Is(err, domain.ErrKeyRequired))

	_, err = Open(ctx, "")
	require.Error(t, err)
}

func TestKVStore_NilGuards(t *testing.T) {
	ctx := context.Background()

	for name, store := range map[string]*KVStore{"nil": nil, "zero": {}} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, store.Ping(ctx), ErrNotInitialized)
			require.ErrorIs(t, store.Set(ctx, "k", []byte("v")), ErrNotInitialized)
			_, found, err := store.Get(ctx, "k")
			require.ErrorIs(t, err, ErrNotInitialized)
			require.False(t, found)
			require.NoError(t, store.Close())
		})
	}
}
