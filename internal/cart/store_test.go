package cart

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/metrics"
	"github.com/vladislavdragonenkov/cart/internal/service/persist"
	"github.com/vladislavdragonenkov/cart/internal/storage/memory"
	"github.com/vladislavdragonenkov/cart/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingKV считает записи и умеет отказывать в чтении/записи.
type countingKV struct {
	domain.KVStore

	mu      sync.Mutex
	sets    int
	setErr  error
	getErr  error
	getHook func()
}

func newCountingKV() *countingKV {
	return &countingKV{KVStore: memory.NewKVStore()}
}

func (c *countingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.getHook != nil {
		c.getHook()
	}
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.KVStore.Get(ctx, key)
}

func (c *countingKV) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.sets++
	err := c.setErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.KVStore.Set(ctx, key, value)
}

func (c *countingKV) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func startWriter(t *testing.T, kv domain.KVStore) *persist.Writer {
	t.Helper()

	w := persist.NewWriter(kv, StorageKey(""), persist.WithMaxAttempts(1), persist.WithRetryBaseDelay(0))
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Stopped()
	})
	return w
}

func newLoadedStore(t *testing.T, kv domain.KVStore, options ...Option) *Store {
	t.Helper()

	store := NewStore(kv, startWriter(t, kv), options...)
	require.NoError(t, store.Load(context.Background()))
	return store
}

func storedItems(t *testing.T, kv domain.KVStore) []domain.CartItem {
	t.Helper()

	data, found, err := kv.Get(context.Background(), StorageKey(""))
	require.NoError(t, err)
	require.True(t, found, "cart snapshot was not persisted")
	items, err := Decode(data)
	require.NoError(t, err)
	return items
}

var shirt = domain.Product{ID: "p1", Title: "Shirt", ImageURL: "u", Price: 29.9}

func TestStore_EndToEndScenario(t *testing.T) {
	kv := memory.NewKVStore()
	store := newLoadedStore(t, kv)
	ctx := context.Background()

	require.Empty(t, store.Items())

	require.NoError(t, store.Add(ctx, shirt))
	require.Equal(t, []domain.CartItem{{ID: "p1", Title: "Shirt", ImageURL: "u", Price: 29.9, Quantity: 1}}, store.Items())

	steps := []struct {
		name string
		op   func() error
		want int
	}{
		{name: "increment", op: func() error { return store.Increment(ctx, "p1") }, want: 2},
		{name: "decrement", op: func() error { return store.Decrement(ctx, "p1") }, want: 1},
		{name: "decrement at floor", op: func() error { return store.Decrement(ctx, "p1") }, want: 1},
	}
	for _, step := range steps {
		require.NoError(t, step.op(), step.name)
		items := store.Items()
		require.Len(t, items, 1, step.name)
		require.Equal(t, step.want, items[0].Quantity, step.name)
		require.Equal(t, items, storedItems(t, kv), step.name)
	}

	require.NoError(t, store.RemoveItem(ctx, "p1"))
	require.Empty(t, store.Items())
	require.Empty(t, storedItems(t, kv))
}

func TestStore_AddPrependsNewItem(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore())
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, domain.Product{ID: "a", Price: 1}))
	require.NoError(t, store.Add(ctx, domain.Product{ID: "b", Price: 2}))

	items := store.Items()
	require.Len(t, items, 2)
	require.Equal(t, "b", items[0].ID)
	require.Equal(t, 1, items[0].Quantity)
	require.Equal(t, "a", items[1].ID)
}

func TestStore_AddDuplicateIsNoop(t *testing.T) {
	kv := newCountingKV()
	store := newLoadedStore(t, kv)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, shirt))
	require.NoError(t, store.Increment(ctx, shirt.ID))
	before := store.Items()
	writes := kv.setCount()

	require.NoError(t, store.Add(ctx, domain.Product{ID: shirt.ID, Title: "Other", Price: 1}))

	require.Equal(t, before, store.Items())
	require.Equal(t, writes, kv.setCount(), "duplicate add must not persist")
}

func TestStore_AddRejectsInvalidProduct(t *testing.T) {
	kv := newCountingKV()
	store := newLoadedStore(t, kv)

	err := store.Add(context.Background(), domain.Product{ID: " ", Price: 1})
	require.ErrorIs(t, err, domain.ErrItemIDRequired)
	err = store.Add(context.Background(), domain.Product{ID: "p", Price: -1})
	require.ErrorIs(t, err, domain.ErrItemPriceInvalid)

	require.Empty(t, store.Items())
	require.Zero(t, kv.setCount())
}

func TestStore_IncrementKeepsOrderAndOtherItems(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Add(ctx, domain.Product{ID: id, Price: 1}))
	}
	before := store.Items()

	require.NoError(t, store.Increment(ctx, "b"))

	after := store.Items()
	require.Len(t, after, 3)
	for i := range before {
		require.Equal(t, before[i].ID, after[i].ID)
		if after[i].ID == "b" {
			require.Equal(t, before[i].Quantity+1, after[i].Quantity)
			continue
		}
		require.Equal(t, before[i], after[i])
	}
}

func TestStore_Decrement(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore())
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, shirt))
	require.NoError(t, store.Increment(ctx, shirt.ID))
	require.NoError(t, store.Increment(ctx, shirt.ID))
	require.Equal(t, 3, store.Items()[0].Quantity)

	require.NoError(t, store.Decrement(ctx, shirt.ID))
	require.Equal(t, 2, store.Items()[0].Quantity)
}

func TestStore_RemoveItem(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Add(ctx, domain.Product{ID: id, Price: 1}))
	}

	require.NoError(t, store.RemoveItem(ctx, "b"))
	items := store.Items()
	require.Len(t, items, 2)
	require.Equal(t, "c", items[0].ID)
	require.Equal(t, "a", items[1].ID)

	require.NoError(t, store.RemoveItem(ctx, "missing"))
	require.Equal(t, items, store.Items())
}

func TestStore_UnknownIDStillPersists(t *testing.T) {
	kv := newCountingKV()
	store := newLoadedStore(t, kv)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, shirt))
	before := store.Items()

	require.NoError(t, store.Increment(ctx, "missing"))
	require.NoError(t, store.Decrement(ctx, "missing"))
	require.NoError(t, store.RemoveItem(ctx, "missing"))

	require.Equal(t, before, store.Items())
	require.Equal(t, 4, kv.setCount())
	require.Equal(t, before, storedItems(t, kv))
}

func TestStore_RoundTripThroughBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) domain.KVStore{
		"memory": func(t *testing.T) domain.KVStore { return memory.NewKVStore() },
		"sqlite": func(t *testing.T) domain.KVStore {
			kv, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "cart.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = kv.Close() })
			return kv
		},
	}

	for name, newKV := range backends {
		t.Run(name, func(t *testing.T) {
			kv := newKV(t)
			store := newLoadedStore(t, kv)
			ctx := context.Background()

			require.NoError(t, store.Add(ctx, domain.Product{ID: "a", Title: "Caneca", ImageURL: "https://img/a.png", Price: 12.5}))
			require.NoError(t, store.Add(ctx, shirt))
			require.NoError(t, store.Increment(ctx, "a"))
			require.NoError(t, store.Increment(ctx, "a"))
			require.NoError(t, store.Decrement(ctx, "a"))

			require.Equal(t, store.Items(), storedItems(t, kv))

			reloaded := newLoadedStore(t, kv)
			require.Equal(t, store.Items(), reloaded.Items())
		})
	}
}

func TestStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	const workers = 50

	kv := memory.NewKVStore()
	store := newLoadedStore(t, kv)
	require.NoError(t, store.Add(context.Background(), shirt))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return store.Increment(ctx, shirt.ID)
		})
	}
	require.NoError(t, g.Wait())

	items := store.Items()
	require.Len(t, items, 1)
	require.Equal(t, workers+1, items[0].Quantity)
	require.Equal(t, items, storedItems(t, kv))
}

func TestStore_PersistenceFailureKeepsMemoryState(t *testing.T) {
	kv := newCountingKV()
	store := newLoadedStore(t, kv)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, shirt))

	kv.mu.Lock()
	kv.setErr = errors.New("disk full")
	kv.mu.Unlock()

	err := store.Increment(ctx, shirt.ID)
	require.Error(t, err)
	require.True(t, domain.IsPersistence(err))
	require.Equal(t, 2, store.Items()[0].Quantity)

	// Следующая успешная запись догоняет состояние в памяти.
	kv.mu.Lock()
	kv.setErr = nil
	kv.mu.Unlock()

	require.NoError(t, store.Increment(ctx, shirt.ID))
	require.Equal(t, store.Items(), storedItems(t, kv))
	require.Equal(t, 3, store.Items()[0].Quantity)
}

func TestStore_WriterStoppedIsPersistenceError(t *testing.T) {
	kv := memory.NewKVStore()
	w := persist.NewWriter(kv, StorageKey(""))
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	cancel()
	<-w.Stopped()

	store := NewStore(kv, w)
	require.NoError(t, store.Load(context.Background()))

	err := store.Add(context.Background(), shirt)
	require.True(t, domain.IsPersistence(err))
	require.ErrorIs(t, err, domain.ErrWriterStopped)
	require.Len(t, store.Items(), 1)
}

func TestStore_LoadRestoresSnapshot(t *testing.T) {
	kv := memory.NewKVStore()
	stored := []domain.CartItem{
		{ID: "b", Title: "B", Price: 2, Quantity: 3},
		{ID: "a", Title: "A", Price: 1, Quantity: 1},
	}
	data, err := Encode(stored)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), StorageKey(""), data))

	store := newLoadedStore(t, kv)
	require.Equal(t, stored, store.Items())
	require.Equal(t, domain.Summary{Count: 4, Total: 7}, store.Summary())
}

func TestStore_LoadMalformedFallsBackToEmpty(t *testing.T) {
	blobs := map[string]string{
		"not json":      `{"id":`,
		"wrong shape":   `{"id":"a"}`,
		"duplicate ids": `[{"id":"a","quantity":1},{"id":"a","quantity":2}]`,
		"zero quantity": `[{"id":"a","quantity":0}]`,
		"missing id":    `[{"title":"x","quantity":1}]`,
	}

	for name, blob := range blobs {
		t.Run(name, func(t *testing.T) {
			kv := memory.NewKVStore()
			require.NoError(t, kv.Set(context.Background(), StorageKey(""), []byte(blob)))

			store := NewStore(kv, startWriter(t, kv), WithMetrics(metrics.NewCartMetricsWithRegisterer(prometheus.NewRegistry())))
			require.NoError(t, store.Load(context.Background()))
			require.Empty(t, store.Items())

			// Повреждённый снимок перезаписывается первой мутацией.
			require.NoError(t, store.Add(context.Background(), shirt))
			require.Len(t, storedItems(t, kv), 1)
		})
	}
}

func TestStore_LoadReadFailure(t *testing.T) {
	kv := newCountingKV()
	kv.getErr = errors.New("connection refused")

	store := NewStore(kv, startWriter(t, kv))
	err := store.Load(context.Background())
	require.True(t, domain.IsPersistence(err))
	require.Empty(t, store.Items())

	select {
	case <-store.Ready():
	default:
		t.Fatal("store must be ready after a failed load")
	}

	// Повторный Load возвращает тот же результат без второго чтения.
	require.Equal(t, err, store.Load(context.Background()))
	require.NoError(t, store.Add(context.Background(), shirt))
}

func TestStore_MutationsWaitForLoad(t *testing.T) {
	kv := newCountingKV()
	release := make(chan struct{})
	kv.getHook = func() { <-release }

	store := NewStore(kv, startWriter(t, kv))
	loadDone := store.LoadAsync(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, store.Add(ctx, shirt), context.DeadlineExceeded)
	require.Empty(t, store.Items())

	close(release)
	require.NoError(t, <-loadDone)
	<-store.Ready()

	require.NoError(t, store.Add(context.Background(), shirt))
	require.Len(t, store.Items(), 1)
}

func TestStore_SnapshotsAreCopies(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore())
	require.NoError(t, store.Add(context.Background(), shirt))

	items := store.Items()
	items[0].Quantity = 100

	require.Equal(t, 1, store.Items()[0].Quantity)
}

func TestStore_SubscribeReceivesChangesInOrder(t *testing.T) {
	now := time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)
	store := newLoadedStore(t, memory.NewKVStore(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	changes, cancel := store.Subscribe(8)
	defer cancel()

	require.NoError(t, store.Add(ctx, shirt))
	require.NoError(t, store.Increment(ctx, shirt.ID))
	require.NoError(t, store.RemoveItem(ctx, shirt.ID))

	want := []struct {
		op  domain.ChangeOp
		len int
	}{
		{op: domain.ChangeOpAdd, len: 1},
		{op: domain.ChangeOpIncrement, len: 1},
		{op: domain.ChangeOpRemove, len: 0},
	}
	for _, w := range want {
		change := <-changes
		require.Equal(t, w.op, change.Op)
		require.Equal(t, shirt.ID, change.ItemID)
		require.Len(t, change.Items, w.len)
		require.Equal(t, now, change.At)
	}
}

func TestStore_SlowSubscriberKeepsLatestChange(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore(), WithMetrics(metrics.NewCartMetricsWithRegisterer(prometheus.NewRegistry())))
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, shirt))

	changes, cancel := store.Subscribe(1)
	defer cancel()

	require.NoError(t, store.Increment(ctx, shirt.ID))
	require.NoError(t, store.Increment(ctx, shirt.ID))

	change := <-changes
	require.Equal(t, domain.ChangeOpIncrement, change.Op)
	require.Equal(t, 3, change.Items[0].Quantity)
}

func TestStore_UnsubscribeClosesChannel(t *testing.T) {
	store := newLoadedStore(t, memory.NewKVStore())

	changes, cancel := store.Subscribe(0)
	cancel()
	cancel()

	_, ok := <-changes
	require.False(t, ok)
	require.NoError(t, store.Add(context.Background(), shirt))
}
