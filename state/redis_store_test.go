package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/types"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)

	return mr, store
}

func TestNewRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.CodeOf(err))
}

func TestRedisStore_PutGet(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	v1, err := store.Put(ctx, "portfolio", map[string]any{"cash": 1000.0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := store.Put(ctx, "portfolio", map[string]any{"cash": 750.0})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	entry, err := store.Get(ctx, "portfolio")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Version)

	var got map[string]float64
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, 750.0, got["cash"])
}

func TestRedisStore_GetMissing(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()

	_, err := store.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.Equal(t, types.ErrKeyNotFound, types.CodeOf(err))
}

func TestRedisStore_PutAppendsHistory(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Put(ctx, "risk", map[string]any{"var": 0.2})
	require.NoError(t, err)
	_, err = store.Put(ctx, "risk", map[string]any{"var": 0.3})
	require.NoError(t, err)

	records, err := store.ReadLog(ctx, HistoryStream, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "risk", records[0].Fields["key"])
	assert.Equal(t, "1", records[0].Fields["version"])
	assert.Equal(t, "2", records[1].Fields["version"])
}

func TestRedisStore_ReadLogFromID(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := store.AppendLog(ctx, "calls", map[string]string{"n": string(rune('a' + i))})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	records, err := store.ReadLog(ctx, "calls", ids[0], 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "b", records[0].Fields["n"])
}

func TestRedisStore_SubscribeReceivesPublish(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	ch, cancel, err := store.Subscribe(ctx, "registry:health")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store.Publish(ctx, "registry:health", types.HealthTransition{
		ServiceID: "market-data",
		From:      types.ServiceOnline,
		To:        types.ServiceOffline,
	}))

	select {
	case msg := <-ch:
		var tr types.HealthTransition
		require.NoError(t, msg.Decode(&tr))
		assert.Equal(t, "market-data", tr.ServiceID)
		assert.Equal(t, types.ServiceOffline, tr.To)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

// Change notifications commit inside the put script, so they carry the
// assigned version and arrive in version order.
func TestRedisStore_PutPublishesOrderedChangeEvents(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	ch, cancel, err := store.Subscribe(ctx, ChangeTopic("book"))
	require.NoError(t, err)
	defer cancel()

	const writes = 3
	for i := 0; i < writes; i++ {
		_, err := store.Put(ctx, "book", map[string]int{"n": i})
		require.NoError(t, err)
	}

	for want := int64(1); want <= writes; want++ {
		select {
		case msg := <-ch:
			var ev types.ChangeEvent
			require.NoError(t, msg.Decode(&ev))
			assert.Equal(t, "book", ev.Key)
			assert.Equal(t, want, ev.Version)
		case <-time.After(2 * time.Second):
			t.Fatalf("no change event for version %d", want)
		}
	}
}

func TestRedisStore_StoreUnavailableAfterShutdown(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Put(ctx, "k", 1)
	require.NoError(t, err)

	mr.Close()

	_, err = store.Put(ctx, "k", 2)
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))

	_, err = store.Get(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.CodeOf(err))
}
