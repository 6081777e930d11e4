package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/quantfleet/quantfleet/types"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	defer s.Close()
	ctx := context.Background()

	v1, err := s.Put(ctx, "portfolio", map[string]any{"cash": 1000.0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := s.Put(ctx, "portfolio", map[string]any{"cash": 900.0})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	entry, err := s.Get(ctx, "portfolio")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Version)

	var got map[string]float64
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, 900.0, got["cash"])
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	_, err := s.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrKeyNotFound, types.CodeOf(err))
}

func TestMemoryStore_VersionsIndependentPerKey(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, "a", i)
		require.NoError(t, err)
	}
	v, err := s.Put(ctx, "b", "first")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

// Version monotonicity under concurrent writers: every writer observes a
// unique version and the final version equals the number of writes.
func TestMemoryStore_ConcurrentPutMonotonic(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	const writers = 16
	const perWriter = 50

	versions := make(chan int64, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				v, err := s.Put(ctx, "shared", fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, err)
				versions <- v
			}
		}(w)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	var max int64
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
		if v > max {
			max = v
		}
	}
	assert.Equal(t, int64(writers*perWriter), max)

	entry, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, max, entry.Version)
}

func TestMemoryStore_VersionMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewMemoryStore(nil)
		defer s.Close()
		ctx := context.Background()

		keys := rapid.SliceOfN(rapid.SampledFrom([]string{"portfolio", "risk", "signals"}), 1, 40).Draw(rt, "keys")
		last := make(map[string]int64)
		for i, k := range keys {
			v, err := s.Put(ctx, k, i)
			if err != nil {
				rt.Fatalf("put: %v", err)
			}
			if v != last[k]+1 {
				rt.Fatalf("key %q: version %d after %d, want %d", k, v, last[k], last[k]+1)
			}
			last[k] = v
		}
		for k, want := range last {
			entry, err := s.Get(ctx, k)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			if entry.Version != want {
				rt.Fatalf("key %q: observed version %d, want %d", k, entry.Version, want)
			}
		}
	})
}

func TestMemoryStore_PutPublishesChangeAndAudit(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, ChangeTopic("risk"))
	require.NoError(t, err)
	defer cancel()

	_, err = s.Put(ctx, "risk", map[string]any{"var": 0.12})
	require.NoError(t, err)

	select {
	case msg := <-ch:
		var ev types.ChangeEvent
		require.NoError(t, msg.Decode(&ev))
		assert.Equal(t, "risk", ev.Key)
		assert.Equal(t, int64(1), ev.Version)
	case <-time.After(time.Second):
		t.Fatal("no change event received")
	}

	records, err := s.ReadLog(ctx, HistoryStream, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "risk", records[0].Fields["key"])
	assert.Equal(t, "1", records[0].Fields["version"])
}

// Subscribers must see same-key change events in version order even when the
// writes race each other.
func TestMemoryStore_ConcurrentPutChangeEventsOrdered(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, ChangeTopic("book"))
	require.NoError(t, err)

	var ordered []int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			var ev types.ChangeEvent
			if err := msg.Decode(&ev); err != nil {
				t.Errorf("decode change event: %v", err)
				return
			}
			ordered = append(ordered, ev.Version)
		}
	}()

	const writers = 8
	const rounds = 20
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				_, err := s.Put(ctx, "book", map[string]int{"writer": w})
				assert.NoError(t, err)
			}(w)
		}
		wg.Wait()
	}

	cancel()
	<-done

	require.NotEmpty(t, ordered)
	for i := 1; i < len(ordered); i++ {
		require.Greater(t, ordered[i], ordered[i-1],
			"version %d delivered after %d", ordered[i], ordered[i-1])
	}
}

func TestMemoryStore_ReadLogFromID(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.AppendLog(ctx, "calls", map[string]string{"n": fmt.Sprint(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	records, err := s.ReadLog(ctx, "calls", ids[1], 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "2", records[0].Fields["n"])

	records, err = s.ReadLog(ctx, "calls", "", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0", records[0].Fields["n"])
}

func TestMemoryStore_SubscribeCancelIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	_, cancel, err := s.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	cancel()
	cancel()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
