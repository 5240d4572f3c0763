package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, zap.NewNop(), metrics.NewPipelineMetricsForTest(prometheus.NewRegistry())), mr
}

func TestRedisStoreStringsAndCounters(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, ok := store.Get(ctx, "missing")
	assert.False(t, ok)

	store.Set(ctx, "k", "v", time.Minute)
	v, ok := store.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, store.Exists(ctx, "k"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, store.Exists(ctx, "k"))

	assert.Equal(t, int64(3), store.Incr(ctx, "n", 3))
	assert.Equal(t, int64(4), store.Incr(ctx, "n", 1))
	assert.InDelta(t, 4.5, store.IncrFloat(ctx, "f", 4.5), 1e-9)

	store.Delete(ctx, "n", "f")
	assert.False(t, store.Exists(ctx, "n"))
}

func TestRedisStoreJSON(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.SetJSON(ctx, "ids", []string{"a", "b"}, 0)
	var ids []string
	require.True(t, store.GetJSON(ctx, "ids", &ids))
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, mr.Set("broken", "{not json"))
	assert.False(t, store.GetJSON(ctx, "broken", &ids))
}

func TestRedisStoreHashesAndLists(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})
	v, ok := store.HGet(ctx, "h", "a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, store.HGetAll(ctx, "h"))
	assert.Nil(t, store.HGetAll(ctx, "nope"))

	store.LPush(ctx, "l", "x", "y", "z")
	assert.Equal(t, int64(3), store.LLen(ctx, "l"))
	assert.Equal(t, []string{"z", "y", "x"}, store.LRange(ctx, "l", 0, -1))

	store.LRem(ctx, "l", 1, "y")
	assert.Equal(t, []string{"z", "x"}, store.LRange(ctx, "l", 0, -1))
}

func TestPipelineReportsPerOperation(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("str", "plain"))

	results := store.Pipeline().
		HSet("h", map[string]string{"id": "1"}).
		SetEx("marker", "exists", time.Hour).
		LPush("str", "wrong type").
		Incr("count", 1).
		IncrFloat("sum", 2.5).
		Exec(ctx)

	require.Len(t, results, 5)
	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "lpush", failed[0].Op)
	assert.Equal(t, "str", failed[0].Key)

	// no rollback: the other writes landed
	assert.True(t, store.Exists(ctx, "marker"))
	assert.Equal(t, "1", mr.HGet("h", "id"))
	got, _ := store.Get(ctx, "count")
	assert.Equal(t, "1", got)

	ttl := mr.TTL("marker")
	assert.Equal(t, time.Hour, ttl)
}

func TestSetNXClaimsOnce(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	set, ok := store.SetNX(ctx, "dup:m1:u1", "exists", time.Hour)
	assert.True(t, ok)
	assert.True(t, set)
	assert.Equal(t, time.Hour, mr.TTL("dup:m1:u1"))

	set, ok = store.SetNX(ctx, "dup:m1:u1", "exists", time.Hour)
	assert.True(t, ok)
	assert.False(t, set)

	mr.Close()
	set, ok = store.SetNX(ctx, "dup:m1:u2", "exists", time.Hour)
	assert.False(t, ok)
	assert.False(t, set)
}

func TestPipelineReportsRemovedCount(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	_, err := mr.Lpush("q", "a")
	require.NoError(t, err)

	results := store.Pipeline().
		LRem("q", 1, "a").
		LRem("q", 1, "a").
		Exec(ctx)

	require.Len(t, results, 2)
	assert.Empty(t, Failed(results))
	assert.Equal(t, int64(1), results[0].N)
	assert.Equal(t, int64(0), results[1].N)
}

func TestStoreFailsSoftWhenServerIsDown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	assert.NotPanics(t, func() {
		store.Set(ctx, "k", "v", 0)
		_, ok := store.Get(ctx, "k")
		assert.False(t, ok)
		assert.Equal(t, int64(0), store.Incr(ctx, "n", 1))
		assert.Nil(t, store.LRange(ctx, "l", 0, 10))
	})

	results := store.Pipeline().Incr("n", 1).LPush("l", "a").Exec(ctx)
	assert.Len(t, Failed(results), 2)
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *RedisStore
	ctx := context.Background()
	assert.False(t, store.Exists(ctx, "k"))
	assert.Equal(t, int64(0), store.LLen(ctx, "k"))
	assert.Len(t, Failed(store.Pipeline().Incr("a", 1).Exec(ctx)), 1)
}

func TestConcurrentIncrementsCommute(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	values := []float64{1, 2, 3, 4, 5, 5, 4, 3, 2, 1}
	var wg sync.WaitGroup
	for _, v := range values {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			store.Pipeline().IncrFloat("sum", v).Incr("count", 1).Exec(ctx)
		}(v)
	}
	wg.Wait()

	sum, _ := store.Get(ctx, "sum")
	count, _ := store.Get(ctx, "count")
	assert.InDelta(t, 30, ParseFloat(sum, true), 1e-9)
	assert.Equal(t, int64(len(values)), ParseInt(count, true))
}

func TestTTLCache(t *testing.T) {
	c := NewTTLCache[string, int](2)
	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("short", 2, time.Nanosecond)
	time.Sleep(time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}
