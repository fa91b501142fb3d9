package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/sqlrecorder/pkg/cache"
)

func newTestRedisStore(t *testing.T, opts Options) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := cache.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, opts), mr
}

func testTrace(id string, calls int) *Trace {
	t := &Trace{ID: id, Path: "/" + id, Method: "GET", Queries: calls, HTTP: &HTTPInfo{}}
	for i := 0; i < calls; i++ {
		t.Calls = append(t.Calls, Call{Query: "SELECT 1", Duration: 1})
	}
	return t
}

func TestRedisStoreIntercept(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, Options{})

	on, err := s.Intercepting(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, s.SetIntercept(ctx, true))
	assert.True(t, mr.Exists(InterceptKey))
	on, err = s.Intercepting(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.SetIntercept(ctx, false))
	assert.False(t, mr.Exists(InterceptKey))
	on, err = s.Intercepting(ctx)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestRedisStoreListIsNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, Options{ListLimit: 2})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveTrace(ctx, testTrace(id, 1)))
	}

	list, err := s.ListTraces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	raw, err := mr.List(ListKey)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.NotContains(t, raw[0], `"calls"`)

	// trimmed summaries keep their detail records
	got, err := s.GetTrace(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, got.Calls, 1)
}

func TestRedisStoreDetailExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, Options{DetailTTL: time.Hour})

	require.NoError(t, s.SaveTrace(ctx, testTrace("a", 2)))
	assert.Equal(t, time.Hour, mr.TTL(DetailKey("a")))

	got, err := s.GetTrace(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, got.Calls, 2)

	mr.FastForward(2 * time.Hour)
	_, err = s.GetTrace(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreGetUnknownTrace(t *testing.T) {
	s, _ := newTestRedisStore(t, Options{})

	_, err := s.GetTrace(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisStoreClearKeepsDetails(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, Options{})
	require.NoError(t, s.SaveTrace(ctx, testTrace("a", 1)))

	require.NoError(t, s.ClearTraces(ctx))

	list, err := s.ListTraces(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, mr.Exists(ListKey))
	assert.True(t, mr.Exists(DetailKey("a")))

	_, err = s.GetTrace(ctx, "a")
	assert.NoError(t, err)
}

func TestRedisStoreZeroCallTrace(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, Options{})
	require.NoError(t, s.SaveTrace(ctx, testTrace("a", 0)))

	raw, err := mr.Get(DetailKey("a"))
	require.NoError(t, err)
	assert.Contains(t, raw, `"calls":[]`)
}

func TestRedisStorePubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := newTestRedisStore(t, Options{})

	events, stop := s.Subscribe(ctx, DumpEvent)
	defer stop()

	// the subscription is confirmed asynchronously, so publish until it lands
	assert.Eventually(t, func() bool {
		if err := s.Publish(ctx, DumpEvent, []byte("hello")); err != nil {
			return false
		}
		select {
		case payload := <-events:
			return string(payload) == "hello"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, Options{})
	mr.Close()

	_, err := s.Intercepting(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)
}
