package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *OnHandCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOnHandCache(client, time.Minute)
}

func TestOnHandCacheFetchPopulates(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (int64, error) {
		calls++
		return 42, nil
	}

	qty, err := cache.Fetch(ctx, 7, 0, 1, loader)
	require.NoError(t, err)
	require.EqualValues(t, 42, qty)
	require.Equal(t, 1, calls)

	// second read served from cache
	qty, err = cache.Fetch(ctx, 7, 0, 1, loader)
	require.NoError(t, err)
	require.EqualValues(t, 42, qty)
	require.Equal(t, 1, calls)
}

func TestOnHandCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	value := int64(10)
	loader := func(context.Context) (int64, error) { return value, nil }

	qty, err := cache.Fetch(ctx, 7, 0, 1, loader)
	require.NoError(t, err)
	require.EqualValues(t, 10, qty)

	value = 25
	cache.Invalidate(ctx, 7, 0, 1)

	qty, err = cache.Fetch(ctx, 7, 0, 1, loader)
	require.NoError(t, err)
	require.EqualValues(t, 25, qty)
}

func TestOnHandCacheLoaderError(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := cache.Fetch(ctx, 7, 0, 1, func(context.Context) (int64, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
}

func TestOnHandCacheNilClientFallsThrough(t *testing.T) {
	var cache *OnHandCache
	qty, err := cache.Fetch(context.Background(), 7, 0, 1, func(context.Context) (int64, error) { return 5, nil })
	require.NoError(t, err)
	require.EqualValues(t, 5, qty)
}
