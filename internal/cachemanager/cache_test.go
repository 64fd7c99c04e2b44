package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type bundleKey string

type cachedBundle struct {
	Graph string
	Nodes int
}

func TestInMemoryCacheManager_GetSet(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[bundleKey, cachedBundle]("bundles", DefaultExpiration, DefaultCleanupInterval)

	_, ok := cache.Get(ctx, "G:abc")
	require.False(t, ok)

	cache.Set(ctx, "G:abc", cachedBundle{Graph: "G", Nodes: 2}, 0)
	got, ok := cache.Get(ctx, "G:abc")
	require.True(t, ok)
	require.Equal(t, cachedBundle{Graph: "G", Nodes: 2}, got)

	require.Equal(t, Stats{Hits: 1, Misses: 1, Items: 1}, cache.Stats())
}

func TestInMemoryCacheManager_WrongType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("test", 0, 0)
	cache.cache.Set("k", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "k")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, time.Hour)

	cache.Set(ctx, "short", 1, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "short")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryCacheManager_GetWithRefresh(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, time.Hour)

	_, ok := cache.GetWithRefresh(ctx, "absent", time.Minute)
	require.False(t, ok)

	cache.Set(ctx, "k", 7, 50*time.Millisecond)
	v, ok := cache.GetWithRefresh(ctx, "k", time.Hour)
	require.True(t, ok)
	require.Equal(t, 7, v)

	time.Sleep(80 * time.Millisecond)
	_, ok = cache.Get(ctx, "k")
	require.True(t, ok, "refresh extended the expiry")
}

func TestInMemoryCacheManager_DeleteFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("test", 0, 0)
	cache.Set(ctx, "a", 1, 0)
	cache.Set(ctx, "b", 2, 0)
	cache.Set(ctx, "c", 3, 0)

	cache.Delete(ctx)
	cache.Delete(ctx, "a", "missing")
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, 2, cache.Stats().Items)

	cache.Flush(ctx)
	require.Equal(t, 0, cache.Stats().Items)
}

// mockCache is a testify mock of CacheManager.
type mockCache[K ~string, V any] struct {
	mock.Mock
}

func (m *mockCache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	args := m.Called(ctx, key)
	v, _ := args.Get(0).(V)
	return v, args.Bool(1)
}

func (m *mockCache[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	args := m.Called(ctx, key, ttl)
	v, _ := args.Get(0).(V)
	return v, args.Bool(1)
}

func (m *mockCache[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	m.Called(ctx, key, value, ttl)
}

func (m *mockCache[K, V]) Delete(ctx context.Context, keys ...K) {
	m.Called(ctx, keys)
}

func (m *mockCache[K, V]) Flush(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockCache[K, V]) Stats() Stats {
	return m.Called().Get(0).(Stats)
}

func TestReadThroughCache_Disabled(t *testing.T) {
	cache := &mockCache[string, int]{}
	calls := 0
	rt := NewReadThroughCache[string, int, int](cache, func(_ context.Context, in int) (int, error) {
		calls++
		return in * 2, nil
	}, time.Minute, true)

	v, err := rt.Get(context.Background(), "k", 21)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, calls)
	cache.AssertNotCalled(t, "GetWithRefresh", mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_Hit(t *testing.T) {
	cache := &mockCache[string, int]{}
	cache.On("GetWithRefresh", mock.Anything, "k", time.Minute).Return(5, true)

	rt := NewReadThroughCache[string, int, int](cache, func(context.Context, int) (int, error) {
		t.Fatal("loader must not run on a hit")
		return 0, nil
	}, time.Minute, false)

	v, err := rt.Get(context.Background(), "k", 1)
	require.NoError(t, err)
	require.Equal(t, 5, v)
	cache.AssertExpectations(t)
}

func TestReadThroughCache_MissLoadsAndStores(t *testing.T) {
	cache := &mockCache[string, int]{}
	cache.On("GetWithRefresh", mock.Anything, "k", time.Minute).Return(0, false)
	cache.On("Set", mock.Anything, "k", 9, time.Minute).Return()

	rt := NewReadThroughCache[string, int, int](cache, func(_ context.Context, in int) (int, error) {
		return in, nil
	}, time.Minute, false)

	v, err := rt.Get(context.Background(), "k", 9)
	require.NoError(t, err)
	require.Equal(t, 9, v)
	cache.AssertExpectations(t)
}

func TestReadThroughCache_LoaderError(t *testing.T) {
	cache := &mockCache[string, int]{}
	cache.On("GetWithRefresh", mock.Anything, "k", time.Minute).Return(0, false)

	rt := NewReadThroughCache[string, int, int](cache, func(context.Context, int) (int, error) {
		return 0, errors.New("boom")
	}, time.Minute, false)

	_, err := rt.Get(context.Background(), "k", 1)
	require.EqualError(t, err, "boom")
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("test", 0, 0)
	loads := 0
	rt := NewReadThroughCache[string, int, int](cache, func(_ context.Context, in int) (int, error) {
		loads++
		return in, nil
	}, time.Minute, false)

	_, _ = rt.Get(ctx, "k", 1)
	_, _ = rt.Get(ctx, "k", 1)
	require.Equal(t, 1, loads)

	rt.Invalidate(ctx, "k")
	_, _ = rt.Get(ctx, "k", 1)
	require.Equal(t, 2, loads)
}
