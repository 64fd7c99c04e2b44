package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache fills a CacheManager from a loader on miss. Loader
// errors are returned and nothing is cached.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache    CacheManager[K, V]
	load     func(ctx context.Context, input I) (V, error)
	ttl      time.Duration
	disabled bool
}

// NewReadThroughCache wraps cache with load. When disabled, every Get calls
// load directly.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	ttl time.Duration,
	disabled bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:    cache,
		load:     load,
		ttl:      ttl,
		disabled: disabled,
	}
}

// Get returns the cached value for key or loads it from input.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I) (V, error) {
	if r.disabled {
		return r.load(ctx, input)
	}

	if value, ok := r.cache.GetWithRefresh(ctx, key, r.ttl); ok {
		return value, nil
	}

	value, err := r.load(ctx, input)
	if err != nil {
		return value, err
	}

	r.cache.Set(ctx, key, value, r.ttl)
	return value, nil
}

// Invalidate drops keys so the next Get reloads them.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, keys ...K) {
	r.cache.Delete(ctx, keys...)
}
