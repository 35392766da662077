package reconcile

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Each calls fn for every index in [0, n) on at most limit goroutines and waits
// for all of them. fn is called for every index even after ctx is cancelled, so
// callers can record the cancellation per item. Each returns ctx.Err().
func Each(ctx context.Context, n, limit int, fn func(ctx context.Context, i int)) error {
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

type cacheEntry struct {
	value string
	found bool
}

// Cached wraps a lookup so that concurrent calls for the same key share one
// in-flight call and later calls reuse the result. Errors are not cached.
func Cached(lookup LookupFunc) LookupFunc {
	var (
		group singleflight.Group
		mu    sync.RWMutex
		cache = make(map[string]cacheEntry)
	)

	return func(ctx context.Context, key string) (string, bool, error) {
		mu.RLock()
		e, ok := cache[key]
		mu.RUnlock()
		if ok {
			return e.value, e.found, nil
		}

		v, err, _ := group.Do(key, func() (interface{}, error) {
			value, found, err := lookup(ctx, key)
			if err != nil {
				return nil, err
			}
			entry := cacheEntry{value: value, found: found}
			mu.Lock()
			cache[key] = entry
			mu.Unlock()
			return entry, nil
		})
		if err != nil {
			return "", false, err
		}
		entry := v.(cacheEntry)
		return entry.value, entry.found, nil
	}
}

// Preloaded returns a lookup served from an in-memory map.
func Preloaded(values map[string]string) LookupFunc {
	return func(_ context.Context, key string) (string, bool, error) {
		v, ok := values[key]
		return v, ok, nil
	}
}
