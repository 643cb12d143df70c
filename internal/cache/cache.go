// Package cache is a short-lived read-through cache for remote responses.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/observability"
)

// DefaultTTL is how long a loaded response stays valid.
const DefaultTTL = 10 * time.Minute

// DefaultSize bounds the number of cached responses.
const DefaultSize = 1000

// Refresher is implemented by values that re-hydrate derived state after a cache hit.
type Refresher interface {
	Refresh()
}

// Cache maps opaque keys to remote responses for a fixed TTL.
type Cache struct {
	entries *expirable.LRU[string, any]
	group   singleflight.Group
	metrics *observability.Metrics
}

// New creates a cache. Non-positive arguments select the defaults.
func New(size int, ttl time.Duration, metrics *observability.Metrics) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: expirable.NewLRU[string, any](size, nil, ttl),
		metrics: metrics,
	}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Loader fetches the value for a missing key. Returning an error matching
// apperrors.ErrNotFound means the value does not exist.
type Loader[V any] func(ctx context.Context) (V, error)

// GetOrLoad returns the cached value for key or loads it. Concurrent misses on
// one key share a single load. A not-found load yields ok == false and a nil
// error; failures are returned and never cached.
func GetOrLoad[V any](ctx context.Context, c *Cache, key string, load Loader[V]) (V, bool, error) {
	var zero V

	if v, ok := c.entries.Get(key); ok {
		if typed, ok := v.(V); ok {
			c.metrics.RecordCache(ctx, true)
			refresh(typed)
			return typed, true, nil
		}
	}
	c.metrics.RecordCache(ctx, false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, loaded)
		return loaded, nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, err
	}

	typed, ok := v.(V)
	if !ok {
		return zero, false, nil
	}
	refresh(typed)
	return typed, true, nil
}

func refresh(v any) {
	if r, ok := v.(Refresher); ok {
		r.Refresh()
	}
}
