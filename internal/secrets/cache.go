package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/tiered"
	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

// Cached is a cache-aside Fetcher. Concurrent misses for one secret share a
// single upstream fetch; values expire after ttl so rotations are picked up.
type Cached struct {
	src   secretstore.Fetcher
	cache *tiered.Cache
	ttl   time.Duration
}

// NewCached wraps src with cache c (typically L1-only) and the given TTL.
func NewCached(src secretstore.Fetcher, c *tiered.Cache, ttl time.Duration) *Cached {
	return &Cached{src: src, cache: c, ttl: ttl}
}

func (c *Cached) FetchSecret(ctx context.Context, id string) (string, error) {
	val, err := c.cache.GetOrLoad(ctx, "secret:"+id, c.ttl, func(ctx context.Context) ([]byte, error) {
		s, err := c.src.FetchSecret(ctx, id)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch secret: %w", err)
	}
	return string(val), nil
}

// Invalidate drops the cached value of id.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.cache.Delete(ctx, "secret:"+id)
}
