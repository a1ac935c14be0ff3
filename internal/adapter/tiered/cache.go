// Package tiered implements a read-through cache over an in-process L1 and an optional shared L2.
package tiered

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/runtask-analyzer/internal/port/cache"
)

// Loader produces the value for a key on a full miss.
type Loader func(ctx context.Context) ([]byte, error)

// Cache checks L1, then L2 (backfilling L1), then calls a Loader.
// Concurrent misses for the same key share one Loader call.
// L2 errors degrade to a miss; they never fail a lookup.
type Cache struct {
	l1    cache.Cache
	l2    cache.Cache // nil for L1-only
	l1TTL time.Duration
	group singleflight.Group
}

// New creates a tiered cache. l2 may be nil. l1TTL bounds how long an entry
// backfilled from L2 lives in L1.
func New(l1, l2 cache.Cache, l1TTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}
	if c.l2 == nil {
		return nil, false, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, nil
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL)
	return val, true, nil
}

// GetOrLoad returns the cached value for key or stores the result of load under ttl.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	if val, found, err := c.Get(ctx, key); err == nil && found {
		return val, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, val, ttl); err != nil {
			return nil, fmt.Errorf("cache set %s: %w", key, err)
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set writes L1 and, when present, L2. An L2 failure is ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if c.l2 != nil {
		_ = c.l2.Set(ctx, key, value, ttl)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 != nil {
		return c.l2.Delete(ctx, key)
	}
	return nil
}
