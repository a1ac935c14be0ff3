// Package ristretto implements the cache and ledger ports in process using dgraph-io/ristretto.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is an in-process L1 cache. Values are costed by their byte length.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := newStore[[]byte](maxCostBytes)
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func newStore[V any](maxCost int64) (*ristretto.Cache[string, V], error) {
	counters := maxCost / 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return c, nil
}

func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value and waits for the write buffer so a following Get observes it.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value))+1, ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	c.c.Wait()
	return nil
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
