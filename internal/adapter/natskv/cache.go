// Package natskv implements the cache and ledger ports on NATS JetStream KeyValue buckets.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache is an L2 cache shared by every analyzer process. Expiry is the bucket TTL.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get: %w", err)
	}
	return entry.Value(), true, nil
}

// Set stores value; the per-call ttl is ignored in favour of the bucket TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, encodeKey(key), value); err != nil {
		return fmt.Errorf("natskv put: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete: %w", err)
	}
	return nil
}

var keyReplacer = strings.NewReplacer(" ", "_", "*", "_", ">", "_", ":", "_", "/", ".")

// encodeKey maps arbitrary cache keys onto the KV key alphabet.
func encodeKey(key string) string {
	return keyReplacer.Replace(key)
}
