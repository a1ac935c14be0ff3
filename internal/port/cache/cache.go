// Package cache defines the byte cache port used for secrets and lookups.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a per-entry TTL. A zero TTL means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
