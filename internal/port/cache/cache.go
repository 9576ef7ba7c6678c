// Package cache defines the port for the quick-query response cache.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-value key-value cache with per-entry TTL. Implementations
// are best-effort: a miss after Set is acceptable, an error is not required
// for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
