package interfaces

import (
	"context"
	"time"
)

// Cache key surfaces the core invalidates after a successful upsert
const (
	CacheKeyPropertyListPrefix = "properties:list:"
	CacheKeyPropertyStats      = "properties:stats:all"
)

// CacheService is the read-side query cache. The core only deletes from it;
// the external API layer populates it.
type CacheService interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the cached value, or found=false on miss
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key with the given prefix and returns
	// the number of keys removed.
	DeletePattern(ctx context.Context, prefix string) (int, error)

	// InvalidateProperties drops the list-query entries and the aggregate
	// statistics key after a batch upsert.
	InvalidateProperties(ctx context.Context) error
}
