package cache

import (
	"context"
	"time"
)

// Cache stores JSON-serialisable snapshots with a TTL. A miss is (false, nil).
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
