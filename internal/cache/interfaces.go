package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

// Cache is the key/value store behind session tokens and purchase
// idempotency keys. MemoryCache serves single-instance deployments and
// RedisCache shared ones. Stock levels never live here.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// SetIfAbsent stores value only when key is missing and reports whether
	// it did. Concurrent callers racing on one key see exactly one winner.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only while it still holds value, so an
	// owner never releases a reservation taken over by someone else.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	Close() error
}
