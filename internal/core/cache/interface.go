package cache

import (
	"context"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
type notFoundError struct{ key string }

func (e *notFoundError) Error() string { return "cache key not found: " + e.key }

// NewNotFoundError builds the sentinel error for a missing key.
func NewNotFoundError(key string) error { return &notFoundError{key: key} }

// IsNotFound reports whether err indicates a missing cache key.
func IsNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

// Service is the shared-state port used by the alerting engine. Keys carry
// optional TTLs; a zero TTL means the key does not expire.
type Service interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores the value only if the key does not already exist and
	// reports whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Incr atomically bumps an integer counter. When the call creates the
	// key and ttl is positive, the expiry is set in the same operation so
	// a crash cannot leave a counter without a window.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
