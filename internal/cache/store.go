package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key joins parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
