package ports

import (
	"context"
	"time"
)

// CachePort stores raw metadata documents by sanitized key. A miss is
// (nil, false, nil).
type CachePort interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, data []byte) error
	Age(ctx context.Context, key string) (time.Duration, bool)
	SHA256(ctx context.Context, key string) (string, bool)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	IsEnabled() bool
	IsReadOnly() bool
}
