// Package ttlcache provides the key/value cache with per-entry expiry used
// for pause-state mirroring and bot echo tracking. The memory backend is
// local to one process; the db backend shares entries across receivers.
package ttlcache

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Cache stores string values that disappear after their TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by backends that can drop expired entries in bulk.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// New returns the cache backend named by backend ("memory" or "db").
func New(backend string, db *gorm.DB) (Cache, error) {
	switch backend {
	case "", "memory":
		return NewMemory(nil), nil
	case "db":
		if db == nil {
			return nil, fmt.Errorf("ttlcache: db backend requires a database")
		}
		return NewDB(db, nil), nil
	default:
		return nil, fmt.Errorf("ttlcache: unknown backend %q", backend)
	}
}
