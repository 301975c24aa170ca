package ttlcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB is a Cache backed by the cache_entries table, so every receiver
// instance pointed at the same database sees the same entries.
type DB struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDB creates a table-backed cache. now defaults to time.Now.
func NewDB(db *gorm.DB, now func() time.Time) *DB {
	if now == nil {
		now = time.Now
	}
	return &DB{db: db, now: now}
}

// Get returns the live value for key. An expired row is deleted.
func (c *DB) Get(ctx context.Context, key string) (string, bool, error) {
	var e models.CacheEntry
	err := c.db.WithContext(ctx).Where("`key` = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ttlcache: get %s: %w", key, err)
	}
	if e.ExpiresAt <= c.now().UnixNano() {
		if err := c.db.WithContext(ctx).
			Where("`key` = ? AND expires_at = ?", key, e.ExpiresAt).
			Delete(&models.CacheEntry{}).Error; err != nil {
			return "", false, fmt.Errorf("ttlcache: expire %s: %w", key, err)
		}
		return "", false, nil
	}
	return e.Value, true, nil
}

// SetWithTTL upserts key with an expiry of now+ttl. A non-positive ttl
// removes the key.
func (c *DB) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	e := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: c.now().Add(ttl).UnixNano(),
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("ttlcache: set %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key holds a live value.
func (c *DB) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Delete removes key.
func (c *DB) Delete(ctx context.Context, key string) error {
	if err := c.db.WithContext(ctx).Where("`key` = ?", key).Delete(&models.CacheEntry{}).Error; err != nil {
		return fmt.Errorf("ttlcache: delete %s: %w", key, err)
	}
	return nil
}

// Purge deletes every expired row and returns how many were removed.
func (c *DB) Purge(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).Where("expires_at <= ?", c.now().UnixNano()).Delete(&models.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("ttlcache: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
