package models

// CacheEntry is a row of the shared TTL cache. ExpiresAt is unix nanoseconds
// so expiry comparisons do not depend on the driver's time encoding.
type CacheEntry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	ExpiresAt int64  `gorm:"not null;index"`
}
