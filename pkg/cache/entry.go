package cache

import (
	"time"
)

// Entry is a resident cache entry.
type Entry struct {
	// Key is the cache key.
	Key string

	// Value is the cached value. The cache never inspects it.
	Value any

	// ExpiresAt is when the entry becomes logically absent.
	ExpiresAt time.Time

	// LastAccessed is the last time the entry was written or read via Get.
	LastAccessed time.Time

	// CreatedAt is when the current value was stored.
	CreatedAt time.Time
}

// IsExpired returns true if the entry is expired at now.
// An entry expiring exactly at now is already expired.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
