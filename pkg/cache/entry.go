// Package cache provides TTL caching for slow-moving Horizon metadata
// (plants, elements, datasources) with a Redis backend.
package cache

import (
	"time"
)

// CacheEntry represents a cached Horizon response body.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`

	// StoredAt is when we cached this response
	StoredAt time.Time `json:"stored_at"`
}

// NewEntry creates an entry that expires ttl from now.
func NewEntry(data []byte, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Data:     data,
		Expires:  now.Add(ttl),
		StoredAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
