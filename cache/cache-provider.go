package cache

import (
	"crypto/md5"
	"fmt"
	"time"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves transformed page bodies under a cache key,
// together with the time the entry was created.
// Expiry is decided by the caller from the creation time, so providers
// never hide an entry because of its age.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the cache entry for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// A missing entry is not an error.
	Get(key string) (CacheEntry, bool, error)
	// Put stores the given entry, replacing any entry with the same key.
	// A reader must never observe a partially written entry.
	Put(ce CacheEntry) error
	// Purge removes the cache entry for the given key.
	// Purging a missing key is not an error.
	Purge(key string) error
	// Clear removes every entry. It keeps going when a single entry cannot be
	// removed and returns the number of removed entries along with the
	// collected failures.
	Clear() (int, error)
	// Keys calls the given callback for each key.
	Keys(cb func(string)) error
	// Close releases the resources held by the provider.
	Close() error
}

type CacheEntry struct {
	Key       string
	CreatedAt time.Time
	Bytes     []byte
}

// Fresh reports whether the entry is younger than ttl at the given time.
func (ce CacheEntry) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(ce.CreatedAt) < ttl
}

// ETag returns the quoted content fingerprint of the stored body.
func (ce CacheEntry) ETag() string {
	return fmt.Sprintf("\"%x\"", md5.Sum(ce.Bytes))
}
