package model

import "time"

// CacheEntry is one successfully observed pool state together with its
// consistency tags. Entries are only ever replaced by observations at the
// same or a higher block; a failed refresh leaves the entry untouched.
type CacheEntry struct {
	State      PoolState
	Block      uint64
	Tick       uint64
	ObservedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry's TTL has passed at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
