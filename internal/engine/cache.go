package engine

import (
	"sync"
	"time"

	"pricewatch/internal/model"
)

// Cache holds the latest known on-chain state per pool plus its
// consistency tags. It has no knowledge of scheduling: writers are the
// scheduler's result handlers, readers the pricing resolver.
//
// Writes follow last-block-wins per pool: an observation is accepted only
// if its block number is at least the stored one, which makes
// out-of-order batch completion safe. A failed refresh never deletes or
// rewrites an entry; staleness is expressed through the expiry, and only
// the reclaimer's TTL sweep removes entries.
type Cache struct {
	mu    sync.RWMutex
	slots map[model.PoolKey]*cacheSlot
}

type cacheSlot struct {
	mu    sync.Mutex
	entry model.CacheEntry
	set   bool
}

func NewCache() *Cache {
	return &Cache{slots: make(map[model.PoolKey]*cacheSlot)}
}

// Get returns the entry for a pool, expired or not; callers judge
// staleness via the entry's expiry.
func (c *Cache) Get(key model.PoolKey) (model.CacheEntry, bool) {
	c.mu.RLock()
	slot, ok := c.slots[key]
	c.mu.RUnlock()
	if !ok {
		return model.CacheEntry{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.entry, slot.set
}

// MultiGet returns entries for the given pools in order, with a parallel
// presence slice.
func (c *Cache) MultiGet(keys []model.PoolKey) ([]model.CacheEntry, []bool) {
	entries := make([]model.CacheEntry, len(keys))
	present := make([]bool, len(keys))
	for i, key := range keys {
		entries[i], present[i] = c.Get(key)
	}
	return entries, present
}

// Put stores an observation, accepting it only if its block number is at
// least the stored one. Returns whether the write was accepted.
func (c *Cache) Put(key model.PoolKey, entry model.CacheEntry) bool {
	slot := c.slot(key)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.set && entry.Block < slot.entry.Block {
		return false
	}
	slot.entry = entry
	slot.set = true
	return true
}

// Extend refreshes the entry's observation time and expiry without
// touching state, block or tick. Used when a refresh proves the chain
// state unchanged. Returns false if no entry exists.
func (c *Cache) Extend(key model.PoolKey, observedAt, expiresAt time.Time) bool {
	c.mu.RLock()
	slot, ok := c.slots[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.set {
		return false
	}
	slot.entry.ObservedAt = observedAt
	slot.entry.ExpiresAt = expiresAt
	return true
}

// Delete removes a pool's entry. Called by the reclaimer on eviction.
func (c *Cache) Delete(key model.PoolKey) {
	c.mu.Lock()
	delete(c.slots, key)
	c.mu.Unlock()
}

// SweepExpired removes entries whose expiry has passed and returns how
// many were dropped.
func (c *Cache) SweepExpired(now time.Time) int {
	c.mu.RLock()
	expired := make([]model.PoolKey, 0)
	for key, slot := range c.slots {
		slot.mu.Lock()
		if slot.set && slot.entry.Expired(now) {
			expired = append(expired, key)
		}
		slot.mu.Unlock()
	}
	c.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	removed := 0
	c.mu.Lock()
	for _, key := range expired {
		slot, ok := c.slots[key]
		if !ok {
			continue
		}
		slot.mu.Lock()
		stillExpired := slot.set && slot.entry.Expired(now)
		slot.mu.Unlock()
		if stillExpired {
			delete(c.slots, key)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

func (c *Cache) slot(key model.PoolKey) *cacheSlot {
	c.mu.RLock()
	slot, ok := c.slots[key]
	c.mu.RUnlock()
	if ok {
		return slot
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok = c.slots[key]; ok {
		return slot
	}
	slot = &cacheSlot{}
	c.slots[key] = slot
	return slot
}
