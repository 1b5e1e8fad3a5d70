package engine

import (
	"testing"
	"time"

	"pricewatch/internal/model"
)

func testKey(b byte) model.PoolKey {
	return model.PoolKey{Network: testNetwork, Address: addr(b)}
}

func testEntry(block, tick uint64, now time.Time) model.CacheEntry {
	return model.CacheEntry{
		State:      model.ReserveState{Reserve0: amt(100), Reserve1: amt(200)},
		Block:      block,
		Tick:       tick,
		ObservedAt: now,
		ExpiresAt:  now.Add(time.Minute),
	}
}

func TestCachePutLastBlockWins(t *testing.T) {
	cache := NewCache()
	key := testKey(0x10)
	now := time.Unix(1_700_000_000, 0)

	if !cache.Put(key, testEntry(10, 1, now)) {
		t.Fatalf("initial put rejected")
	}
	if cache.Put(key, testEntry(9, 2, now)) {
		t.Fatalf("older block must be rejected")
	}
	if !cache.Put(key, testEntry(10, 2, now)) {
		t.Fatalf("same block must be accepted")
	}

	entry, ok := cache.Get(key)
	if !ok {
		t.Fatalf("entry missing")
	}
	if entry.Block != 10 || entry.Tick != 2 {
		t.Fatalf("unexpected entry block=%d tick=%d", entry.Block, entry.Tick)
	}
}

func TestCacheExtendKeepsStateAndTick(t *testing.T) {
	cache := NewCache()
	key := testKey(0x10)
	now := time.Unix(1_700_000_000, 0)
	cache.Put(key, testEntry(10, 1, now))

	later := now.Add(30 * time.Second)
	if !cache.Extend(key, later, later.Add(time.Minute)) {
		t.Fatalf("extend rejected")
	}

	entry, _ := cache.Get(key)
	if entry.Block != 10 || entry.Tick != 1 {
		t.Fatalf("extend must not touch block or tick, got block=%d tick=%d", entry.Block, entry.Tick)
	}
	if !entry.ObservedAt.Equal(later) {
		t.Fatalf("expected observed at %v, got %v", later, entry.ObservedAt)
	}
	if !entry.ExpiresAt.Equal(later.Add(time.Minute)) {
		t.Fatalf("expiry not extended")
	}
}

func TestCacheExtendMissingEntry(t *testing.T) {
	cache := NewCache()
	now := time.Unix(1_700_000_000, 0)
	if cache.Extend(testKey(0x10), now, now.Add(time.Minute)) {
		t.Fatalf("extend must fail for missing entry")
	}
}

func TestCacheSweepExpired(t *testing.T) {
	cache := NewCache()
	now := time.Unix(1_700_000_000, 0)
	cache.Put(testKey(0x10), testEntry(10, 1, now))
	cache.Put(testKey(0x11), testEntry(10, 1, now.Add(2*time.Minute)))

	removed := cache.SweepExpired(now.Add(90 * time.Second))
	if removed != 1 {
		t.Fatalf("expected one expired entry, removed %d", removed)
	}
	if _, ok := cache.Get(testKey(0x10)); ok {
		t.Fatalf("expired entry still present")
	}
	if _, ok := cache.Get(testKey(0x11)); !ok {
		t.Fatalf("live entry swept")
	}
}

func TestCacheMultiGet(t *testing.T) {
	cache := NewCache()
	now := time.Unix(1_700_000_000, 0)
	cache.Put(testKey(0x10), testEntry(10, 1, now))

	entries, present := cache.MultiGet([]model.PoolKey{testKey(0x10), testKey(0x11)})
	if !present[0] || present[1] {
		t.Fatalf("unexpected presence %v", present)
	}
	if entries[0].Block != 10 {
		t.Fatalf("unexpected block %d", entries[0].Block)
	}
}
