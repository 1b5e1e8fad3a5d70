package engine

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
	"pricewatch/internal/registry"
)

// PoolRef is the tracker's record of one pool some client is watching.
// Identity fields are immutable after creation; scheduling fields are
// guarded by the per-ref mutex so the tracker, scheduler and reclaimer
// never serialize behind a global lock.
type PoolRef struct {
	Key    model.PoolKey
	Kind   model.Kind
	Weight int
	Token0 common.Address
	Token1 common.Address

	mu        sync.Mutex
	refs      int64
	zeroSince time.Time // set by the reclaimer's first zero-ref observation
	tier      model.Tier
	nextDue   time.Time
	lastBlock uint64
	lastPrice decimal.Decimal
	hasPrice  bool
	inFlight  bool
}

// Refs returns the current reference count.
func (r *PoolRef) Refs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Tier returns the current refresh tier.
func (r *PoolRef) Tier() model.Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tier
}

// NextDue returns the next scheduled refresh time.
func (r *PoolRef) NextDue() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextDue
}

// LastBlock returns the block number of the last accepted refresh.
func (r *PoolRef) LastBlock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBlock
}

func (r *PoolRef) retain() {
	r.mu.Lock()
	r.refs++
	r.zeroSince = time.Time{}
	r.mu.Unlock()
}

func (r *PoolRef) release() {
	r.mu.Lock()
	if r.refs > 0 {
		r.refs--
	}
	r.mu.Unlock()
}

// markZeroSince stamps the grace start on the first zero-reference
// observation. Returns true if the pool is at zero references.
func (r *PoolRef) markZeroSince(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs > 0 {
		return false
	}
	if r.zeroSince.IsZero() {
		r.zeroSince = now
	}
	return true
}

// graceExpired reports whether the pool has sat at zero references for
// at least the grace period.
func (r *PoolRef) graceExpired(now time.Time, grace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs == 0 && !r.zeroSince.IsZero() && now.Sub(r.zeroSince) >= grace
}

// claimDue marks the ref in flight if it is due at now and not already
// being refreshed.
func (r *PoolRef) claimDue(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight || r.nextDue.After(now) {
		return false
	}
	r.inFlight = true
	return true
}

// Tracker is the reference-counted set of pools currently alive because
// some client expressed interest. It exclusively owns PoolRef identity
// and reference counts.
type Tracker struct {
	source       registry.Source
	clock        Clock
	highInterval time.Duration

	mu    sync.RWMutex
	pools map[model.PoolKey]*PoolRef
}

func NewTracker(source registry.Source, clock Clock, highInterval time.Duration) *Tracker {
	return &Tracker{
		source:       source,
		clock:        clock,
		highInterval: highInterval,
		pools:        make(map[model.PoolKey]*PoolRef),
	}
}

// RegisterInterest increments the reference count of every pool reachable
// from the given tokens via the registry's routes, creating missing pools
// at tier high. Tokens without a route are skipped; the hot path never
// triggers discovery. Re-registering a pool that is pending eviction
// cancels its grace tracking.
func (t *Tracker) RegisterInterest(network uint64, tokens []common.Address) {
	for _, token := range tokens {
		route, ok := t.source.Routes(network, token)
		if !ok {
			continue
		}
		for _, hop := range route.Hops {
			t.refHop(hop)
		}
	}
}

// ReleaseInterest decrements the reference count of every pool reachable
// from the given tokens, symmetric to RegisterInterest. Eviction is left
// to the reclaimer once the grace period has elapsed.
func (t *Tracker) ReleaseInterest(network uint64, tokens []common.Address) {
	for _, token := range tokens {
		route, ok := t.source.Routes(network, token)
		if !ok {
			continue
		}
		for _, hop := range route.Hops {
			t.mu.RLock()
			ref, ok := t.pools[hop.Pool]
			t.mu.RUnlock()
			if ok {
				ref.release()
			}
		}
	}
}

func (t *Tracker) refHop(hop model.Hop) {
	t.mu.RLock()
	ref, ok := t.pools[hop.Pool]
	t.mu.RUnlock()
	if ok {
		ref.retain()
		return
	}

	t.mu.Lock()
	if ref, ok = t.pools[hop.Pool]; ok {
		t.mu.Unlock()
		ref.retain()
		return
	}
	weight := hop.Weight
	if weight <= 0 {
		weight = hop.Kind.DefaultWeight()
	}
	ref = &PoolRef{
		Key:     hop.Pool,
		Kind:    hop.Kind,
		Weight:  weight,
		Token0:  hop.Token0,
		Token1:  hop.Token1,
		refs:    1,
		tier:    model.TierHigh,
		nextDue: t.clock.Now().Add(t.highInterval),
	}
	t.pools[hop.Pool] = ref
	t.mu.Unlock()
}

// Get returns the tracked ref for a pool, if any.
func (t *Tracker) Get(key model.PoolKey) (*PoolRef, bool) {
	t.mu.RLock()
	ref, ok := t.pools[key]
	t.mu.RUnlock()
	return ref, ok
}

// Snapshot returns the tracked refs for iteration by the scheduler and
// reclaimer. It copies only the slice header, never blocking concurrent
// registration for long.
func (t *Tracker) Snapshot() []*PoolRef {
	t.mu.RLock()
	refs := make([]*PoolRef, 0, len(t.pools))
	for _, ref := range t.pools {
		refs = append(refs, ref)
	}
	t.mu.RUnlock()
	return refs
}

// Remove deletes a pool from the tracker. Called only by the reclaimer
// once the eviction predicate holds.
func (t *Tracker) Remove(key model.PoolKey) {
	t.mu.Lock()
	delete(t.pools, key)
	t.mu.Unlock()
}

// Len returns the number of tracked pools.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pools)
}
