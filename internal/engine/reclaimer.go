package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reclaimer evicts pools nobody watches anymore and expires stale cache
// entries. Both sweeps run beside the hot refresh cycle and never block
// the scheduler or tracker; a pool may legitimately outlive one sweep
// before being collected.
type Reclaimer struct {
	cfg     Config
	tracker *Tracker
	cache   *Cache
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
}

func NewReclaimer(cfg Config, tracker *Tracker, cache *Cache, clock Clock, logger *zap.Logger, metrics *Metrics) *Reclaimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Reclaimer{
		cfg:     cfg.withDefaults(),
		tracker: tracker,
		cache:   cache,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Run drives both sweeps until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) {
	evict := r.clock.NewTicker(r.cfg.EvictionInterval)
	defer evict.Stop()
	sweep := r.clock.NewTicker(r.cfg.TTLSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-evict.C():
			r.SweepPools(r.clock.Now())
		case <-sweep.C():
			r.SweepCache(r.clock.Now())
		case <-ctx.Done():
			return
		}
	}
}

// SweepPools stamps the grace start on pools newly observed at zero
// references and evicts those whose grace period has elapsed, removing
// their cache entry with them. Returns the number of evictions.
func (r *Reclaimer) SweepPools(now time.Time) int {
	evicted := 0
	for _, ref := range r.tracker.Snapshot() {
		if !ref.markZeroSince(now) {
			continue
		}
		if ref.graceExpired(now, r.cfg.GracePeriod) {
			r.tracker.Remove(ref.Key)
			r.cache.Delete(ref.Key)
			evicted++
		}
	}
	if evicted > 0 {
		r.metrics.PoolsEvicted.Add(float64(evicted))
		r.logger.Info("evicted unreferenced pools", zap.Int("count", evicted))
	}
	r.metrics.PoolsTracked.Set(float64(r.tracker.Len()))
	r.metrics.CacheEntries.Set(float64(r.cache.Len()))
	return evicted
}

// SweepCache drops expired cache entries regardless of pool liveness,
// bounding memory when an alive pool has stopped producing fresh blocks.
func (r *Reclaimer) SweepCache(now time.Time) int {
	removed := r.cache.SweepExpired(now)
	if removed > 0 {
		r.metrics.EntriesExpired.Add(float64(removed))
		r.logger.Info("expired cache entries", zap.Int("count", removed))
	}
	r.metrics.CacheEntries.Set(float64(r.cache.Len()))
	return removed
}
