package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricewatch/internal/chain"
	"pricewatch/internal/model"
	"pricewatch/internal/registry"
)

var (
	highVolatility   = decimal.NewFromFloat(0.05)
	normalVolatility = decimal.NewFromFloat(0.001)
)

// Batch is one weight-bounded group of due pools headed for a single
// provider. It exists only for the duration of one dispatch.
type Batch struct {
	Pools    []*PoolRef
	Provider int
}

// Scheduler runs the fixed-period refresh cycle: select due pools, group
// them into weight-bounded batches, spread the batches across providers
// round-robin, and merge results back into the cache. Every batch of one
// cycle shares a single tick id so the cycle forms one consistency epoch
// no matter which provider served which batch.
type Scheduler struct {
	cfg     Config
	tracker *Tracker
	cache   *Cache
	caller  chain.BatchCaller
	source  registry.Source
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics

	tick         atomic.Uint64
	nextProvider atomic.Uint64
	inFlight     sync.WaitGroup
}

func NewScheduler(
	cfg Config,
	tracker *Tracker,
	cache *Cache,
	caller chain.BatchCaller,
	source registry.Source,
	clock Clock,
	logger *zap.Logger,
	metrics *Metrics,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		tracker: tracker,
		cache:   cache,
		caller:  caller,
		source:  source,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Run drives cycles until ctx is done. Dispatches from an overrunning
// cycle keep completing while the next cycle starts.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			s.RunCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until every dispatched batch has completed.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

// Tick returns the identifier of the most recently dispatched cycle.
func (s *Scheduler) Tick() uint64 {
	return s.tick.Load()
}

// RunCycle performs one scheduling cycle. Exported so tests can step
// cycles against a fake clock.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := time.Now()
	now := s.clock.Now()

	due := s.selectDue(now)
	if len(due) == 0 {
		return
	}
	batches := s.assemble(due)
	tick := s.tick.Add(1)

	for _, batch := range batches {
		s.metrics.BatchesDispatched.Inc()
		s.inFlight.Add(1)
		go func(b Batch) {
			defer s.inFlight.Done()
			s.dispatch(ctx, b, tick)
		}(batch)
	}

	s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("cycle dispatched",
		zap.Uint64("tick", tick),
		zap.Int("due", len(due)),
		zap.Int("batches", len(batches)),
	)
}

// selectDue claims every tracked pool due at now that is not already in
// flight, in stable (network, address) order. Pools inside their grace
// period are still serviced; the reclaimer alone decides eviction.
func (s *Scheduler) selectDue(now time.Time) []*PoolRef {
	refs := s.tracker.Snapshot()
	due := make([]*PoolRef, 0, len(refs))
	for _, ref := range refs {
		if ref.claimDue(now) {
			due = append(due, ref)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Key.Less(due[j].Key) })
	return due
}

// assemble greedily packs due pools into batches under the weight
// ceiling and assigns providers round-robin, independent of content. A
// single pool heavier than the ceiling still forms its own batch.
func (s *Scheduler) assemble(due []*PoolRef) []Batch {
	var (
		batches []Batch
		current []*PoolRef
		weight  int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		provider := int((s.nextProvider.Add(1) - 1) % uint64(s.cfg.Providers))
		batches = append(batches, Batch{Pools: current, Provider: provider})
		current = nil
		weight = 0
	}
	for _, ref := range due {
		if len(current) > 0 && weight+ref.Weight > s.cfg.WeightCeiling {
			flush()
		}
		current = append(current, ref)
		weight += ref.Weight
	}
	flush()
	return batches
}

func (s *Scheduler) dispatch(ctx context.Context, b Batch, tick uint64) {
	calls := make([]chain.Call, len(b.Pools))
	for i, ref := range b.Pools {
		calls[i] = chain.Call{Pool: ref.Key, Kind: ref.Kind}
	}

	results, err := s.caller.ExecuteBatch(ctx, b.Provider, calls)
	now := s.clock.Now()
	if err != nil || len(results) != len(calls) {
		s.metrics.BatchFailures.Inc()
		s.logger.Warn("batch dispatch failed",
			zap.Int("provider", b.Provider),
			zap.Int("pools", len(b.Pools)),
			zap.Error(err),
		)
		for _, ref := range b.Pools {
			s.reschedule(ref, now.Add(s.cfg.RetryDelay))
		}
		return
	}

	for i, ref := range b.Pools {
		s.processResult(ref, results[i], tick, now)
	}
}

// reschedule marks a pool due again at the given time without touching
// its cache entry.
func (s *Scheduler) reschedule(ref *PoolRef, at time.Time) {
	ref.mu.Lock()
	ref.nextDue = at
	ref.inFlight = false
	ref.mu.Unlock()
}

// processResult merges one call outcome into the cache and recomputes
// the pool's tier and next-due time. Failures leave the existing entry
// untouched and retry after a short delay.
func (s *Scheduler) processResult(ref *PoolRef, res chain.Result, tick uint64, now time.Time) {
	if res.Err != nil {
		s.metrics.CallFailures.Inc()
		s.logger.Warn("pool call failed",
			zap.String("pool", ref.Key.String()),
			zap.Error(res.Err),
		)
		s.reschedule(ref, now.Add(s.cfg.RetryDelay))
		return
	}

	expiresAt := now.Add(s.cfg.CacheTTL)

	ref.mu.Lock()
	defer ref.mu.Unlock()

	// Unchanged block: the chain state provably has not moved, so skip
	// the price recompute and only extend the entry's lifetime. The tier
	// is kept; no new price means no new volatility signal.
	if res.Block == ref.lastBlock && ref.hasPrice {
		if s.cache.Extend(ref.Key, now, expiresAt) {
			s.metrics.RefreshesSkipped.Inc()
			ref.nextDue = now.Add(s.cfg.tierInterval(ref.tier))
			ref.inFlight = false
			return
		}
	}

	// An older observation completing out of order loses to what is
	// already stored.
	if res.Block < ref.lastBlock {
		ref.nextDue = now.Add(s.cfg.tierInterval(ref.tier))
		ref.inFlight = false
		return
	}

	dec0 := s.source.Decimals(ref.Key.Network, ref.Token0)
	dec1 := s.source.Decimals(ref.Key.Network, ref.Token1)
	price, err := midPrice(res.State, dec0, dec1)
	if err != nil {
		s.metrics.CallFailures.Inc()
		s.logger.Warn("unpriceable pool state",
			zap.String("pool", ref.Key.String()),
			zap.Error(err),
		)
		ref.nextDue = now.Add(s.cfg.RetryDelay)
		ref.inFlight = false
		return
	}

	s.cache.Put(ref.Key, model.CacheEntry{
		State:      res.State,
		Block:      res.Block,
		Tick:       tick,
		ObservedAt: now,
		ExpiresAt:  expiresAt,
	})

	prev := ref.lastPrice
	hadPrice := ref.hasPrice
	ref.lastBlock = res.Block
	ref.lastPrice = price
	ref.hasPrice = true
	if hadPrice {
		ref.tier = tierForChange(prev, price)
	}
	ref.nextDue = now.Add(s.cfg.tierInterval(ref.tier))
	ref.inFlight = false
	s.metrics.PoolsRefreshed.Inc()
}

// tierForChange classifies the relative price move against the previous
// refresh: above 5 percent is high, above 0.1 percent normal, else low.
func tierForChange(prev, current decimal.Decimal) model.Tier {
	if prev.IsZero() {
		return model.TierHigh
	}
	change := current.Sub(prev).Abs().Div(prev)
	switch {
	case change.GreaterThan(highVolatility):
		return model.TierHigh
	case change.GreaterThan(normalVolatility):
		return model.TierNormal
	default:
		return model.TierLow
	}
}
