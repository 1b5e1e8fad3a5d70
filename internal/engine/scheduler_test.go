package engine

import (
	"errors"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
	"pricewatch/internal/registry"
)

func addSqrtRoute(s *registry.Static, token, base, pool common.Address) model.PoolKey {
	key := model.PoolKey{Network: testNetwork, Address: pool}
	s.AddRoute(testNetwork, model.Route{
		Token: token,
		Hops: []model.Hop{{
			Pool:   key,
			Kind:   model.KindSqrtPrice,
			Token0: token,
			Token1: base,
			Base:   base,
		}},
	})
	return key
}

func reserves(r0, r1 *big.Int) model.ReserveState {
	return model.ReserveState{Reserve0: r0, Reserve1: r1}
}

func TestCycleRefreshesDuePool(t *testing.T) {
	source := newTestRegistry()
	token := addr(0x01)
	pool := addPairRoute(source, token, usdx, addr(0x10))

	te := newTestEngine(Config{}, source)
	te.eng.tracker.RegisterInterest(testNetwork, []common.Address{token})
	te.caller.setBlock(5)
	te.caller.setState(pool.Address, reserves(amt(100), amt(200)))

	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)

	entry, ok := te.eng.cache.Get(pool)
	if !ok {
		t.Fatalf("refresh produced no cache entry")
	}
	if entry.Block != 5 || entry.Tick != 1 {
		t.Fatalf("unexpected entry block=%d tick=%d", entry.Block, entry.Tick)
	}
	ref, _ := te.eng.tracker.Get(pool)
	if ref.LastBlock() != 5 {
		t.Fatalf("expected last block 5, got %d", ref.LastBlock())
	}

	price, err := te.eng.PriceOf(testNetwork, token)
	if err != nil {
		t.Fatalf("PriceOf: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected price 2, got %s", price)
	}
}

func TestCycleSkipsNotDuePools(t *testing.T) {
	source := newTestRegistry()
	token := addr(0x01)
	addPairRoute(source, token, usdx, addr(0x10))

	te := newTestEngine(Config{}, source)
	te.eng.tracker.RegisterInterest(testNetwork, []common.Address{token})

	te.runCycle(t)
	if te.caller.batchCount() != 0 {
		t.Fatalf("pool dispatched before its due time")
	}
}

func TestAssembleWeightCeiling(t *testing.T) {
	source := newTestRegistry()
	var tokens []common.Address
	for i := 0; i < 60; i++ {
		token := addr(byte(i + 1))
		addPairRoute(source, token, usdx, addr(byte(0x41+i)))
		tokens = append(tokens, token)
	}

	te := newTestEngine(Config{}, source)
	for i := 0; i < 60; i++ {
		te.caller.setState(addr(byte(0x41+i)), reserves(amt(100), amt(200)))
	}
	te.eng.tracker.RegisterInterest(testNetwork, tokens)
	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)

	te.caller.mu.Lock()
	defer te.caller.mu.Unlock()
	if len(te.caller.batches) != 2 {
		t.Fatalf("expected 2 batches for 60 unit-weight pools under ceiling 50, got %d", len(te.caller.batches))
	}
	sizes := []int{len(te.caller.batches[0]), len(te.caller.batches[1])}
	sort.Ints(sizes)
	if sizes[0] != 10 || sizes[1] != 50 {
		t.Fatalf("expected batch sizes 50 and 10, got %v", sizes)
	}
}

func TestAssembleOverweightPoolOwnBatch(t *testing.T) {
	source := newTestRegistry()
	tokens := []common.Address{addr(0x01), addr(0x02), addr(0x03)}
	addPairRoute(source, tokens[0], usdx, addr(0x10))
	addSqrtRoute(source, tokens[1], usdx, addr(0x11))
	addPairRoute(source, tokens[2], usdx, addr(0x12))

	te := newTestEngine(Config{WeightCeiling: 1}, source)
	te.eng.tracker.RegisterInterest(testNetwork, tokens)
	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)

	te.caller.mu.Lock()
	defer te.caller.mu.Unlock()
	if len(te.caller.batches) != 3 {
		t.Fatalf("expected 3 single-pool batches under ceiling 1, got %d", len(te.caller.batches))
	}
	for _, batch := range te.caller.batches {
		if len(batch) != 1 {
			t.Fatalf("expected every batch to hold one pool, got %d", len(batch))
		}
	}
}

func TestRoundRobinProviders(t *testing.T) {
	source := newTestRegistry()
	tokens := []common.Address{addr(0x01), addr(0x02), addr(0x03)}
	for i, token := range tokens {
		addPairRoute(source, token, usdx, addr(byte(0x10+i)))
	}

	te := newTestEngine(Config{WeightCeiling: 1, Providers: 3}, source)
	for i := range tokens {
		te.caller.setState(addr(byte(0x10+i)), reserves(amt(100), amt(200)))
	}
	te.eng.tracker.RegisterInterest(testNetwork, tokens)
	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)

	te.caller.mu.Lock()
	providers := append([]int(nil), te.caller.providers...)
	te.caller.mu.Unlock()

	sort.Ints(providers)
	if len(providers) != 3 || providers[0] != 0 || providers[1] != 1 || providers[2] != 2 {
		t.Fatalf("expected providers 0,1,2 round-robin, got %v", providers)
	}
}

func TestFailureIsolation(t *testing.T) {
	source := newTestRegistry()
	tokenA, tokenB := addr(0x01), addr(0x02)
	poolA := addPairRoute(source, tokenA, usdx, addr(0x10))
	poolB := addPairRoute(source, tokenB, usdx, addr(0x11))

	te := newTestEngine(Config{}, source)
	te.caller.setState(poolA.Address, reserves(amt(100), amt(200)))
	te.caller.setState(poolB.Address, reserves(amt(100), amt(200)))
	te.eng.tracker.RegisterInterest(testNetwork, []common.Address{tokenA, tokenB})

	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)

	te.caller.setBlock(2)
	te.caller.setErr(poolA.Address, errors.New("execution reverted"))
	te.caller.setState(poolB.Address, reserves(amt(100), amt(300)))

	te.clock.Advance(te.eng.cfg.HighInterval)
	now := te.clock.Now()
	te.runCycle(t)

	entryA, ok := te.eng.cache.Get(poolA)
	if !ok {
		t.Fatalf("failed call must leave the prior entry in place")
	}
	if entryA.Block != 1 || entryA.Tick != 1 {
		t.Fatalf("failed call mutated cached entry: block=%d tick=%d", entryA.Block, entryA.Tick)
	}

	entryB, _ := te.eng.cache.Get(poolB)
	if entryB.Block != 2 || entryB.Tick != 2 {
		t.Fatalf("healthy pool not refreshed: block=%d tick=%d", entryB.Block, entryB.Tick)
	}

	refA, _ := te.eng.tracker.Get(poolA)
	if want := now.Add(te.eng.cfg.RetryDelay); !refA.NextDue().Equal(want) {
		t.Fatalf("expected retry at %v, got %v", want, refA.NextDue())
	}
}

func TestBatchTransportFailureReschedulesAll(t *testing.T) {
	source := newTestRegistry()
	token := addr(0x01)
	pool := addPairRoute(source, token, usdx, addr(0x10))

	te := newTestEngine(Config{}, source)
	te.caller.setFailAll(errors.New("provider unreachable"))
	te.eng.tracker.RegisterInterest(testNetwork, []common.Address{token})

	te.clock.Advance(te.eng.cfg.HighInterval)
	now := te.clock.Now()
	te.runCycle(t)

	if _, ok := te.eng.cache.Get(pool); ok {
		t.Fatalf("failed batch must not write to the cache")
	}
	ref, _ := te.eng.tracker.Get(pool)
	if want := now.Add(te.eng.cfg.RetryDelay); !ref.NextDue().Equal(want) {
		t.Fatalf("expected retry at %v, got %v", want, ref.NextDue())
	}

	te.caller.setFailAll(nil)
	te.caller.setState(pool.Address, reserves(amt(100), amt(200)))
	te.clock.Advance(te.eng.cfg.RetryDelay)
	te.runCycle(t)

	if _, ok := te.eng.cache.Get(pool); !ok {
		t.Fatalf("retry after transport failure did not refresh")
	}
}

func TestBlockUnchangedExtendsOnly(t *testing.T) {
	source := newTestRegistry()
	token := addr(0x01)
	pool := addPairRoute(source, token, usdx, addr(0x10))

	te := newTestEngine(Config{}, source)
	te.caller.setBlock(7)
	te.caller.setState(pool.Address, reserves(amt(100), amt(200)))
	te.eng.tracker.RegisterInterest(testNetwork, []common.Address{token})

	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)

	te.clock.Advance(te.eng.cfg.HighInterval)
	now := te.clock.Now()
	te.runCycle(t)

	entry, _ := te.eng.cache.Get(pool)
	if entry.Block != 7 || entry.Tick != 1 {
		t.Fatalf("unchanged block must keep block and tick, got block=%d tick=%d", entry.Block, entry.Tick)
	}
	if !entry.ObservedAt.Equal(now) {
		t.Fatalf("expected observed at %v, got %v", now, entry.ObservedAt)
	}
	if want := now.Add(te.eng.cfg.CacheTTL); !entry.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, entry.ExpiresAt)
	}
}

func TestTierFollowsVolatility(t *testing.T) {
	source := newTestRegistry()
	token := addr(0x01)
	pool := addPairRoute(source, token, usdx, addr(0x10))

	te := newTestEngine(Config{}, source)
	te.caller.setState(pool.Address, reserves(amt(100), amt(200)))
	te.eng.tracker.RegisterInterest(testNetwork, []common.Address{token})

	// First refresh has no baseline price; the pool stays at tier high.
	te.clock.Advance(te.eng.cfg.HighInterval)
	te.runCycle(t)
	ref, _ := te.eng.tracker.Get(pool)
	if ref.Tier() != model.TierHigh {
		t.Fatalf("first refresh must keep tier high, got %s", ref.Tier())
	}

	// 0.02 percent move demotes to low.
	te.caller.setBlock(2)
	te.caller.setState(pool.Address, reserves(amt(100), new(big.Int).Mul(big.NewInt(20004), big.NewInt(1e16))))
	te.clock.Advance(te.eng.cfg.HighInterval)
	now := te.clock.Now()
	te.runCycle(t)
	if ref.Tier() != model.TierLow {
		t.Fatalf("expected tier low after 0.02%% move, got %s", ref.Tier())
	}
	if want := now.Add(te.eng.cfg.LowInterval); !ref.NextDue().Equal(want) {
		t.Fatalf("expected next due %v, got %v", want, ref.NextDue())
	}

	// A large jump promotes back to high.
	te.caller.setBlock(3)
	te.caller.setState(pool.Address, reserves(amt(100), amt(300)))
	te.clock.Advance(te.eng.cfg.LowInterval)
	te.runCycle(t)
	if ref.Tier() != model.TierHigh {
		t.Fatalf("expected tier high after large move, got %s", ref.Tier())
	}
}

func TestTierForChange(t *testing.T) {
	cases := []struct {
		name string
		prev string
		cur  string
		want model.Tier
	}{
		{"no baseline", "0", "2", model.TierHigh},
		{"unchanged", "2", "2", model.TierLow},
		{"tiny move", "2", "2.0004", model.TierLow},
		{"exactly threshold low", "2", "2.002", model.TierLow},
		{"moderate move", "2", "2.03", model.TierNormal},
		{"exactly threshold high", "2", "2.1", model.TierNormal},
		{"large move", "2", "2.11", model.TierHigh},
		{"large move down", "2", "1.5", model.TierHigh},
	}
	for _, tc := range cases {
		prev := decimal.RequireFromString(tc.prev)
		cur := decimal.RequireFromString(tc.cur)
		if got := tierForChange(prev, cur); got != tc.want {
			t.Fatalf("%s: tierForChange(%s, %s) = %s, want %s", tc.name, tc.prev, tc.cur, got, tc.want)
		}
	}
}
