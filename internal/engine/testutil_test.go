package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pricewatch/internal/chain"
	"pricewatch/internal/model"
	"pricewatch/internal/registry"
)

const testNetwork = uint64(1)

var (
	usdx = addr(0xA0) // stable
	weth = addr(0xA1)
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func amt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// fakeClock is a manually advanced Clock. Its tickers never fire; tests
// drive cycles and sweeps directly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {}

// fakeCaller is a scripted chain.BatchCaller. It records every batch it
// receives and answers from per-pool state tables.
type fakeCaller struct {
	mu        sync.Mutex
	block     uint64
	states    map[common.Address]model.PoolState
	errs      map[common.Address]error
	failAll   error
	batches   [][]chain.Call
	providers []int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		block:  1,
		states: make(map[common.Address]model.PoolState),
		errs:   make(map[common.Address]error),
	}
}

func (f *fakeCaller) setBlock(block uint64) {
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()
}

func (f *fakeCaller) setState(pool common.Address, state model.PoolState) {
	f.mu.Lock()
	f.states[pool] = state
	f.mu.Unlock()
}

func (f *fakeCaller) setErr(pool common.Address, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.errs, pool)
	} else {
		f.errs[pool] = err
	}
	f.mu.Unlock()
}

func (f *fakeCaller) setFailAll(err error) {
	f.mu.Lock()
	f.failAll = err
	f.mu.Unlock()
}

func (f *fakeCaller) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeCaller) ExecuteBatch(_ context.Context, provider int, calls []chain.Call) ([]chain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recorded := make([]chain.Call, len(calls))
	copy(recorded, calls)
	f.batches = append(f.batches, recorded)
	f.providers = append(f.providers, provider)

	if f.failAll != nil {
		return nil, f.failAll
	}

	results := make([]chain.Result, len(calls))
	for i, call := range calls {
		if err, ok := f.errs[call.Pool.Address]; ok {
			results[i] = chain.Result{Err: err}
			continue
		}
		state, ok := f.states[call.Pool.Address]
		if !ok {
			results[i] = chain.Result{Err: errors.New("no scripted state")}
			continue
		}
		results[i] = chain.Result{Block: f.block, State: state}
	}
	return results, nil
}

func newTestRegistry() *registry.Static {
	s := registry.NewStatic()
	s.AddToken(testNetwork, model.TokenInfo{Address: usdx, Symbol: "USDX", Decimals: 18, Stable: true})
	s.AddToken(testNetwork, model.TokenInfo{Address: weth, Symbol: "WETH", Decimals: 18})
	return s
}

// addPairRoute indexes a one-hop route pricing token against base via a
// constant-product pool with token as token0.
func addPairRoute(s *registry.Static, token, base, pool common.Address) model.PoolKey {
	key := model.PoolKey{Network: testNetwork, Address: pool}
	s.AddRoute(testNetwork, model.Route{
		Token: token,
		Hops: []model.Hop{{
			Pool:   key,
			Kind:   model.KindReserves,
			Token0: token,
			Token1: base,
			Base:   base,
		}},
	})
	return key
}

type testEngine struct {
	clock  *fakeClock
	caller *fakeCaller
	source *registry.Static
	eng    *Engine
}

func newTestEngine(cfg Config, source *registry.Static) *testEngine {
	clock := newFakeClock()
	caller := newFakeCaller()
	return &testEngine{
		clock:  clock,
		caller: caller,
		source: source,
		eng:    New(cfg, source, caller, clock, nil, nil),
	}
}

// runCycle runs one scheduling cycle and waits for all of its batches.
func (te *testEngine) runCycle(t *testing.T) {
	t.Helper()
	te.eng.scheduler.RunCycle(context.Background())
	te.eng.scheduler.Wait()
}
