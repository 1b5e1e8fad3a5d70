package engine

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
	"pricewatch/internal/registry"
)

var (
	// ErrNoRoute means the token has no pre-indexed pricing path.
	ErrNoRoute = errors.New("no pricing route for token")
	// ErrNoPrice means no hop of the token's route has live cached state.
	ErrNoPrice = errors.New("no cached state on any route hop")
	// ErrInconsistentTick means the requested tokens resolved through
	// pools refreshed in different cycles; retry next cycle.
	ErrInconsistentTick = errors.New("cached prices span multiple refresh ticks")
)

var (
	one = decimal.NewFromInt(1)
	q96 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)
)

// Pricer resolves USD prices from cached pool state and registry routes.
// It owns no mutable state and never waits on an in-flight refresh: the
// answer always comes from whatever is currently cached.
type Pricer struct {
	source registry.Source
	cache  *Cache
	clock  Clock
}

func NewPricer(source registry.Source, cache *Cache, clock Clock) *Pricer {
	return &Pricer{source: source, cache: cache, clock: clock}
}

// PriceOf returns the token's current USD price. Stable assets are 1.0
// by definition, without a cache lookup. A missing route or a route with
// no live cached hop is an explicit ErrNoRoute/ErrNoPrice outcome, never
// a panic and never a discovery side effect.
func (p *Pricer) PriceOf(network uint64, token common.Address) (decimal.Decimal, error) {
	price, _, err := p.resolve(network, token, model.MaxRouteHops)
	return price, err
}

// ConsistentPricesOf resolves prices for several tokens and additionally
// requires every cached hop involved to carry the same tick id, i.e. to
// have been refreshed in the same scheduling cycle. Mixed ticks return
// ErrInconsistentTick so the caller retries next cycle rather than
// displaying mixed-epoch values. Tokens that cannot be priced are simply
// omitted from the result.
func (p *Pricer) ConsistentPricesOf(network uint64, tokens []common.Address) (map[common.Address]decimal.Decimal, error) {
	prices := make(map[common.Address]decimal.Decimal, len(tokens))
	ticks := make(map[uint64]struct{})
	for _, token := range tokens {
		price, hopTicks, err := p.resolve(network, token, model.MaxRouteHops)
		if err != nil {
			continue
		}
		prices[token] = price
		for _, tick := range hopTicks {
			ticks[tick] = struct{}{}
		}
	}
	if len(ticks) > 1 {
		return nil, ErrInconsistentTick
	}
	return prices, nil
}

func (p *Pricer) resolve(network uint64, token common.Address, budget int) (decimal.Decimal, []uint64, error) {
	if p.source.IsStable(network, token) {
		return one, nil, nil
	}
	if budget <= 0 {
		return decimal.Zero, nil, ErrNoPrice
	}
	route, ok := p.source.Routes(network, token)
	if !ok {
		return decimal.Zero, nil, ErrNoRoute
	}

	now := p.clock.Now()
	hop, entry, ok := p.pickHop(network, token, route, now)
	if !ok {
		return decimal.Zero, nil, ErrNoPrice
	}

	hopPrice, err := p.hopPrice(network, token, hop, entry)
	if err != nil {
		return decimal.Zero, nil, err
	}
	ticks := []uint64{entry.Tick}

	if p.source.IsStable(network, hop.Base) {
		return hopPrice, ticks, nil
	}

	// Non-stable base: continue through the route's own second hop if it
	// covers the base, otherwise fall back to the base token's own route.
	if next, nextEntry, ok := p.continuation(network, hop.Base, route, now); ok {
		basePrice, err := p.hopPrice(network, hop.Base, next, nextEntry)
		if err != nil {
			return decimal.Zero, nil, err
		}
		if !p.source.IsStable(network, next.Base) {
			return decimal.Zero, nil, ErrNoPrice
		}
		return hopPrice.Mul(basePrice), append(ticks, nextEntry.Tick), nil
	}

	basePrice, baseTicks, err := p.resolve(network, hop.Base, budget-1)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return hopPrice.Mul(basePrice), append(ticks, baseTicks...), nil
}

// pickHop chooses the hop to price the token through: prefer a hop whose
// base is itself a stable asset and whose pool has a live entry, then any
// hop with a live entry.
func (p *Pricer) pickHop(network uint64, token common.Address, route model.Route, now time.Time) (model.Hop, model.CacheEntry, bool) {
	var (
		fallback      model.Hop
		fallbackEntry model.CacheEntry
		haveFallback  bool
	)
	for _, hop := range route.Hops {
		if !hop.Contains(token) {
			continue
		}
		entry, ok := p.cache.Get(hop.Pool)
		if !ok || entry.Expired(now) {
			continue
		}
		if p.source.IsStable(network, hop.Base) {
			return hop, entry, true
		}
		if !haveFallback {
			fallback, fallbackEntry, haveFallback = hop, entry, true
		}
	}
	return fallback, fallbackEntry, haveFallback
}

// continuation finds a later hop of the same route that prices base.
func (p *Pricer) continuation(network uint64, base common.Address, route model.Route, now time.Time) (model.Hop, model.CacheEntry, bool) {
	for _, hop := range route.Hops {
		if !hop.Contains(base) || hop.Base == base {
			continue
		}
		entry, ok := p.cache.Get(hop.Pool)
		if !ok || entry.Expired(now) {
			continue
		}
		return hop, entry, true
	}
	return model.Hop{}, model.CacheEntry{}, false
}

// hopPrice returns the price of token in units of the hop's base asset,
// oriented by which side of the pool the token sits on.
func (p *Pricer) hopPrice(network uint64, token common.Address, hop model.Hop, entry model.CacheEntry) (decimal.Decimal, error) {
	if !hop.Contains(token) {
		return decimal.Zero, fmt.Errorf("route hop pool %s does not contain token %s", hop.Pool, token.Hex())
	}
	dec0 := p.source.Decimals(network, hop.Token0)
	dec1 := p.source.Decimals(network, hop.Token1)
	raw, err := midPrice(entry.State, dec0, dec1)
	if err != nil {
		return decimal.Zero, err
	}
	if token == hop.Token0 {
		return raw, nil
	}
	if raw.IsZero() {
		return decimal.Zero, fmt.Errorf("zero mid price in pool %s", hop.Pool)
	}
	return one.Div(raw), nil
}

// midPrice computes the pool's token1-per-token0 mid price from raw
// state, adjusted for token decimals. This is the kind-specific pricing
// math the scheduler also uses for volatility tracking.
func midPrice(state model.PoolState, dec0, dec1 uint8) (decimal.Decimal, error) {
	switch s := state.(type) {
	case model.ReserveState:
		if s.Reserve0 == nil || s.Reserve1 == nil {
			return decimal.Zero, fmt.Errorf("nil reserves")
		}
		if s.Reserve0.Sign() <= 0 || s.Reserve1.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("empty reserves")
		}
		r0 := decimal.NewFromBigInt(s.Reserve0, -int32(dec0))
		r1 := decimal.NewFromBigInt(s.Reserve1, -int32(dec1))
		return r1.Div(r0), nil
	case model.SqrtPriceState:
		if s.SqrtPriceX96 == nil || s.SqrtPriceX96.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("empty sqrt price")
		}
		sqrt := decimal.NewFromBigInt(s.SqrtPriceX96, 0).Div(q96)
		return sqrt.Mul(sqrt).Shift(int32(dec0) - int32(dec1)), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported pool state %T", state)
	}
}
