package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"pricewatch/internal/model"
)

// Source resolves tokens to their pre-computed pricing routes and static
// metadata. Implementations are read-only from the engine's point of
// view: route discovery, validation and quarantine belong to the cold
// path. A token with no route must never be forwarded into the engine.
type Source interface {
	// Routes returns the token's pricing route, at most two hops.
	Routes(network uint64, token common.Address) (model.Route, bool)
	// Decimals returns the token's configured decimal count,
	// model.DefaultDecimals if unknown.
	Decimals(network uint64, token common.Address) uint8
	// IsStable reports whether the token is a USD-pegged stable asset.
	IsStable(network uint64, token common.Address) bool
}

type tokenKey struct {
	network uint64
	address common.Address
}

// Static is an in-memory Source populated up front from a file, a
// database snapshot, or test fixtures.
type Static struct {
	mu     sync.RWMutex
	routes map[tokenKey]model.Route
	tokens map[tokenKey]model.TokenInfo
}

func NewStatic() *Static {
	return &Static{
		routes: make(map[tokenKey]model.Route),
		tokens: make(map[tokenKey]model.TokenInfo),
	}
}

// AddToken records token metadata for a network.
func (s *Static) AddToken(network uint64, info model.TokenInfo) {
	s.mu.Lock()
	s.tokens[tokenKey{network, info.Address}] = info
	s.mu.Unlock()
}

// AddRoute records a pricing route, truncated to model.MaxRouteHops.
// Hops with zero weight get their kind's default weight.
func (s *Static) AddRoute(network uint64, route model.Route) {
	if len(route.Hops) > model.MaxRouteHops {
		route.Hops = route.Hops[:model.MaxRouteHops]
	}
	for i := range route.Hops {
		if route.Hops[i].Weight <= 0 {
			route.Hops[i].Weight = route.Hops[i].Kind.DefaultWeight()
		}
	}
	s.mu.Lock()
	s.routes[tokenKey{network, route.Token}] = route
	s.mu.Unlock()
}

func (s *Static) Routes(network uint64, token common.Address) (model.Route, bool) {
	s.mu.RLock()
	route, ok := s.routes[tokenKey{network, token}]
	s.mu.RUnlock()
	return route, ok
}

func (s *Static) Decimals(network uint64, token common.Address) uint8 {
	s.mu.RLock()
	info, ok := s.tokens[tokenKey{network, token}]
	s.mu.RUnlock()
	if !ok {
		return model.DefaultDecimals
	}
	return info.Decimals
}

func (s *Static) IsStable(network uint64, token common.Address) bool {
	s.mu.RLock()
	info, ok := s.tokens[tokenKey{network, token}]
	s.mu.RUnlock()
	return ok && info.Stable
}
