package model

import "github.com/ethereum/go-ethereum/common"

// Hop is one step of a pricing route: crossing Pool converts the priced
// token into Base, which is the pool side opposite the token.
type Hop struct {
	Pool   PoolKey
	Kind   Kind
	Weight int
	Token0 common.Address
	Token1 common.Address
	Base   common.Address
}

// Contains reports whether token sits on either side of the hop's pool.
func (h Hop) Contains(token common.Address) bool {
	return token == h.Token0 || token == h.Token1
}

// Route is a pre-computed pricing path for a token, at most two hops,
// produced by the cold path and treated as immutable here.
type Route struct {
	Token common.Address
	Hops  []Hop
}

// MaxRouteHops bounds route length; the cold path never indexes deeper
// paths.
const MaxRouteHops = 2
