package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"pricewatch/internal/model"
)

// fileDocument is the JSON shape exported by the cold path.
type fileDocument struct {
	Networks []fileNetwork `json:"networks"`
}

type fileNetwork struct {
	Network uint64            `json:"network"`
	Tokens  []model.TokenInfo `json:"tokens"`
	Routes  []fileRoute       `json:"routes"`
}

type fileRoute struct {
	Token string     `json:"token"`
	Hops  []fileHop  `json:"hops"`
}

type fileHop struct {
	Pool   string `json:"pool"`
	Kind   string `json:"kind"`
	Weight int    `json:"weight,omitempty"`
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
	Base   string `json:"base"`
}

// LoadFile reads a cold-path route export into a Static source.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}

	static := NewStatic()
	for _, network := range doc.Networks {
		for _, token := range network.Tokens {
			static.AddToken(network.Network, token)
		}
		for _, route := range network.Routes {
			parsed, err := parseRoute(network.Network, route)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", route.Token, err)
			}
			static.AddRoute(network.Network, parsed)
		}
	}
	return static, nil
}

func parseRoute(network uint64, route fileRoute) (model.Route, error) {
	token, err := parseAddress(route.Token)
	if err != nil {
		return model.Route{}, err
	}
	if len(route.Hops) == 0 || len(route.Hops) > model.MaxRouteHops {
		return model.Route{}, fmt.Errorf("route must have 1..%d hops, got %d", model.MaxRouteHops, len(route.Hops))
	}

	parsed := model.Route{Token: token}
	for _, hop := range route.Hops {
		kind, err := parseKind(hop.Kind)
		if err != nil {
			return model.Route{}, err
		}
		pool, err := parseAddress(hop.Pool)
		if err != nil {
			return model.Route{}, err
		}
		token0, err := parseAddress(hop.Token0)
		if err != nil {
			return model.Route{}, err
		}
		token1, err := parseAddress(hop.Token1)
		if err != nil {
			return model.Route{}, err
		}
		base, err := parseAddress(hop.Base)
		if err != nil {
			return model.Route{}, err
		}
		if base != token0 && base != token1 {
			return model.Route{}, fmt.Errorf("base %s is not a side of pool %s", hop.Base, hop.Pool)
		}
		parsed.Hops = append(parsed.Hops, model.Hop{
			Pool:   model.PoolKey{Network: network, Address: pool},
			Kind:   kind,
			Weight: hop.Weight,
			Token0: token0,
			Token1: token1,
			Base:   base,
		})
	}
	return parsed, nil
}

func parseKind(name string) (model.Kind, error) {
	switch name {
	case "reserves":
		return model.KindReserves, nil
	case "sqrtprice":
		return model.KindSqrtPrice, nil
	default:
		return 0, fmt.Errorf("unknown pool kind %q", name)
	}
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}
