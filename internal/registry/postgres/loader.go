package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/model"
	"pricewatch/internal/registry"
)

// Loader reads the cold path's route and token tables into an in-memory
// registry. The hot path never writes back; the tables are owned by the
// discovery subsystem.
type Loader struct {
	pool *pgxpool.Pool
}

func NewLoader(ctx context.Context, dsn string) (*Loader, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Loader{pool: pool}, nil
}

func (l *Loader) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Load snapshots tokens and routes for a network into a Static source.
func (l *Loader) Load(ctx context.Context, network uint64) (*registry.Static, error) {
	static := registry.NewStatic()

	rows, err := l.pool.Query(ctx, `
		SELECT token_address, symbol, decimals, stable
		FROM tokens
		WHERE network = $1
	`, int64(network))
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	for rows.Next() {
		var (
			address  string
			symbol   string
			decimals int16
			stable   bool
		)
		if err := rows.Scan(&address, &symbol, &decimals, &stable); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if !common.IsHexAddress(address) {
			rows.Close()
			return nil, fmt.Errorf("malformed token address %q", address)
		}
		static.AddToken(network, model.TokenInfo{
			Address:  common.HexToAddress(address),
			Symbol:   symbol,
			Decimals: uint8(decimals),
			Stable:   stable,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	rows, err = l.pool.Query(ctx, `
		SELECT token_address, hop_index, pool_address, kind, weight, token0, token1, base_token
		FROM route_hops
		WHERE network = $1
		ORDER BY token_address, hop_index
	`, int64(network))
	if err != nil {
		return nil, fmt.Errorf("query route hops: %w", err)
	}
	defer rows.Close()

	routes := make(map[common.Address]model.Route)
	order := make([]common.Address, 0)
	for rows.Next() {
		var (
			tokenAddr string
			hopIndex  int32
			poolAddr  string
			kindName  string
			weight    int32
			token0    string
			token1    string
			base      string
		)
		if err := rows.Scan(&tokenAddr, &hopIndex, &poolAddr, &kindName, &weight, &token0, &token1, &base); err != nil {
			return nil, fmt.Errorf("scan route hop: %w", err)
		}
		kind, err := parseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("token %s hop %d: %w", tokenAddr, hopIndex, err)
		}
		addrs, err := parseAddresses(tokenAddr, poolAddr, token0, token1, base)
		if err != nil {
			return nil, fmt.Errorf("token %s hop %d: %w", tokenAddr, hopIndex, err)
		}

		token := addrs[0]
		route, ok := routes[token]
		if !ok {
			route = model.Route{Token: token}
			order = append(order, token)
		}
		route.Hops = append(route.Hops, model.Hop{
			Pool:   model.PoolKey{Network: network, Address: addrs[1]},
			Kind:   kind,
			Weight: int(weight),
			Token0: addrs[2],
			Token1: addrs[3],
			Base:   addrs[4],
		})
		routes[token] = route
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route hops: %w", err)
	}

	for _, token := range order {
		static.AddRoute(network, routes[token])
	}
	return static, nil
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

func parseAddresses(values ...string) ([]common.Address, error) {
	out := make([]common.Address, len(values))
	for i, value := range values {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid address %q", value)
		}
		out[i] = common.HexToAddress(value)
	}
	return out, nil
}
