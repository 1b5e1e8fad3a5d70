package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// provider is one dialed RPC endpoint.
type provider struct {
	url       string
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// Client fans batched state reads out across a fixed set of providers.
// Provider selection is by index; callers distribute load, the client
// only executes.
type Client struct {
	providers []*provider
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient dials every provider URL. All must be reachable at startup.
func NewClient(ctx context.Context, urls []string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one provider url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := make([]*provider, 0, len(urls))
	for _, url := range urls {
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			for _, p := range providers {
				p.rpcClient.Close()
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		providers = append(providers, &provider{
			url:       url,
			rpcClient: rpcClient,
			ethClient: ethclient.NewClient(rpcClient),
		})
	}

	return &Client{providers: providers, timeout: timeout, logger: logger}, nil
}

// Close closes every provider connection.
func (c *Client) Close() {
	for _, p := range c.providers {
		p.rpcClient.Close()
	}
}

// Providers returns the number of configured providers.
func (c *Client) Providers() int {
	return len(c.providers)
}

// ChainID returns the chain id reported by the first provider, for a
// startup sanity check against the configured network.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.providers[0].ethClient.ChainID(ctx)
}

func (c *Client) provider(index int) (*provider, error) {
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	if index < 0 {
		return nil, fmt.Errorf("negative provider index %d", index)
	}
	return c.providers[index%len(c.providers)], nil
}
