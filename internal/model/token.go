package model

import "github.com/ethereum/go-ethereum/common"

// DefaultDecimals is assumed for tokens with no configured decimal count.
const DefaultDecimals uint8 = 18

// TokenInfo is static token metadata supplied by the cold path.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals"`
	Stable   bool           `json:"stable"`
}
