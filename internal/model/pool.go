package model

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies the AMM variant of a pool, which determines the shape
// and cost of its on-chain state query.
type Kind uint8

const (
	// KindReserves is a constant-product pool read via getReserves().
	KindReserves Kind = iota
	// KindSqrtPrice is a concentrated-liquidity pool read via slot0().
	KindSqrtPrice
)

func (k Kind) String() string {
	switch k {
	case KindReserves:
		return "reserves"
	case KindSqrtPrice:
		return "sqrtprice"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DefaultWeight returns the relative query cost of one state read for
// this kind. A slot0() read touches more state than getReserves().
func (k Kind) DefaultWeight() int {
	if k == KindSqrtPrice {
		return 2
	}
	return 1
}

// PoolKey uniquely identifies a pool as (network, address).
type PoolKey struct {
	Network uint64
	Address common.Address
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%d:%s", k.Network, k.Address.Hex())
}

// Less orders keys by network then address so batch assembly is stable
// and reproducible.
func (k PoolKey) Less(other PoolKey) bool {
	if k.Network != other.Network {
		return k.Network < other.Network
	}
	return bytes.Compare(k.Address.Bytes(), other.Address.Bytes()) < 0
}

// PoolState is the raw on-chain state needed to price a pool. It is a
// closed sum with exactly one variant per Kind; consumers dispatch on
// the concrete type.
type PoolState interface {
	Kind() Kind
}

// ReserveState holds the token reserves of a constant-product pool.
type ReserveState struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func (ReserveState) Kind() Kind { return KindReserves }

// SqrtPriceState holds the current sqrt price of a concentrated-liquidity
// pool, in Q64.96 fixed point.
type SqrtPriceState struct {
	SqrtPriceX96 *big.Int
}

func (SqrtPriceState) Kind() Kind { return KindSqrtPrice }

// Tier is the refresh cadence class assigned to a pool from its recent
// price volatility.
type Tier uint8

const (
	TierHigh Tier = iota
	TierNormal
	TierLow
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	case TierLow:
		return "low"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}
