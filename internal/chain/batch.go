package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"pricewatch/internal/model"
)

// Call is one pool state read inside a batch.
type Call struct {
	Pool model.PoolKey
	Kind model.Kind
}

// Result is the outcome of one Call. Either Err is set, or State and
// Block are. Block is the provider's head block at the time the batch
// was served, shared by every call in the batch.
type Result struct {
	Block uint64
	State model.PoolState
	Err   error
}

// BatchCaller executes one batch of pool state reads against a single
// provider in one round trip. A returned error means the whole batch
// failed; per-call failures are reported in the Results.
type BatchCaller interface {
	ExecuteBatch(ctx context.Context, provider int, calls []Call) ([]Result, error)
}

// ExecuteBatch sends one eth_blockNumber plus one eth_call per pool as a
// single JSON-RPC batch to the chosen provider.
func (c *Client) ExecuteBatch(ctx context.Context, provider int, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	p, err := c.provider(provider)
	if err != nil {
		return nil, err
	}

	var blockNum hexutil.Uint64
	elems := make([]rpc.BatchElem, 0, len(calls)+1)
	elems = append(elems, rpc.BatchElem{
		Method: "eth_blockNumber",
		Result: &blockNum,
	})

	outputs := make([]hexutil.Bytes, len(calls))
	for i, call := range calls {
		data, err := packStateCall(call.Kind)
		if err != nil {
			return nil, fmt.Errorf("pack call for %s: %w", call.Pool, err)
		}
		elems = append(elems, rpc.BatchElem{
			Method: "eth_call",
			Args: []interface{}{
				map[string]interface{}{
					"to":   call.Pool.Address,
					"data": hexutil.Encode(data),
				},
				"latest",
			},
			Result: &outputs[i],
		})
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := p.rpcClient.BatchCallContext(callCtx, elems); err != nil {
		return nil, fmt.Errorf("batch call via %s: %w", p.url, err)
	}
	if elems[0].Error != nil {
		return nil, fmt.Errorf("block number via %s: %w", p.url, elems[0].Error)
	}

	results := make([]Result, len(calls))
	for i, call := range calls {
		if elems[i+1].Error != nil {
			results[i] = Result{Err: elems[i+1].Error}
			continue
		}
		state, err := unpackState(call.Kind, outputs[i])
		if err != nil {
			c.logger.Warn("undecodable pool state",
				zap.String("pool", call.Pool.String()),
				zap.String("kind", call.Kind.String()),
				zap.Error(err),
			)
			results[i] = Result{Err: err}
			continue
		}
		results[i] = Result{Block: uint64(blockNum), State: state}
	}
	return results, nil
}

func packStateCall(kind model.Kind) ([]byte, error) {
	switch kind {
	case model.KindReserves:
		parsed, err := PairABI()
		if err != nil {
			return nil, err
		}
		return parsed.Pack("getReserves")
	case model.KindSqrtPrice:
		parsed, err := PoolABI()
		if err != nil {
			return nil, err
		}
		return parsed.Pack("slot0")
	default:
		return nil, fmt.Errorf("unsupported pool kind %s", kind)
	}
}

func unpackState(kind model.Kind, data []byte) (model.PoolState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty returndata")
	}
	switch kind {
	case model.KindReserves:
		parsed, err := PairABI()
		if err != nil {
			return nil, err
		}
		values, err := parsed.Unpack("getReserves", data)
		if err != nil {
			return nil, fmt.Errorf("unpack getReserves: %w", err)
		}
		if len(values) < 2 {
			return nil, fmt.Errorf("getReserves returned %d values", len(values))
		}
		reserve0, err := asBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("reserve0: %w", err)
		}
		reserve1, err := asBigInt(values[1])
		if err != nil {
			return nil, fmt.Errorf("reserve1: %w", err)
		}
		return model.ReserveState{Reserve0: reserve0, Reserve1: reserve1}, nil
	case model.KindSqrtPrice:
		parsed, err := PoolABI()
		if err != nil {
			return nil, err
		}
		values, err := parsed.Unpack("slot0", data)
		if err != nil {
			return nil, fmt.Errorf("unpack slot0: %w", err)
		}
		if len(values) < 1 {
			return nil, fmt.Errorf("slot0 returned no values")
		}
		sqrtPrice, err := asBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("sqrtPriceX96: %w", err)
		}
		return model.SqrtPriceState{SqrtPriceX96: sqrtPrice}, nil
	default:
		return nil, fmt.Errorf("unsupported pool kind %s", kind)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
