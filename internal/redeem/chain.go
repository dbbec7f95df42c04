// chain.go - RPC connectivity and the chain access seam.
package redeem

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// fallbackRPCs are probed when the configured endpoint is unreachable
var fallbackRPCs = []string{
	"https://polygon-rpc.com",
	"https://rpc.ankr.com/polygon",
	"https://polygon.llamarpc.com",
}

const (
	probeTimeout   = 5 * time.Second
	receiptTimeout = 2 * time.Minute
	receiptPoll    = 3 * time.Second
)

// Backend is the subset of the RPC client the engine needs. ethclient.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// dialFunc lets tests stub the RPC dialer
type dialFunc func(ctx context.Context, url string) (Backend, error)

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

// connectBackend probes the primary endpoint then the fallbacks and returns
// the first that answers a chain-id query. When nothing answers, the primary
// connection is returned anyway so per-call errors surface downstream.
func connectBackend(ctx context.Context, dial dialFunc, primary string) (Backend, error) {
	urls := append([]string{primary}, fallbackRPCs...)

	var first Backend
	for _, url := range urls {
		client, err := dial(ctx, url)
		if err != nil {
			log.Debug().Str("rpc", url).Err(err).Msg("RPC dial failed")
			continue
		}
		if first == nil && url == primary {
			first = client
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		_, err = client.ChainID(probeCtx)
		cancel()
		if err == nil {
			if url != primary {
				log.Warn().Str("rpc", url).Msg("🔌 Using fallback RPC endpoint")
			}
			return client, nil
		}
		log.Debug().Str("rpc", url).Err(err).Msg("RPC probe failed")
	}

	if first != nil {
		return first, nil
	}
	return nil, fmt.Errorf("no RPC endpoint reachable")
}

// waitReceipt polls for the transaction receipt until mined or timeout
func waitReceipt(ctx context.Context, backend Backend, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt wait timed out for %s", txHash.Hex())
		case <-time.After(receiptPoll):
		}
	}
}

// callView executes a read-only contract call and returns the unpacked
// result values
func callView(ctx context.Context, backend Backend, contractABI abi.ABI, target common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := backend.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	results, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return results, nil
}
