// contracts.go - Contract addresses, ABIs and calldata helpers for the
// redemption path (Polygon mainnet).
package redeem

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Polygon contract addresses
const (
	conditionalTokensAddr = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	negRiskAdapterAddr    = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"
	usdcAddr              = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	proxyFactoryAddr      = "0xaacFeEa03eb1561C4e67d661e40682Bd20E3541b"
)

const conditionalTokensABI = `[
	{"inputs":[{"name":"conditionId","type":"bytes32"}],"name":"payoutDenominator","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"id","type":"uint256"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const negRiskAdapterABI = `[
	{"inputs":[],"name":"wcol","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const proxyFactoryABI = `[
	{"inputs":[{"name":"owner","type":"address"}],"name":"computeProxyAddress","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const safeABI = `[
	{"inputs":[],"name":"getOwners","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getThreshold","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"nonce","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},{"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},{"name":"_nonce","type":"uint256"}],"name":"getTransactionHash","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},{"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},{"name":"signatures","type":"bytes"}],"name":"execTransaction","outputs":[{"name":"","type":"bool"}],"stateMutability":"payable","type":"function"}
]`

// Receipt log topics checked during verification
var (
	topicExecutionSuccess = crypto.Keccak256Hash([]byte("ExecutionSuccess(bytes32,uint256)"))
	topicExecutionFailure = crypto.Keccak256Hash([]byte("ExecutionFailure(bytes32,uint256)"))
	topicTransfer         = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// contracts holds the parsed ABIs, built once per engine
type contracts struct {
	ctf     abi.ABI
	negRisk abi.ABI
	factory abi.ABI
	safe    abi.ABI
}

func newContracts() (*contracts, error) {
	ctf, err := abi.JSON(strings.NewReader(conditionalTokensABI))
	if err != nil {
		return nil, fmt.Errorf("parse conditional tokens ABI: %w", err)
	}
	negRisk, err := abi.JSON(strings.NewReader(negRiskAdapterABI))
	if err != nil {
		return nil, fmt.Errorf("parse neg-risk adapter ABI: %w", err)
	}
	factory, err := abi.JSON(strings.NewReader(proxyFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse proxy factory ABI: %w", err)
	}
	safe, err := abi.JSON(strings.NewReader(safeABI))
	if err != nil {
		return nil, fmt.Errorf("parse safe ABI: %w", err)
	}
	return &contracts{ctf: ctf, negRisk: negRisk, factory: factory, safe: safe}, nil
}

// packRedeem encodes redeemPositions(collateral, 0x0, conditionId, [1,2]).
// Both the adapter and the plain contract share the signature.
func (c *contracts) packRedeem(target abi.ABI, collateral common.Address, conditionID common.Hash) ([]byte, error) {
	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}
	return target.Pack("redeemPositions", collateral, common.Hash{}, conditionID, indexSets)
}

// NormalizeConditionID canonicalizes a condition id to a 32-byte hash.
// Accepts 0x-prefixed hex, bare hex and decimal forms; idempotent on its
// own output.
func NormalizeConditionID(raw string) (common.Hash, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Hash{}, fmt.Errorf("empty condition id")
	}

	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if isHex(hexPart) && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") || len(hexPart) > 40) {
		if len(hexPart) > 64 {
			return common.Hash{}, fmt.Errorf("condition id %q exceeds 32 bytes", raw)
		}
		// left-pad short hex
		return common.HexToHash("0x" + strings.Repeat("0", 64-len(hexPart)) + hexPart), nil
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("condition id %q is neither hex nor decimal", raw)
	}
	if n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("condition id %q exceeds 32 bytes", raw)
	}
	return common.BigToHash(n), nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
