// proxy.go - Safe proxy-wallet discovery and wrapped execution.
//
// Funded accounts on the venue usually hold positions through a 1-of-1 Safe
// proxy. Redemption then has to go through execTransaction with a
// pre-validated eth_sign style owner signature.
package redeem

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
)

// discoverProxy resolves the signer's proxy wallet, preferring the factory's
// deterministic address and falling back to a configured known address.
// Returns nil when no usable proxy exists; the signer then redeems directly.
func (e *Engine) discoverProxy(ctx context.Context, backend Backend) *common.Address {
	e.mu.Lock()
	if e.proxyChecked {
		p := e.proxy
		e.mu.Unlock()
		return p
	}
	e.mu.Unlock()

	proxy := e.resolveProxy(ctx, backend)

	e.mu.Lock()
	e.proxy = proxy
	e.proxyChecked = true
	e.mu.Unlock()

	if proxy != nil {
		log.Info().Str("proxy", proxy.Hex()).Msg("🔐 Proxy wallet verified")
	} else {
		log.Info().Str("signer", e.signerAddr.Hex()).Msg("🔐 No proxy wallet, redeeming from signer")
	}
	return proxy
}

func (e *Engine) resolveProxy(ctx context.Context, backend Backend) *common.Address {
	factory := common.HexToAddress(proxyFactoryAddr)

	results, err := callView(ctx, backend, e.contracts.factory, factory, "computeProxyAddress", e.signerAddr)
	if err == nil {
		computed := results[0].(common.Address)
		if e.verifySafe(ctx, backend, computed) {
			return &computed
		}
	} else {
		log.Debug().Err(err).Msg("Proxy address computation failed")
	}

	if e.knownProxy != "" {
		known := common.HexToAddress(e.knownProxy)
		code, err := backend.CodeAt(ctx, known, nil)
		if err == nil && len(code) > 0 {
			log.Debug().Str("proxy", known.Hex()).Msg("Using configured proxy wallet")
			return &known
		}
	}
	return nil
}

// verifySafe checks the address has code, lists the signer as an owner and
// has a threshold of one, the only shape a single key can drive
func (e *Engine) verifySafe(ctx context.Context, backend Backend, addr common.Address) bool {
	code, err := backend.CodeAt(ctx, addr, nil)
	if err != nil || len(code) == 0 {
		return false
	}

	owners, err := callView(ctx, backend, e.contracts.safe, addr, "getOwners")
	if err != nil {
		return false
	}
	isOwner := false
	for _, o := range owners[0].([]common.Address) {
		if o == e.signerAddr {
			isOwner = true
			break
		}
	}
	if !isOwner {
		log.Warn().Str("proxy", addr.Hex()).Msg("Signer is not a proxy owner")
		return false
	}

	thresholdRes, err := callView(ctx, backend, e.contracts.safe, addr, "getThreshold")
	if err != nil {
		return false
	}
	threshold := thresholdRes[0].(*big.Int)
	if threshold.Cmp(big.NewInt(1)) != 0 {
		log.Warn().Str("proxy", addr.Hex()).Str("threshold", threshold.String()).Msg("Proxy threshold is not 1")
		return false
	}
	return true
}

// buildSafeExecData wraps inner calldata in execTransaction with a signed
// transaction hash. The signature is the raw ECDSA over the Safe tx hash
// with v normalized to >= 27 then bumped by 4 to mark eth_sign semantics.
func (e *Engine) buildSafeExecData(ctx context.Context, backend Backend, proxy, to common.Address, innerData []byte) ([]byte, error) {
	nonceRes, err := callView(ctx, backend, e.contracts.safe, proxy, "nonce")
	if err != nil {
		return nil, err
	}
	nonce := nonceRes[0].(*big.Int)

	zero := big.NewInt(0)
	zeroAddr := common.Address{}
	hashRes, err := callView(ctx, backend, e.contracts.safe, proxy, "getTransactionHash",
		to, zero, innerData, uint8(0), zero, zero, zero, zeroAddr, zeroAddr, nonce)
	if err != nil {
		return nil, err
	}
	txHash := hashRes[0].([32]byte)

	signature, err := signSafeHash(e.privateKey, txHash)
	if err != nil {
		return nil, err
	}

	return e.contracts.safe.Pack("execTransaction",
		to, zero, innerData, uint8(0), zero, zero, zero, zeroAddr, zeroAddr, signature)
}

// signSafeHash produces the 65-byte owner signature with the eth_sign v bump
func signSafeHash(key *ecdsa.PrivateKey, hash [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return nil, fmt.Errorf("sign safe hash: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	sig[64] += 4
	return sig, nil
}

// isNoPayoutError classifies revert messages that mean the position simply
// has nothing to claim
func isNoPayoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "payout is zero") || strings.Contains(msg, "result is empty")
}

// isTransientChainError classifies submit failures that happened before or
// outside contract execution. These entries go back to waiting instead of
// a terminal error.
func isTransientChainError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"get nonce", "suggest gas price", "send tx", "receipt wait timed out"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
