// engine.go - Walks the pending queue and claims resolved positions on chain.
//
// The engine runs once per coordinator tick behind a boolean latch. Every
// failure is tolerated: transient chain errors leave entries waiting for the
// next tick, definitive outcomes move them to history.
package redeem

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
)

const (
	polygonChainID = 137
	redeemGasLimit = 500_000

	// positions become candidates this long after the window closes
	redeemGrace = 2 * time.Minute
)

// gasPriceMultiplier doubles the suggested price so claims land promptly
var gasPriceMultiplier = big.NewInt(2)

// Notifier receives redemption outcomes; nil disables notifications
type Notifier interface {
	NotifyRedemption(question, status string, payout decimal.Decimal)
}

// Engine claims winning positions through the conditional-tokens contracts
type Engine struct {
	queue      *Queue
	bus        *activity.Bus
	notifier   Notifier
	contracts  *contracts
	privateKey *ecdsa.PrivateKey
	signerAddr common.Address
	knownProxy string
	rpcURL     string

	isChecking atomic.Bool

	mu           sync.Mutex
	backend      Backend
	proxy        *common.Address
	proxyChecked bool
	wrappedCol   *common.Address

	dial dialFunc
	now  func() time.Time
}

// NewEngine creates the redemption engine. A nil private key yields a
// disabled engine whose CheckAndRedeem is a no-op.
func NewEngine(queue *Queue, bus *activity.Bus, privateKey *ecdsa.PrivateKey, knownProxy, rpcURL string) (*Engine, error) {
	c, err := newContracts()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		queue:      queue,
		bus:        bus,
		contracts:  c,
		privateKey: privateKey,
		knownProxy: knownProxy,
		rpcURL:     rpcURL,
		dial:       dialEthclient,
		now:        time.Now,
	}
	if privateKey != nil {
		e.signerAddr = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return e, nil
}

// SetNotifier attaches an outcome notifier
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Enabled reports whether on-chain redemption is configured
func (e *Engine) Enabled() bool { return e.privateKey != nil }

// SignerAddress returns the redeeming EOA, zero when disabled
func (e *Engine) SignerAddress() common.Address { return e.signerAddr }

// ProxyAddress returns the verified proxy wallet if one was discovered
func (e *Engine) ProxyAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proxy == nil {
		return ""
	}
	return e.proxy.Hex()
}

// CheckAndRedeem processes due pending entries. Re-entrant calls return
// immediately.
func (e *Engine) CheckAndRedeem(ctx context.Context) {
	if !e.Enabled() {
		return
	}
	if !e.isChecking.CompareAndSwap(false, true) {
		return
	}
	defer e.isChecking.Store(false)

	now := e.now()
	var due []Pending
	for _, p := range e.queue.Pending() {
		if p.Status == StatusWaiting && !now.Before(p.MarketEndTime.Add(redeemGrace)) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return
	}

	backend, err := e.connect(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⛓️ No RPC endpoint reachable, deferring redemption")
		return
	}

	proxy := e.discoverProxy(ctx, backend)
	wcol := e.wrappedCollateral(ctx, backend)

	log.Info().Int("due", len(due)).Msg("⛓️ Checking pending redemptions")
	for _, p := range due {
		e.processEntry(ctx, backend, proxy, wcol, p)
	}
}

// connect returns the cached backend after re-checking its health, or
// probes the endpoint list for a live one. A cached endpoint that stops
// answering is dropped so the fallbacks get their turn.
func (e *Engine) connect(ctx context.Context) (Backend, error) {
	e.mu.Lock()
	cached := e.backend
	e.mu.Unlock()

	if cached != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		_, err := cached.ChainID(probeCtx)
		cancel()
		if err == nil {
			return cached, nil
		}
		log.Warn().Err(err).Msg("⛓️ Cached RPC endpoint stopped answering, reconnecting")
		e.mu.Lock()
		if e.backend == cached {
			e.backend = nil
		}
		e.mu.Unlock()
	}

	backend, err := connectBackend(ctx, e.dial, e.rpcURL)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.backend = backend
	e.mu.Unlock()
	return backend, nil
}

// wrappedCollateral reads wcol() from the neg-risk adapter, nil when the
// read fails. Cached after the first success.
func (e *Engine) wrappedCollateral(ctx context.Context, backend Backend) *common.Address {
	e.mu.Lock()
	if e.wrappedCol != nil {
		w := e.wrappedCol
		e.mu.Unlock()
		return w
	}
	e.mu.Unlock()

	results, err := callView(ctx, backend, e.contracts.negRisk, common.HexToAddress(negRiskAdapterAddr), "wcol")
	if err != nil {
		log.Debug().Err(err).Msg("Wrapped collateral read failed")
		return nil
	}
	addr := results[0].(common.Address)

	e.mu.Lock()
	e.wrappedCol = &addr
	e.mu.Unlock()
	return &addr
}

func (e *Engine) processEntry(ctx context.Context, backend Backend, proxy, wcol *common.Address, p Pending) {
	conditionID, err := NormalizeConditionID(p.key())
	if err != nil {
		e.finish(p, StatusError, decimal.Zero, "", "", err.Error())
		return
	}

	denomRes, err := callView(ctx, backend, e.contracts.ctf, common.HexToAddress(conditionalTokensAddr),
		"payoutDenominator", conditionID)
	if err != nil {
		log.Debug().Err(err).Str("condition", p.key()).Msg("Payout denominator read failed, retrying next tick")
		return
	}
	if denomRes[0].(*big.Int).Sign() == 0 {
		log.Debug().Str("question", p.Question).Msg("Market not yet resolved")
		return
	}

	holder := e.signerAddr
	if proxy != nil {
		holder = *proxy
	}
	balance, err := e.tokenBalance(ctx, backend, holder, p.TokenID)
	if err != nil {
		log.Debug().Err(err).Str("condition", p.key()).Msg("Balance read failed, retrying next tick")
		return
	}
	if balance.Sign() == 0 {
		log.Info().Str("question", p.Question).Msg("💸 Position resolved worthless")
		e.finish(p, StatusNoPayout, decimal.Zero, "", "", "")
		return
	}

	e.queue.MarkRedeeming(p.key())
	txHash, via, err := e.redeemWithFallback(ctx, backend, proxy, wcol, p, conditionID)
	if err != nil {
		if isNoPayoutError(err) {
			e.finish(p, StatusNoPayout, decimal.Zero, "", "", err.Error())
			return
		}
		if isTransientChainError(err) {
			log.Warn().Err(err).Str("question", p.Question).Msg("⛓️ Transient chain error, retrying next tick")
			e.queue.Requeue(p.key(), err.Error())
			return
		}
		e.finish(p, StatusError, decimal.Zero, "", "", err.Error())
		return
	}

	payout := p.Shares
	if payout.IsZero() {
		payout = p.Size
	}
	log.Info().
		Str("question", p.Question).
		Str("tx", txHash).
		Str("via", via).
		Str("payout", payout.StringFixed(2)).
		Msg("💰 Position redeemed")
	e.finish(p, StatusRedeemed, payout, txHash, via, "")
}

// redeemWithFallback walks the contract ladder: the neg-risk adapter first
// for neg-risk positions, then the plain conditional-tokens contract.
// Returns the tx hash and the name of the rung that landed it.
func (e *Engine) redeemWithFallback(ctx context.Context, backend Backend, proxy, wcol *common.Address, p Pending, conditionID common.Hash) (string, string, error) {
	type attempt struct {
		name       string
		target     common.Address
		targetABI  abi.ABI
		collateral common.Address
	}

	var attempts []attempt
	if p.NegRisk && wcol != nil {
		attempts = append(attempts, attempt{
			name:       "neg-risk adapter",
			target:     common.HexToAddress(negRiskAdapterAddr),
			targetABI:  e.contracts.negRisk,
			collateral: *wcol,
		})
	}
	attempts = append(attempts, attempt{
		name:       "conditional tokens",
		target:     common.HexToAddress(conditionalTokensAddr),
		targetABI:  e.contracts.ctf,
		collateral: common.HexToAddress(usdcAddr),
	})

	var lastErr error
	for _, a := range attempts {
		innerData, err := e.contracts.packRedeem(a.targetABI, a.collateral, conditionID)
		if err != nil {
			lastErr = err
			continue
		}

		txHash, err := e.submit(ctx, backend, proxy, a.target, innerData)
		if err != nil {
			log.Warn().Err(err).Str("via", a.name).Str("question", p.Question).Msg("Redemption attempt failed")
			lastErr = err
			continue
		}
		return txHash, a.name, nil
	}
	return "", "", lastErr
}

// submit sends the redemption transaction, wrapped through the proxy when
// one exists, and verifies the mined receipt
func (e *Engine) submit(ctx context.Context, backend Backend, proxy *common.Address, target common.Address, innerData []byte) (string, error) {
	to := target
	data := innerData
	if proxy != nil {
		wrapped, err := e.buildSafeExecData(ctx, backend, *proxy, target, innerData)
		if err != nil {
			return "", fmt.Errorf("build safe exec: %w", err)
		}
		to = *proxy
		data = wrapped
	}

	nonce, err := backend.PendingNonceAt(ctx, e.signerAddr)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice = new(big.Int).Mul(gasPrice, gasPriceMultiplier)

	tx := types.NewTransaction(nonce, to, big.NewInt(0), redeemGasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	receipt, err := waitReceipt(ctx, backend, signedTx.Hash())
	if err != nil {
		return "", err
	}
	if err := verifyReceipt(receipt, proxy); err != nil {
		return "", err
	}
	return signedTx.Hash().Hex(), nil
}

// verifyReceipt inspects the mined receipt. Through a proxy the outer
// transaction succeeds even when the inner call fails, so the proxy's
// ExecutionSuccess/ExecutionFailure events are authoritative.
func verifyReceipt(receipt *types.Receipt, proxy *common.Address) error {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction reverted")
	}
	if proxy == nil {
		return nil
	}

	sawSuccess := false
	sawTransfer := false
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch {
		case l.Address == *proxy && l.Topics[0] == topicExecutionFailure:
			return fmt.Errorf("proxy inner call failed")
		case l.Address == *proxy && l.Topics[0] == topicExecutionSuccess:
			sawSuccess = true
		case l.Topics[0] == topicTransfer:
			sawTransfer = true
		}
	}
	if !sawSuccess {
		return fmt.Errorf("no ExecutionSuccess event from proxy")
	}
	if !sawTransfer {
		log.Debug().Str("tx", receipt.TxHash.Hex()).Msg("No collateral transfer log, accepting ExecutionSuccess")
	}
	return nil
}

// tokenBalance reads the ERC-1155 balance of the outcome token
func (e *Engine) tokenBalance(ctx context.Context, backend Backend, holder common.Address, tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	results, err := callView(ctx, backend, e.contracts.ctf, common.HexToAddress(conditionalTokensAddr),
		"balanceOf", holder, id)
	if err != nil {
		return nil, err
	}
	return results[0].(*big.Int), nil
}

// finish moves the entry to a terminal state and logs the outcome
func (e *Engine) finish(p Pending, status string, payout decimal.Decimal, txHash, via, errMsg string) {
	e.queue.Resolve(p.key(), status, payout, txHash, errMsg)
	if e.notifier != nil {
		e.notifier.NotifyRedemption(p.Question, status, payout)
	}
	if e.bus == nil {
		return
	}
	switch status {
	case StatusRedeemed:
		e.bus.LogActivity("redemption", fmt.Sprintf("redeemed $%s via %s: %s", payout.StringFixed(2), via, p.Question))
	case StatusNoPayout:
		e.bus.LogActivity("redemption", fmt.Sprintf("no payout: %s", p.Question))
	case StatusError:
		e.bus.LogActivity("redemption", fmt.Sprintf("redemption error (%s): %s", errMsg, p.Question))
	}
}
