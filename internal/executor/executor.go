// Package executor turns a policy decision into a signed order on the book.
//
// Execution never returns an error to the coordinator: every attempt, placed,
// rejected or dry-run, becomes a trade record with the outcome inside it.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
	"github.com/polyagent/updown/internal/clob"
	"github.com/polyagent/updown/internal/market"
	"github.com/polyagent/updown/internal/policy"
)

// fallbackPrice stands in when neither buy nor mid price is known
var fallbackPrice = decimal.NewFromFloat(0.5)

// RetryPolicy controls resubmission after venue rejects
type RetryPolicy struct {
	MaxAttempts int
	SoftBackoff time.Duration // per attempt, business rejects
	HardBackoff time.Duration // per attempt, 403 / geoblock rejects
}

// DefaultRetryPolicy matches the venue's observed reject cadence
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	SoftBackoff: 3 * time.Second,
	HardBackoff: 5 * time.Second,
}

// Executor places orders for one asset's windows
type Executor struct {
	clob   *clob.Client
	signer *clob.OrderSigner
	bus    *activity.Bus
	retry  RetryPolicy
	dryRun bool

	sleep func(context.Context, time.Duration)
}

// New creates an executor. A nil signer forces dry-run behavior.
func New(c *clob.Client, signer *clob.OrderSigner, bus *activity.Bus, retry RetryPolicy, dryRun bool) *Executor {
	return &Executor{
		clob:   c,
		signer: signer,
		bus:    bus,
		retry:  retry,
		dryRun: dryRun || signer == nil,
		sleep:  sleepCtx,
	}
}

// Execute places the order the decision calls for and records the trade.
// SKIP decisions and zero sizes never reach here.
func (e *Executor) Execute(ctx context.Context, snap *market.Snapshot, decision policy.Decision, size decimal.Decimal) activity.Trade {
	m := snap.Market

	token, data, side := pickSide(snap, decision.Action)
	price := entryPrice(data, m.TickSize)
	shares := sharesFor(size, price)

	trade := activity.Trade{
		Action:        decision.Action,
		Side:          side,
		TokenID:       token.TokenID,
		ConditionID:   m.ConditionID,
		Size:          size,
		Price:         price,
		Shares:        shares,
		Result:        activity.ResultPending,
		Question:      m.Question,
		MarketEndTime: m.EndTime,
		NegRisk:       m.NegRisk,
	}

	if shares.IsZero() {
		trade.Result = activity.ResultFailed
		trade.Error = "computed share count is zero"
		return e.bus.RecordTrade(trade)
	}

	if e.dryRun {
		trade.OrderID = "dry-run"
		log.Info().
			Str("side", side).
			Str("price", price.StringFixed(3)).
			Str("shares", shares.StringFixed(2)).
			Msg("📝 Dry run - order not sent")
		return e.bus.RecordTrade(trade)
	}

	orderID, err := e.placeWithRetry(ctx, token.TokenID, price, shares)
	if err != nil {
		trade.Result = activity.ResultFailed
		trade.Error = err.Error()
		log.Error().Err(err).Str("side", side).Msg("❌ Order failed")
		return e.bus.RecordTrade(trade)
	}

	trade.OrderID = orderID
	log.Info().
		Str("order_id", orderID).
		Str("side", side).
		Str("price", price.StringFixed(3)).
		Str("shares", shares.StringFixed(2)).
		Str("size", size.StringFixed(2)).
		Msg("✅ Order placed")
	return e.bus.RecordTrade(trade)
}

// placeWithRetry signs and submits, backing off between reject attempts.
// Backoff scales linearly with the attempt number.
func (e *Executor) placeWithRetry(ctx context.Context, tokenID string, price, shares decimal.Decimal) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		signed, err := e.signer.SignedBuy(tokenID, price, shares)
		if err != nil {
			return "", fmt.Errorf("sign order: %w", err)
		}

		resp, err := e.clob.SubmitOrder(signed, "GTC")
		if err == nil {
			return resp.OrderID, nil
		}
		lastErr = err

		reject, ok := err.(*clob.RejectError)
		if !ok {
			// transport errors are not worth resubmitting into
			return "", err
		}

		if attempt == e.retry.MaxAttempts {
			break
		}
		backoff := e.retry.SoftBackoff * time.Duration(attempt)
		if reject.Hard {
			backoff = e.retry.HardBackoff * time.Duration(attempt)
		}
		log.Warn().
			Int("attempt", attempt).
			Bool("hard", reject.Hard).
			Dur("backoff", backoff).
			Str("message", truncateMsg(reject.Message)).
			Msg("⏳ Order rejected, retrying")
		e.sleep(ctx, backoff)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// pickSide maps the decision action to token, data and side label
func pickSide(snap *market.Snapshot, action string) (market.Token, market.TokenData, string) {
	if action == policy.ActionBuyNo {
		return snap.Market.DownToken(), snap.NoToken, "NO"
	}
	return snap.Market.UpToken(), snap.YesToken, "YES"
}

// entryPrice is the best-ask buy price when known, the mid as fallback,
// and 0.5 as the last resort. Always rounds up to the tick so the limit
// stays marketable; a mid-tick quote costs at most one tick extra.
func entryPrice(data market.TokenData, tick decimal.Decimal) decimal.Decimal {
	price := fallbackPrice
	switch {
	case data.Price.Buy != nil:
		price = *data.Price.Buy
	case data.Price.Mid != nil:
		price = *data.Price.Mid
	}
	if tick.IsPositive() {
		price = price.Div(tick).Ceil().Mul(tick)
	}
	return price
}

// sharesFor converts dollars to shares, floored to 2 decimals
func sharesFor(size, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return size.Div(price).RoundDown(2)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncateMsg(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		return s[:160] + "..."
	}
	return s
}
