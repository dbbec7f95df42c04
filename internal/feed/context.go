package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Directions
const (
	DirectionRising  = "RISING"
	DirectionFalling = "FALLING"
	DirectionFlat    = "FLAT"
)

// Momentum states
const (
	MomentumAccelerating = "ACCELERATING"
	MomentumDecelerating = "DECELERATING"
	MomentumStable       = "STABLE"
)

// flatBandPct is the ±% band treated as FLAT over the 1 minute window
var flatBandPct = decimal.NewFromFloat(0.05)

// Change is a price move over one lookback window
type Change struct {
	Dollars decimal.Decimal `json:"dollars"`
	Percent decimal.Decimal `json:"percent"`
	OK      bool            `json:"ok"`
}

// Context is the derived view of the price history the policies consume
type Context struct {
	Available        bool            `json:"available"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	Bid              decimal.Decimal `json:"bid"`
	Ask              decimal.Decimal `json:"ask"`
	Direction        string          `json:"direction"`
	Momentum         string          `json:"momentum"`
	Change1m         Change          `json:"change1m"`
	Change3m         Change          `json:"change3m"`
	Change5m         Change          `json:"change5m"`
	Change10m        Change          `json:"change10m"`
	RecentVolatility decimal.Decimal `json:"recentVolatility"`
}

// Context derives direction, momentum and windowed changes from the history
func (c *Client) Context() Context {
	c.mu.RLock()
	history := make([]Sample, len(c.history))
	copy(history, c.history)
	now := c.now()
	c.mu.RUnlock()

	return deriveContext(history, now)
}

func deriveContext(history []Sample, now time.Time) Context {
	ctx := Context{Direction: DirectionFlat, Momentum: MomentumStable, RecentVolatility: decimal.Zero}
	if len(history) == 0 {
		return ctx
	}

	last := history[len(history)-1]
	ctx.CurrentPrice = last.Price
	ctx.Bid = last.Bid
	ctx.Ask = last.Ask
	ctx.Available = now.Sub(last.Time) <= availableWithin
	if !ctx.Available {
		return ctx
	}

	ctx.Change1m = changeOver(history, now, 60*time.Second)
	ctx.Change3m = changeOver(history, now, 180*time.Second)
	ctx.Change5m = changeOver(history, now, 300*time.Second)
	ctx.Change10m = changeOver(history, now, 600*time.Second)

	if ctx.Change1m.OK {
		switch {
		case ctx.Change1m.Percent.GreaterThan(flatBandPct):
			ctx.Direction = DirectionRising
		case ctx.Change1m.Percent.LessThan(flatBandPct.Neg()):
			ctx.Direction = DirectionFalling
		}
	}

	if ctx.Change1m.OK && ctx.Change3m.OK && !ctx.Change3m.Percent.IsZero() {
		short := ctx.Change1m.Percent.Abs()
		baseline := ctx.Change3m.Percent.Abs().Div(decimal.NewFromInt(3))
		switch {
		case short.GreaterThan(baseline.Mul(decimal.NewFromInt(2))):
			ctx.Momentum = MomentumAccelerating
		case short.LessThan(baseline.Mul(decimal.NewFromFloat(0.3))):
			ctx.Momentum = MomentumDecelerating
		}
	}

	ctx.RecentVolatility = volatilityOver(history, now, 30*time.Second)
	return ctx
}

// changeOver computes current minus the reference price W ago. The reference
// is the newest sample at or before the cutoff; a sample exactly at the
// cutoff belongs to the older partition.
func changeOver(history []Sample, now time.Time, window time.Duration) Change {
	cutoff := now.Add(-window)
	current := history[len(history)-1].Price

	var ref *Sample
	for i := range history {
		if history[i].Time.After(cutoff) {
			break
		}
		ref = &history[i]
	}
	if ref == nil {
		return Change{}
	}

	diff := current.Sub(ref.Price)
	ch := Change{Dollars: diff, OK: true}
	if !ref.Price.IsZero() {
		ch.Percent = diff.Div(ref.Price).Mul(decimal.NewFromInt(100))
	}
	return ch
}

// volatilityOver is max minus min price over the trailing window
func volatilityOver(history []Sample, now time.Time, window time.Duration) decimal.Decimal {
	cutoff := now.Add(-window)
	var min, max decimal.Decimal
	seen := false

	for _, s := range history {
		if s.Time.Before(cutoff) {
			continue
		}
		if !seen {
			min, max = s.Price, s.Price
			seen = true
			continue
		}
		if s.Price.LessThan(min) {
			min = s.Price
		}
		if s.Price.GreaterThan(max) {
			max = s.Price
		}
	}
	if !seen {
		return decimal.Zero
	}
	return max.Sub(min)
}

// ContextText renders a human-readable snapshot for the LLM policy prompt
func (c *Client) ContextText() string {
	ctx := c.Context()
	if !ctx.Available {
		return "Reference price feed unavailable (no fresh samples)."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current price: $%s (bid $%s / ask $%s)\n",
		ctx.CurrentPrice.StringFixed(2), ctx.Bid.StringFixed(2), ctx.Ask.StringFixed(2))
	fmt.Fprintf(&b, "Direction: %s, momentum: %s\n", ctx.Direction, ctx.Momentum)
	writeChange(&b, "1m", ctx.Change1m)
	writeChange(&b, "3m", ctx.Change3m)
	writeChange(&b, "5m", ctx.Change5m)
	writeChange(&b, "10m", ctx.Change10m)
	fmt.Fprintf(&b, "30s volatility (high-low): $%s", ctx.RecentVolatility.StringFixed(2))
	return b.String()
}

func writeChange(b *strings.Builder, label string, ch Change) {
	if !ch.OK {
		fmt.Fprintf(b, "Change %s: n/a\n", label)
		return
	}
	fmt.Fprintf(b, "Change %s: $%s (%s%%)\n", label, ch.Dollars.StringFixed(2), ch.Percent.StringFixed(3))
}
