// Package bot runs the trading loop: one serial tick that strings together
// safety checks, market discovery, the decision policy, execution and
// redemption.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/market"
	"github.com/polyagent/updown/internal/policy"
	"github.com/polyagent/updown/internal/redeem"
	"github.com/polyagent/updown/internal/safety"
)

// Seams the coordinator drives; the concrete types satisfy them and tests
// substitute fakes.
type (
	// MarketScanner discovers the live window
	MarketScanner interface {
		ScanMarkets() []market.Market
	}

	// SnapshotFetcher assembles the full market view
	SnapshotFetcher interface {
		FetchFullMarketData(ctx context.Context, m market.Market) *market.Snapshot
	}

	// FeedSource exposes the derived reference-price context
	FeedSource interface {
		Context() feed.Context
	}

	// OrderExecutor places the order a decision calls for
	OrderExecutor interface {
		Execute(ctx context.Context, snap *market.Snapshot, decision policy.Decision, size decimal.Decimal) activity.Trade
	}

	// Redeemer claims resolved positions
	Redeemer interface {
		CheckAndRedeem(ctx context.Context)
	}

	// Notifier pushes trade events out of band
	Notifier interface {
		NotifyTrade(trade activity.Trade)
	}
)

// Status is the coordinator state exposed on the dashboard
type Status struct {
	Running         bool                `json:"isRunning"`
	Strategy        string              `json:"strategy"`
	Asset           string              `json:"asset"`
	LastScanTime    time.Time           `json:"lastScanTime"`
	LastSpikeStatus *policy.SpikeResult `json:"lastSpikeStatus,omitempty"`
	Safety          safety.State        `json:"safety"`
}

// Coordinator owns the scan loop
type Coordinator struct {
	asset         string
	scanInterval  time.Duration
	maxEntryPrice decimal.Decimal

	bus      *activity.Bus
	ledger   *safety.Ledger
	feed     FeedSource
	scanner  MarketScanner
	fetcher  SnapshotFetcher
	strategy policy.Strategy
	spike    *policy.SpikeDetector // non-nil in spike mode, acts as the preamble
	executor OrderExecutor
	queue    *redeem.Queue
	redeemer Redeemer
	notifier Notifier

	tickMu sync.Mutex // serializes ticks

	mu        sync.Mutex
	running   bool
	lastScan  time.Time
	lastSpike *policy.SpikeResult
	scanNow   chan struct{}
	stop      chan struct{}
}

// Deps collects the coordinator's collaborators
type Deps struct {
	Asset         string
	ScanInterval  time.Duration
	MaxEntryPrice decimal.Decimal

	Bus      *activity.Bus
	Ledger   *safety.Ledger
	Feed     FeedSource
	Scanner  MarketScanner
	Fetcher  SnapshotFetcher
	Strategy policy.Strategy
	Spike    *policy.SpikeDetector
	Executor OrderExecutor
	Queue    *redeem.Queue
	Redeemer Redeemer
	Notifier Notifier
}

// New creates a stopped coordinator
func New(d Deps) *Coordinator {
	return &Coordinator{
		asset:         d.Asset,
		scanInterval:  d.ScanInterval,
		maxEntryPrice: d.MaxEntryPrice,
		bus:           d.Bus,
		ledger:        d.Ledger,
		feed:          d.Feed,
		scanner:       d.Scanner,
		fetcher:       d.Fetcher,
		strategy:      d.Strategy,
		spike:         d.Spike,
		executor:      d.Executor,
		queue:         d.Queue,
		redeemer:      d.Redeemer,
		notifier:      d.Notifier,
		scanNow:       make(chan struct{}, 1),
	}
}

// Start launches the scan loop; no-op when already running
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	log.Info().
		Str("asset", c.asset).
		Str("strategy", c.strategy.Name()).
		Dur("interval", c.scanInterval).
		Msg("🚀 Bot started")
	c.bus.LogActivity("bot", "bot started")

	go c.loop(ctx, stop)
}

// Stop halts the loop at the next tick boundary
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	log.Info().Msg("🛑 Bot stopped")
	c.bus.LogActivity("bot", "bot stopped")
}

// Running reports whether the loop is active
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ScanNow triggers an immediate tick
func (c *Coordinator) ScanNow() {
	select {
	case c.scanNow <- struct{}{}:
	default:
	}
}

// Status returns the dashboard view
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Running:         c.running,
		Strategy:        c.strategy.Name(),
		Asset:           c.asset,
		LastScanTime:    c.lastScan,
		LastSpikeStatus: c.lastSpike,
		Safety:          c.ledger.Snapshot(),
	}
}

func (c *Coordinator) loop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(c.scanInterval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.Tick(ctx)
		case <-c.scanNow:
			c.Tick(ctx)
		}
	}
}

// Tick runs one scan cycle. Overlapping invocations queue behind the mutex;
// the running flag is re-checked inside so Stop takes effect at the boundary.
func (c *Coordinator) Tick(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	running := c.running
	c.lastScan = time.Now()
	c.mu.Unlock()
	if !running {
		return
	}

	c.trade(ctx)
	c.redeemer.CheckAndRedeem(ctx)
}

// trade is the decision half of the tick; redemption always runs after it
func (c *Coordinator) trade(ctx context.Context) {
	verdict := c.ledger.CanTrade()
	if !verdict.Allowed {
		log.Debug().Str("reason", verdict.Reason).Msg("Trading paused")
		c.bus.LogActivity("safety", "trading paused: "+verdict.Reason)
		return
	}

	feedCtx := c.feed.Context()

	// Spike mode decides before touching the market; no spike means no work
	var preamble *policy.Decision
	if c.spike != nil {
		result := c.spike.Detect(feedCtx)
		c.mu.Lock()
		c.lastSpike = &result
		c.mu.Unlock()
		if !result.Detected {
			return
		}
		d := c.spike.Decide(ctx, nil, feedCtx)
		preamble = &d
	}

	markets := c.scanner.ScanMarkets()
	if len(markets) == 0 {
		log.Debug().Msg("No tradable window")
		return
	}
	m := markets[0]

	windowKey := safety.WindowKey(m.EndTime)
	if c.ledger.HasTraded(c.asset, windowKey) {
		log.Debug().Str("window", windowKey).Msg("Window already traded")
		return
	}

	snap := c.fetcher.FetchFullMarketData(ctx, m)
	if !snap.HasQuote() {
		log.Warn().Str("slug", m.Slug).Msg("No quotes on either side, skipping window")
		return
	}

	var decision policy.Decision
	if preamble != nil {
		decision = *preamble
	} else {
		decision = c.strategy.Decide(ctx, snap, feedCtx)
	}
	decision = decision.Normalize()

	c.bus.LogDecision(activity.DecisionEntry{
		Asset:      c.asset,
		Action:     decision.Action,
		Confidence: decision.Confidence,
		Pattern:    decision.Pattern,
		Reasoning:  decision.Reasoning,
	})
	if decision.Action == policy.ActionSkip {
		return
	}

	if !c.entryPriceOK(snap, decision.Action) {
		log.Info().Str("action", decision.Action).Msg("💲 Entry price above limit, skipping")
		c.bus.LogActivity("trade", "entry price above limit, skipped")
		return
	}

	// limits may have tripped while the policy ran
	if verdict := c.ledger.CanTrade(); !verdict.Allowed {
		c.bus.LogActivity("safety", "trading paused: "+verdict.Reason)
		return
	}
	size := c.ledger.TradeSize(decision.Confidence)
	if !size.IsPositive() {
		log.Debug().Str("confidence", decision.Confidence).Msg("Zero size, skipping")
		return
	}

	trade := c.executor.Execute(ctx, snap, decision, size)
	if c.notifier != nil {
		c.notifier.NotifyTrade(trade)
	}
	if !trade.Success() {
		return
	}

	c.ledger.RecordTrade(size)
	c.ledger.MarkTraded(c.asset, windowKey)
	c.queue.Add(redeem.Pending{
		ConditionID:   m.ConditionID,
		TokenID:       trade.TokenID,
		Question:      m.Question,
		MarketEndTime: m.EndTime,
		NegRisk:       m.NegRisk,
		Size:          size,
		Shares:        trade.Shares,
	})
	c.bus.LogActivity("trade", fmt.Sprintf("placed %s $%s on %s",
		trade.Side, size.StringFixed(2), m.Question))
}

// entryPriceOK enforces the entry gate on the chosen side's mid
func (c *Coordinator) entryPriceOK(snap *market.Snapshot, action string) bool {
	data := snap.YesToken
	if action == policy.ActionBuyNo {
		data = snap.NoToken
	}
	if data.Price.Mid == nil {
		// no mid on the chosen side, fall back to the other side's complement
		other := snap.NoToken
		if action == policy.ActionBuyNo {
			other = snap.YesToken
		}
		if other.Price.Mid == nil {
			return false
		}
		implied := decimal.NewFromInt(1).Sub(*other.Price.Mid)
		return implied.LessThanOrEqual(c.maxEntryPrice)
	}
	return data.Price.Mid.LessThanOrEqual(c.maxEntryPrice)
}
