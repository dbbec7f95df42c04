// Package safety is the gatekeeper: daily counters, per-window dedup,
// kill switch and trade sizing. No trade happens without its approval.
package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
)

// Confidence levels used for sizing
const (
	ConfidenceLow    = "LOW"
	ConfidenceMedium = "MEDIUM"
	ConfidenceHigh   = "HIGH"
)

// Limits configures the ledger
type Limits struct {
	MaxTradeSize   decimal.Decimal
	DailyLossLimit decimal.Decimal
	MaxDailyLosses int
}

// Verdict is the result of a CanTrade check
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// State is a read-only snapshot of the ledger for the dashboard
type State struct {
	KillSwitch       bool            `json:"killSwitch"`
	DailyLoss        decimal.Decimal `json:"dailyLossDollars"`
	DailySpent       decimal.Decimal `json:"dailySpentDollars"`
	DailyTradeCount  int             `json:"dailyTradeCount"`
	DailyWinCount    int             `json:"dailyWinCount"`
	DailyLossCount   int             `json:"dailyLossCount"`
	LastResetDate    string          `json:"lastResetDate"`
	DailyLossLimit   decimal.Decimal `json:"dailyLossLimit"`
	MaxDailyLosses   int             `json:"maxDailyLosses"`
	MaxTradeSize     decimal.Decimal `json:"maxTradeSize"`
	TradedWindowKeys []string        `json:"tradedWindows"`
}

// Ledger tracks everything that can stop the bot from trading.
// Single writer discipline: all mutations go through its methods.
type Ledger struct {
	mu     sync.Mutex
	limits Limits
	bus    *activity.Bus

	killSwitch    bool
	dailyLoss     decimal.Decimal
	dailySpent    decimal.Decimal
	dailyTrades   int
	dailyWins     int
	dailyLosses   int
	lastResetDate string // local calendar date YYYY-MM-DD
	tradedWindows map[string]bool

	now func() time.Time
}

// NewLedger creates a ledger with fresh daily counters
func NewLedger(limits Limits, bus *activity.Bus) *Ledger {
	l := &Ledger{
		limits:        limits,
		bus:           bus,
		dailyLoss:     decimal.Zero,
		dailySpent:    decimal.Zero,
		tradedWindows: make(map[string]bool),
		now:           time.Now,
	}
	l.lastResetDate = l.now().Format("2006-01-02")
	return l
}

// SetClock overrides the time source; tests only
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// CanTrade reports whether a new trade is currently allowed
func (l *Ledger) CanTrade() Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()

	switch {
	case l.killSwitch:
		return Verdict{Allowed: false, Reason: "kill switch engaged"}
	case l.dailyLoss.GreaterThanOrEqual(l.limits.DailyLossLimit):
		return Verdict{Allowed: false, Reason: fmt.Sprintf("daily loss limit reached ($%s)", l.dailyLoss.StringFixed(2))}
	case l.dailyLosses >= l.limits.MaxDailyLosses:
		return Verdict{Allowed: false, Reason: fmt.Sprintf("max daily losses reached (%d)", l.dailyLosses)}
	}
	return Verdict{Allowed: true}
}

// TradeSize maps policy confidence to a dollar size. HIGH gets the full
// configured size, MEDIUM half, LOW nothing. The result is clamped to the
// remaining loss budget for the day.
func (l *Ledger) TradeSize(confidence string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()

	var size decimal.Decimal
	switch confidence {
	case ConfidenceHigh:
		size = l.limits.MaxTradeSize
	case ConfidenceMedium:
		size = l.limits.MaxTradeSize.Div(decimal.NewFromInt(2))
	default:
		return decimal.Zero
	}

	budget := l.limits.DailyLossLimit.Sub(l.dailyLoss)
	if budget.IsNegative() {
		budget = decimal.Zero
	}
	if size.GreaterThan(budget) {
		size = budget
	}
	return size
}

// HasTraded reports whether this window was already traded
func (l *Ledger) HasTraded(asset, windowKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	return l.tradedWindows[asset+":"+windowKey]
}

// MarkTraded records the window as traded; idempotent
func (l *Ledger) MarkTraded(asset, windowKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	l.tradedWindows[asset+":"+windowKey] = true
}

// RecordTrade updates spend counters after an order is placed
func (l *Ledger) RecordTrade(dollars decimal.Decimal) {
	l.mu.Lock()
	l.resetDailyIfNeeded()
	l.dailyTrades++
	l.dailySpent = l.dailySpent.Add(dollars)
	l.mu.Unlock()

	l.logEvent(fmt.Sprintf("trade recorded: $%s", dollars.StringFixed(2)))
}

// RecordWin updates the win counter
func (l *Ledger) RecordWin(dollars decimal.Decimal) {
	l.mu.Lock()
	l.resetDailyIfNeeded()
	l.dailyWins++
	l.mu.Unlock()

	l.logEvent(fmt.Sprintf("win recorded: $%s", dollars.StringFixed(2)))
}

// RecordLoss updates the loss counters
func (l *Ledger) RecordLoss(dollars decimal.Decimal) {
	l.mu.Lock()
	l.resetDailyIfNeeded()
	l.dailyLosses++
	l.dailyLoss = l.dailyLoss.Add(dollars)
	l.mu.Unlock()

	l.logEvent(fmt.Sprintf("loss recorded: $%s", dollars.StringFixed(2)))
}

// ToggleKillSwitch flips the kill switch and returns the new value
func (l *Ledger) ToggleKillSwitch() bool {
	l.mu.Lock()
	l.killSwitch = !l.killSwitch
	v := l.killSwitch
	l.mu.Unlock()

	l.logEvent(fmt.Sprintf("kill switch: %v", v))
	log.Warn().Bool("engaged", v).Msg("🛑 Kill switch toggled")
	return v
}

// SetKillSwitch sets the kill switch explicitly
func (l *Ledger) SetKillSwitch(v bool) {
	l.mu.Lock()
	changed := l.killSwitch != v
	l.killSwitch = v
	l.mu.Unlock()

	if changed {
		l.logEvent(fmt.Sprintf("kill switch: %v", v))
	}
}

// Snapshot returns a copy of the current state
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()

	keys := make([]string, 0, len(l.tradedWindows))
	for k := range l.tradedWindows {
		keys = append(keys, k)
	}
	return State{
		KillSwitch:       l.killSwitch,
		DailyLoss:        l.dailyLoss,
		DailySpent:       l.dailySpent,
		DailyTradeCount:  l.dailyTrades,
		DailyWinCount:    l.dailyWins,
		DailyLossCount:   l.dailyLosses,
		LastResetDate:    l.lastResetDate,
		DailyLossLimit:   l.limits.DailyLossLimit,
		MaxDailyLosses:   l.limits.MaxDailyLosses,
		MaxTradeSize:     l.limits.MaxTradeSize,
		TradedWindowKeys: keys,
	}
}

// WindowKey derives the canonical UTC YYYYMMDD_HHMM key for a window end time
func WindowKey(endTime time.Time) string {
	return endTime.UTC().Format("20060102_1504")
}

// resetDailyIfNeeded clears counters when the local calendar day changes.
// Caller must hold the lock.
func (l *Ledger) resetDailyIfNeeded() {
	today := l.now().Format("2006-01-02")
	if today == l.lastResetDate {
		return
	}
	log.Info().Str("date", today).Msg("📅 New trading day - resetting limits")
	l.dailyLoss = decimal.Zero
	l.dailySpent = decimal.Zero
	l.dailyTrades = 0
	l.dailyWins = 0
	l.dailyLosses = 0
	l.tradedWindows = make(map[string]bool)
	l.lastResetDate = today
}

func (l *Ledger) logEvent(msg string) {
	if l.bus != nil {
		l.bus.LogActivity("safety", msg)
	}
}
