// Package activity keeps the in-memory event, decision and trade logs.
//
// Three bounded rings, newest-first, no persistence. The dashboard reads
// them concurrently; every reader gets a copied snapshot.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxEntries bounds each ring
const maxEntries = 500

// Trade results
const (
	ResultPending = "pending"
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultFailed  = "failed"
)

// Entry is a generic activity log line
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// DecisionEntry records what a policy decided and why
type DecisionEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Asset      string    `json:"asset"`
	Action     string    `json:"action"`
	Confidence string    `json:"confidence"`
	Pattern    string    `json:"pattern"`
	Reasoning  string    `json:"reasoning"`
}

// Trade is the record built by the executor for every order attempt
type Trade struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Action        string          `json:"action"`
	Side          string          `json:"side"` // YES or NO
	TokenID       string          `json:"tokenId"`
	ConditionID   string          `json:"conditionId"`
	Size          decimal.Decimal `json:"size"`
	Price         decimal.Decimal `json:"price"`
	Shares        decimal.Decimal `json:"shares"`
	OrderID       string          `json:"orderId,omitempty"`
	Result        string          `json:"result"`
	Error         string          `json:"error,omitempty"`
	Question      string          `json:"question"`
	MarketEndTime time.Time       `json:"marketEndTime"`
	NegRisk       bool            `json:"negRisk"`
}

// Success reports whether the order made it onto the book
func (t Trade) Success() bool {
	return t.Result != ResultFailed && t.OrderID != ""
}

// Stats aggregates win/loss counts for the dashboard
type Stats struct {
	TotalTrades int             `json:"totalTrades"`
	Pending     int             `json:"pending"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	Failed      int             `json:"failed"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	WinRate     float64         `json:"winRate"`
}

// Bus holds the three rings behind one lock
type Bus struct {
	mu         sync.RWMutex
	activities []Entry
	decisions  []DecisionEntry
	trades     []Trade
}

// NewBus creates an empty activity bus
func NewBus() *Bus {
	return &Bus{
		activities: make([]Entry, 0, maxEntries),
		decisions:  make([]DecisionEntry, 0, maxEntries),
		trades:     make([]Trade, 0, maxEntries),
	}
}

// LogActivity appends an event and returns it with id/timestamp assigned
func (b *Bus) LogActivity(typ, message string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      typ,
		Message:   message,
	}

	b.mu.Lock()
	b.activities = prepend(b.activities, e)
	b.mu.Unlock()
	return e
}

// LogDecision appends a decision record
func (b *Bus) LogDecision(d DecisionEntry) DecisionEntry {
	d.ID = uuid.NewString()
	d.Timestamp = time.Now()

	b.mu.Lock()
	b.decisions = prepend(b.decisions, d)
	b.mu.Unlock()
	return d
}

// RecordTrade appends a trade, assigning id/timestamp if unset
func (b *Bus) RecordTrade(t Trade) Trade {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.trades = prepend(b.trades, t)
	b.mu.Unlock()
	return t
}

// UpdateTrade mutates a stored trade in place; used for result reconciliation
func (b *Bus) UpdateTrade(id string, patch func(*Trade)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.trades {
		if b.trades[i].ID == id {
			patch(&b.trades[i])
			return true
		}
	}
	return false
}

// Activities returns the most recent limit entries, newest first
func (b *Bus) Activities(limit int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return head(b.activities, limit)
}

// Decisions returns the most recent limit decisions, newest first
func (b *Bus) Decisions(limit int) []DecisionEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return head(b.decisions, limit)
}

// Trades returns the most recent limit trades, newest first
func (b *Bus) Trades(limit int) []Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return head(b.trades, limit)
}

// Stats aggregates over all recorded trades
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{TotalSpent: decimal.Zero}
	for _, t := range b.trades {
		s.TotalTrades++
		switch t.Result {
		case ResultPending:
			s.Pending++
		case ResultWin:
			s.Wins++
		case ResultLoss:
			s.Losses++
		case ResultFailed:
			s.Failed++
		}
		if t.Result != ResultFailed {
			s.TotalSpent = s.TotalSpent.Add(t.Size)
		}
	}
	if resolved := s.Wins + s.Losses; resolved > 0 {
		s.WinRate = float64(s.Wins) / float64(resolved) * 100
	}
	return s
}

// prepend inserts newest-first and evicts the oldest past the bound
func prepend[T any](list []T, v T) []T {
	list = append([]T{v}, list...)
	if len(list) > maxEntries {
		list = list[:maxEntries]
	}
	return list
}

func head[T any](list []T, limit int) []T {
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]T, limit)
	copy(out, list[:limit])
	return out
}
