// Package redeem tracks resolved positions and claims their collateral
// on chain.
//
// The queue is the in-memory ledger of pending claims; the engine walks it
// once per cycle and moves entries through their lifecycle.
package redeem

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// historySize bounds the terminal-entry ring
const historySize = 20

// Redemption statuses
const (
	StatusWaiting   = "waiting"
	StatusRedeeming = "redeeming"
	StatusRedeemed  = "redeemed"
	StatusNoPayout  = "no_payout"
	StatusError     = "error"
)

// Pending is one position awaiting redemption
type Pending struct {
	ConditionID   string          `json:"conditionId"`
	TokenID       string          `json:"tokenId"`
	Question      string          `json:"question"`
	MarketEndTime time.Time       `json:"marketEndTime"`
	NegRisk       bool            `json:"negRisk"`
	Size          decimal.Decimal `json:"size"`   // dollars spent
	Shares        decimal.Decimal `json:"shares"` // outcome tokens held
	Status        string          `json:"status"`
	AddedAt       time.Time       `json:"addedAt"`
	ResolvedAt    time.Time       `json:"resolvedAt,omitempty"`
	Payout        decimal.Decimal `json:"payout"`
	TxHash        string          `json:"txHash,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// key identifies an entry across its lifecycle: the condition id when
// present, otherwise the token id. Entries carrying neither cannot be
// tracked or redeemed.
func (p Pending) key() string {
	if p.ConditionID != "" {
		return p.ConditionID
	}
	return p.TokenID
}

// Totals summarizes redemption outcomes for the dashboard
type Totals struct {
	Waiting       int             `json:"waiting"`
	Redeemed      int             `json:"redeemed"`
	NoPayout      int             `json:"noPayout"`
	Errors        int             `json:"errors"`
	TotalRedeemed decimal.Decimal `json:"totalRedeemedDollars"`
}

// Queue holds pending claims plus a short history of finished ones
type Queue struct {
	mu      sync.Mutex
	pending []Pending
	history []Pending // terminal entries, newest first
	totals  Totals
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{totals: Totals{TotalRedeemed: decimal.Zero}}
}

// Add enqueues a position unless one with the same condition or token is
// already waiting. Entries without either identifier are rejected.
// Returns whether the entry was added.
func (q *Queue) Add(p Pending) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if p.key() == "" {
		return false
	}
	for _, existing := range q.pending {
		if existing.key() == p.key() || (p.TokenID != "" && existing.TokenID == p.TokenID) {
			return false
		}
	}

	p.Status = StatusWaiting
	p.AddedAt = time.Now()
	if p.Payout.IsZero() {
		p.Payout = decimal.Zero
	}
	q.pending = append(q.pending, p)
	return true
}

// Pending returns a copy of the waiting entries
func (q *Queue) Pending() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Pending, len(q.pending))
	copy(out, q.pending)
	return out
}

// History returns the recent terminal entries, newest first
func (q *Queue) History() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Pending, len(q.history))
	copy(out, q.history)
	return out
}

// Totals returns the aggregate counters
func (q *Queue) Totals() Totals {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.totals
	t.Waiting = len(q.pending)
	return t
}

// MarkRedeeming flags the entry as in flight
func (q *Queue) MarkRedeeming(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].key() == key {
			q.pending[i].Status = StatusRedeeming
			return
		}
	}
}

// Resolve moves an entry to a terminal status and into the history ring
func (q *Queue) Resolve(key, status string, payout decimal.Decimal, txHash, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.pending {
		if q.pending[i].key() != key {
			continue
		}
		entry := q.pending[i]
		entry.Status = status
		entry.ResolvedAt = time.Now()
		entry.Payout = payout
		entry.TxHash = txHash
		entry.Error = errMsg

		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.history = append([]Pending{entry}, q.history...)
		if len(q.history) > historySize {
			q.history = q.history[:historySize]
		}

		switch status {
		case StatusRedeemed:
			q.totals.Redeemed++
			q.totals.TotalRedeemed = q.totals.TotalRedeemed.Add(payout)
		case StatusNoPayout:
			q.totals.NoPayout++
		case StatusError:
			q.totals.Errors++
		}
		return
	}
}

// Requeue puts an in-flight entry back to waiting, used after transient
// chain errors that are worth retrying next cycle
func (q *Queue) Requeue(key, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].key() == key {
			q.pending[i].Status = StatusWaiting
			q.pending[i].Error = errMsg
			return
		}
	}
}
