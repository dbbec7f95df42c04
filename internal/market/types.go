// Package market discovers the live 15-minute up/down market and snapshots
// its order-book state for the decision policies.
package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/clob"
)

// Outcome labels for the binary token pair
const (
	OutcomeUp   = "Up"
	OutcomeDown = "Down"
)

// Token is one side of a binary market
type Token struct {
	TokenID string `json:"tokenId"` // uint256 decimal string
	Outcome string `json:"outcome"`
}

// Market is the per-cycle record of one prediction window
type Market struct {
	ConditionID string          `json:"conditionId"` // 32-byte hex
	Question    string          `json:"question"`
	Slug        string          `json:"slug"`
	Asset       string          `json:"asset"`
	EndTime     time.Time       `json:"endTime"`
	Tokens      [2]Token        `json:"tokens"` // [0]=Up, [1]=Down
	NegRisk     bool            `json:"negRisk"`
	TickSize    decimal.Decimal `json:"tickSize"`
}

// MinutesLeft until the window resolves
func (m Market) MinutesLeft(now time.Time) float64 {
	return m.EndTime.Sub(now).Minutes()
}

// UpToken returns the Up-outcome token
func (m Market) UpToken() Token { return m.Tokens[0] }

// DownToken returns the Down-outcome token
func (m Market) DownToken() Token { return m.Tokens[1] }

// TokenPrice is the buy/sell/mid view of one token
type TokenPrice struct {
	Buy *decimal.Decimal `json:"buy"`
	Sel *decimal.Decimal `json:"sell"`
	Mid *decimal.Decimal `json:"mid"`
}

// BookSummary condenses an order book to what the policies look at
type BookSummary struct {
	Bids        []clob.BookLevel `json:"bids"`
	Asks        []clob.BookLevel `json:"asks"`
	BidVolume   decimal.Decimal  `json:"bidVol"`
	AskVolume   decimal.Decimal  `json:"askVol"`
	BidAskRatio decimal.Decimal  `json:"bidAskRatio"`
	BestBid     *decimal.Decimal `json:"bestBid"`
	BestAsk     *decimal.Decimal `json:"bestAsk"`
	Spread      *decimal.Decimal `json:"spread"`
}

// TokenData bundles the per-token market data
type TokenData struct {
	Price TokenPrice   `json:"price"`
	Book  *BookSummary `json:"book"`
}

// Snapshot is the full per-decision view of one market
type Snapshot struct {
	Market       Market              `json:"market"`
	YesToken     TokenData           `json:"yesToken"` // Up side
	NoToken      TokenData           `json:"noToken"`  // Down side
	PriceHistory []clob.HistoryPoint `json:"priceHistory"`
	FetchedAt    time.Time           `json:"fetchedAt"`
}

// HasQuote reports whether at least one side produced a mid price
func (s *Snapshot) HasQuote() bool {
	return s.YesToken.Price.Mid != nil || s.NoToken.Price.Mid != nil
}
