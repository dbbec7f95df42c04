// Package policy defines the decision contract and the built-in strategies.
//
// A strategy maps (market snapshot, feed context) to one of BUY_YES,
// BUY_NO or SKIP. Strategies are pure with respect to shared state; they
// may only log.
package policy

import (
	"context"

	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/market"
)

// Actions
const (
	ActionBuyYes = "BUY_YES"
	ActionBuyNo  = "BUY_NO"
	ActionSkip   = "SKIP"
)

// Confidence levels
const (
	ConfidenceLow    = "LOW"
	ConfidenceMedium = "MEDIUM"
	ConfidenceHigh   = "HIGH"
)

// Decision is the outcome of a policy evaluation
type Decision struct {
	Action     string `json:"action"`
	Confidence string `json:"confidence"`
	Pattern    string `json:"pattern"`
	Reasoning  string `json:"reasoning"`
}

// Skip builds a SKIP decision with the given reason
func Skip(reason string) Decision {
	return Decision{Action: ActionSkip, Confidence: ConfidenceLow, Reasoning: reason}
}

// Normalize collapses unknown enum values and enforces LOW ⇒ SKIP
func (d Decision) Normalize() Decision {
	switch d.Action {
	case ActionBuyYes, ActionBuyNo, ActionSkip:
	default:
		d.Action = ActionSkip
	}
	switch d.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		d.Confidence = ConfidenceLow
	}
	if d.Confidence == ConfidenceLow {
		d.Action = ActionSkip
	}
	return d
}

// Strategy is the pluggable decision policy
type Strategy interface {
	Name() string
	Decide(ctx context.Context, snapshot *market.Snapshot, feedCtx feed.Context) Decision
}
