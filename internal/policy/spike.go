// spike.go - Deterministic spike detector.
//
// A spike is a reference-price move that clears both an absolute threshold
// and a speed threshold within one of the short lookback windows.
package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/market"
)

// highConfidenceSpeed promotes a spike to HIGH confidence, $/min
var highConfidenceSpeed = decimal.NewFromInt(30)

// SpikeResult describes the best spike found, if any
type SpikeResult struct {
	Detected      bool            `json:"detected"`
	Direction     string          `json:"direction"` // UP or DOWN
	WindowSeconds int             `json:"windowSeconds"`
	Dollars       decimal.Decimal `json:"dollars"`
	Speed         decimal.Decimal `json:"speed"` // $/min
}

// SpikeDetector is the deterministic fast-path strategy
type SpikeDetector struct {
	threshold decimal.Decimal // minimum |move| in dollars
	minSpeed  decimal.Decimal // minimum $/min
}

// NewSpikeDetector creates a detector with the given thresholds
func NewSpikeDetector(threshold, minSpeed decimal.Decimal) *SpikeDetector {
	return &SpikeDetector{threshold: threshold, minSpeed: minSpeed}
}

// Name implements Strategy
func (s *SpikeDetector) Name() string { return "spike" }

// Detect scans the 1/3/5-minute windows and keeps the fastest qualifying move
func (s *SpikeDetector) Detect(feedCtx feed.Context) SpikeResult {
	if !feedCtx.Available {
		return SpikeResult{}
	}

	windows := []struct {
		seconds int
		change  feed.Change
	}{
		{60, feedCtx.Change1m},
		{180, feedCtx.Change3m},
		{300, feedCtx.Change5m},
	}

	var best SpikeResult
	for _, w := range windows {
		if !w.change.OK {
			continue
		}
		move := w.change.Dollars.Abs()
		speed := move.Div(decimal.NewFromInt(int64(w.seconds)).Div(decimal.NewFromInt(60)))

		if move.LessThan(s.threshold) || speed.LessThan(s.minSpeed) {
			continue
		}
		if best.Detected && speed.LessThanOrEqual(best.Speed) {
			continue
		}

		direction := "UP"
		if w.change.Dollars.IsNegative() {
			direction = "DOWN"
		}
		best = SpikeResult{
			Detected:      true,
			Direction:     direction,
			WindowSeconds: w.seconds,
			Dollars:       w.change.Dollars,
			Speed:         speed,
		}
	}
	return best
}

// Decide implements Strategy
func (s *SpikeDetector) Decide(_ context.Context, _ *market.Snapshot, feedCtx feed.Context) Decision {
	spike := s.Detect(feedCtx)
	if !spike.Detected {
		return Skip("no qualifying price spike")
	}

	action := ActionBuyYes
	if spike.Direction == "DOWN" {
		action = ActionBuyNo
	}
	confidence := ConfidenceMedium
	if spike.Speed.GreaterThanOrEqual(highConfidenceSpeed) {
		confidence = ConfidenceHigh
	}

	log.Info().
		Str("direction", spike.Direction).
		Int("window_s", spike.WindowSeconds).
		Str("move", spike.Dollars.StringFixed(2)).
		Str("speed", spike.Speed.StringFixed(1)).
		Msg("⚡ Spike detected")

	return Decision{
		Action:     action,
		Confidence: confidence,
		Pattern:    fmt.Sprintf("spike_%ds", spike.WindowSeconds),
		Reasoning: fmt.Sprintf("$%s move in %ds (%s $/min)",
			spike.Dollars.StringFixed(2), spike.WindowSeconds, spike.Speed.StringFixed(1)),
	}.Normalize()
}
