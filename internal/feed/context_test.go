package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func sampleAt(offset time.Duration, price float64) Sample {
	return Sample{
		Price: decimal.NewFromFloat(price),
		Bid:   decimal.NewFromFloat(price - 1),
		Ask:   decimal.NewFromFloat(price + 1),
		Time:  t0.Add(offset),
	}
}

func TestContextEmptyHistory(t *testing.T) {
	ctx := deriveContext(nil, t0)
	if ctx.Available {
		t.Fatal("empty history should not be available")
	}
	if ctx.Direction != DirectionFlat || ctx.Momentum != MomentumStable {
		t.Errorf("empty context defaults = %s/%s", ctx.Direction, ctx.Momentum)
	}
}

func TestContextUnavailableWhenStale(t *testing.T) {
	history := []Sample{sampleAt(0, 100000)}
	ctx := deriveContext(history, t0.Add(61*time.Second))
	if ctx.Available {
		t.Fatal("sample older than 60s should make context unavailable")
	}

	ctx = deriveContext(history, t0.Add(60*time.Second))
	if !ctx.Available {
		t.Fatal("sample exactly 60s old should still be available")
	}
}

func TestChangeOverBoundaryPartition(t *testing.T) {
	// a sample exactly at the cutoff is the reference
	now := t0.Add(60 * time.Second)
	history := []Sample{
		sampleAt(0, 100000),                      // exactly 60s ago
		sampleAt(30*time.Second, 100500),
		sampleAt(60*time.Second, 100100),
	}
	ch := changeOver(history, now, 60*time.Second)
	if !ch.OK {
		t.Fatal("expected a usable 1m change")
	}
	if !ch.Dollars.Equal(decimal.NewFromInt(100)) {
		t.Errorf("1m change = %s, want 100 (reference must be the boundary sample)", ch.Dollars)
	}
}

func TestChangeOverNoOldEnoughSample(t *testing.T) {
	now := t0.Add(30 * time.Second)
	history := []Sample{sampleAt(time.Second, 100000), sampleAt(30*time.Second, 100100)}
	if ch := changeOver(history, now, 60*time.Second); ch.OK {
		t.Fatal("no sample at or before the cutoff, change must be unavailable")
	}
}

func TestDirectionSymmetry(t *testing.T) {
	now := t0.Add(60 * time.Second)
	up := []Sample{sampleAt(0, 100000), sampleAt(60*time.Second, 100100)}
	down := []Sample{sampleAt(0, 100000), sampleAt(60*time.Second, 99900)}

	if got := deriveContext(up, now).Direction; got != DirectionRising {
		t.Errorf("rising history direction = %s", got)
	}
	if got := deriveContext(down, now).Direction; got != DirectionFalling {
		t.Errorf("falling history direction = %s", got)
	}
}

func TestDirectionFlatBand(t *testing.T) {
	// +0.04% sits inside the ±0.05% flat band
	now := t0.Add(60 * time.Second)
	history := []Sample{sampleAt(0, 100000), sampleAt(60*time.Second, 100040)}
	if got := deriveContext(history, now).Direction; got != DirectionFlat {
		t.Errorf("move inside flat band classified %s", got)
	}
}

func TestMomentumAccelerating(t *testing.T) {
	// 1m change far outpaces the per-minute 3m rate
	now := t0.Add(180 * time.Second)
	history := []Sample{
		sampleAt(0, 100000),
		sampleAt(120*time.Second, 100030),
		sampleAt(180*time.Second, 100300),
	}
	ctx := deriveContext(history, now)
	if ctx.Momentum != MomentumAccelerating {
		t.Errorf("momentum = %s, want %s", ctx.Momentum, MomentumAccelerating)
	}
}

func TestVolatilityOver(t *testing.T) {
	now := t0.Add(60 * time.Second)
	history := []Sample{
		sampleAt(0, 99000),               // outside the 30s window
		sampleAt(35*time.Second, 100000),
		sampleAt(45*time.Second, 100250),
		sampleAt(60*time.Second, 100100),
	}
	got := volatilityOver(history, now, 30*time.Second)
	if !got.Equal(decimal.NewFromInt(250)) {
		t.Errorf("30s volatility = %s, want 250", got)
	}
}

func TestAppendSampleMonotoneAndBounded(t *testing.T) {
	c := NewClient("ws://unused", "BTC/USD")

	c.appendSample(Sample{Price: decimal.NewFromInt(1), Time: t0.Add(time.Second)})
	c.appendSample(Sample{Price: decimal.NewFromInt(2), Time: t0}) // clock went backwards
	if c.history[1].Time.Before(c.history[0].Time) {
		t.Fatal("timestamps must be non-decreasing")
	}

	for i := 0; i < maxHistory+50; i++ {
		c.appendSample(Sample{Price: decimal.NewFromInt(int64(i)), Time: t0.Add(time.Duration(i) * time.Second)})
	}
	if len(c.history) != maxHistory {
		t.Errorf("history length = %d, want %d", len(c.history), maxHistory)
	}
}

func TestClientStartStopLifecycle(t *testing.T) {
	// nothing listens on this port, the client just cycles its reconnect loop
	c := NewClient("ws://127.0.0.1:1", "BTC/USD")

	c.Start()
	if !c.running.Load() {
		t.Error("start did not set the running flag")
	}
	if q := c.LatestPrice(); q.Connected {
		t.Error("connected reported before any connection")
	}

	c.Stop()
	if c.running.Load() {
		t.Error("stop did not clear the running flag")
	}
}
