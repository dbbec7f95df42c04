package policy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/feed"
)

func detector() *SpikeDetector {
	return NewSpikeDetector(decimal.NewFromInt(30), decimal.NewFromInt(15))
}

func change(dollars float64) feed.Change {
	return feed.Change{Dollars: decimal.NewFromFloat(dollars), OK: true}
}

func TestSpikeNotAvailableFeed(t *testing.T) {
	res := detector().Detect(feed.Context{Available: false, Change1m: change(500)})
	if res.Detected {
		t.Fatal("spike detected on unavailable feed")
	}
}

func TestSpikeBelowThresholdIgnored(t *testing.T) {
	// $29 in one minute: fast enough but under the absolute threshold
	ctx := feed.Context{Available: true, Change1m: change(29)}
	if res := detector().Detect(ctx); res.Detected {
		t.Fatal("move under the dollar threshold must not qualify")
	}
}

func TestSpikeBelowSpeedIgnored(t *testing.T) {
	// $40 over five minutes is only 8 $/min
	ctx := feed.Context{Available: true, Change5m: change(40)}
	if res := detector().Detect(ctx); res.Detected {
		t.Fatal("move under the speed threshold must not qualify")
	}
}

func TestSpikeUpDetected(t *testing.T) {
	ctx := feed.Context{Available: true, Change1m: change(50)}
	res := detector().Detect(ctx)
	if !res.Detected {
		t.Fatal("qualifying move not detected")
	}
	if res.Direction != "UP" || res.WindowSeconds != 60 {
		t.Errorf("got %s/%ds, want UP/60s", res.Direction, res.WindowSeconds)
	}
	if !res.Speed.Equal(decimal.NewFromInt(50)) {
		t.Errorf("speed = %s, want 50", res.Speed)
	}
}

func TestSpikePicksFastestWindow(t *testing.T) {
	ctx := feed.Context{
		Available: true,
		Change1m:  change(-40), // 40 $/min
		Change3m:  change(-90), // 30 $/min
		Change5m:  change(-200), // 40 $/min, ties do not displace
	}
	res := detector().Detect(ctx)
	if !res.Detected || res.WindowSeconds != 60 {
		t.Fatalf("best window = %ds, want the fastest (60s)", res.WindowSeconds)
	}
	if res.Direction != "DOWN" {
		t.Errorf("direction = %s, want DOWN", res.Direction)
	}
}

func TestSpikeDecideConfidence(t *testing.T) {
	d := detector()

	// 20 $/min qualifies but stays MEDIUM
	medium := d.Decide(context.Background(), nil, feed.Context{Available: true, Change3m: change(60)})
	if medium.Action != ActionBuyYes || medium.Confidence != ConfidenceMedium {
		t.Errorf("got %s/%s, want BUY_YES/MEDIUM", medium.Action, medium.Confidence)
	}

	// 50 $/min is HIGH
	high := d.Decide(context.Background(), nil, feed.Context{Available: true, Change1m: change(-50)})
	if high.Action != ActionBuyNo || high.Confidence != ConfidenceHigh {
		t.Errorf("got %s/%s, want BUY_NO/HIGH", high.Action, high.Confidence)
	}
}

func TestSpikeDecideNoSpikeSkips(t *testing.T) {
	got := detector().Decide(context.Background(), nil, feed.Context{Available: true})
	if got.Action != ActionSkip {
		t.Errorf("no spike should yield SKIP, got %s", got.Action)
	}
}

func TestNormalizeCollapsesUnknowns(t *testing.T) {
	d := Decision{Action: "HOLD", Confidence: "EXTREME"}.Normalize()
	if d.Action != ActionSkip || d.Confidence != ConfidenceLow {
		t.Errorf("unknown enums normalized to %s/%s", d.Action, d.Confidence)
	}
}

func TestNormalizeLowForcesSkip(t *testing.T) {
	d := Decision{Action: ActionBuyYes, Confidence: ConfidenceLow}.Normalize()
	if d.Action != ActionSkip {
		t.Errorf("LOW confidence must force SKIP, got %s", d.Action)
	}
}
