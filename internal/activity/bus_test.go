package activity

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLogActivityNewestFirst(t *testing.T) {
	b := NewBus()
	b.LogActivity("scan", "first")
	b.LogActivity("scan", "second")

	got := b.Activities(0)
	if len(got) != 2 || got[0].Message != "second" {
		t.Errorf("activities = %+v, want newest first", got)
	}
	if got[0].ID == "" {
		t.Error("entry missing id")
	}
}

func TestRingBounded(t *testing.T) {
	b := NewBus()
	for i := 0; i < maxEntries+25; i++ {
		b.LogActivity("scan", fmt.Sprintf("msg %d", i))
	}
	got := b.Activities(0)
	if len(got) != maxEntries {
		t.Fatalf("ring length = %d, want %d", len(got), maxEntries)
	}
	if got[0].Message != fmt.Sprintf("msg %d", maxEntries+24) {
		t.Errorf("newest entry = %q", got[0].Message)
	}
}

func TestActivitiesLimit(t *testing.T) {
	b := NewBus()
	for i := 0; i < 10; i++ {
		b.LogActivity("scan", "m")
	}
	if got := b.Activities(3); len(got) != 3 {
		t.Errorf("limited read = %d entries, want 3", len(got))
	}
	if got := b.Activities(50); len(got) != 10 {
		t.Errorf("over-limit read = %d entries, want 10", len(got))
	}
}

func TestRecordAndUpdateTrade(t *testing.T) {
	b := NewBus()
	trade := b.RecordTrade(Trade{
		Action:  "BUY_YES",
		Side:    "YES",
		Size:    decimal.NewFromInt(10),
		OrderID: "A",
		Result:  ResultPending,
	})
	if trade.ID == "" || trade.Timestamp.IsZero() {
		t.Fatal("trade id/timestamp not assigned")
	}

	if ok := b.UpdateTrade(trade.ID, func(tr *Trade) { tr.Result = ResultWin }); !ok {
		t.Fatal("update did not find the trade")
	}
	if got := b.Trades(1)[0]; got.Result != ResultWin {
		t.Errorf("result = %s, want win", got.Result)
	}
	if b.UpdateTrade("missing", func(tr *Trade) {}) {
		t.Error("update on unknown id reported success")
	}
}

func TestTradeSuccess(t *testing.T) {
	cases := []struct {
		trade Trade
		want  bool
	}{
		{Trade{Result: ResultPending, OrderID: "A"}, true},
		{Trade{Result: ResultWin, OrderID: "A"}, true},
		{Trade{Result: ResultFailed, OrderID: "A"}, false},
		{Trade{Result: ResultPending}, false},
	}
	for i, tc := range cases {
		if got := tc.trade.Success(); got != tc.want {
			t.Errorf("case %d: success = %v, want %v", i, got, tc.want)
		}
	}
}

func TestStatsAggregation(t *testing.T) {
	b := NewBus()
	b.RecordTrade(Trade{Result: ResultWin, OrderID: "A", Size: decimal.NewFromInt(10)})
	b.RecordTrade(Trade{Result: ResultWin, OrderID: "B", Size: decimal.NewFromInt(10)})
	b.RecordTrade(Trade{Result: ResultLoss, OrderID: "C", Size: decimal.NewFromInt(10)})
	b.RecordTrade(Trade{Result: ResultFailed, Size: decimal.NewFromInt(10)})
	b.RecordTrade(Trade{Result: ResultPending, OrderID: "D", Size: decimal.NewFromInt(5)})

	s := b.Stats()
	if s.TotalTrades != 5 || s.Wins != 2 || s.Losses != 1 || s.Failed != 1 || s.Pending != 1 {
		t.Errorf("stats = %+v", s)
	}
	// failed orders spent nothing
	if !s.TotalSpent.Equal(decimal.NewFromInt(35)) {
		t.Errorf("total spent = %s, want 35", s.TotalSpent)
	}
	if s.WinRate < 66.6 || s.WinRate > 66.7 {
		t.Errorf("win rate = %.2f, want 2/3", s.WinRate)
	}
}
