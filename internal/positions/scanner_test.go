package positions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polyagent/updown/internal/redeem"
)

func positionsStub(t *testing.T, rows []map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("user") == "" {
			t.Error("missing user query parameter")
		}
		json.NewEncoder(w).Encode(rows)
	}))
}

func TestScanClassifiesPositions(t *testing.T) {
	rows := []map[string]interface{}{
		{"asset": "1", "conditionId": "0x01", "title": "winner", "size": 20.0, "curPrice": 1.0, "negativeRisk": true},
		{"asset": "2", "conditionId": "0x02", "title": "loser", "size": 15.0, "curPrice": 0.0},
		{"asset": "3", "conditionId": "0x03", "title": "open", "size": 10.0, "curPrice": 0.6},
		{"asset": "4", "conditionId": "0x04", "title": "redeemable", "size": 5.0, "curPrice": 0.6, "redeemable": true},
		{"asset": "5", "conditionId": "0x05", "title": "dust", "size": 0.0, "curPrice": 1.0},
	}
	srv := positionsStub(t, rows)
	defer srv.Close()

	queue := redeem.NewQueue()
	s := NewScanner(srv.URL, queue, nil)
	result := s.Scan(context.Background(), "0xwallet")

	if result.Found != 5 {
		t.Errorf("found = %d, want 5", result.Found)
	}
	if result.Enqueued != 2 {
		t.Errorf("enqueued = %d, want 2 (winner + redeemable)", result.Enqueued)
	}
	if result.Lost != 1 {
		t.Errorf("lost = %d, want 1", result.Lost)
	}
	if result.Skipped != 2 {
		t.Errorf("skipped = %d, want 2 (open + dust)", result.Skipped)
	}

	pending := queue.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for _, p := range pending {
		if p.ConditionID != "0x01" && p.ConditionID != "0x04" {
			t.Errorf("unexpected pending entry %s", p.ConditionID)
		}
		// backdated so the next redemption tick picks them up
		if !p.MarketEndTime.Before(time.Now().Add(-9 * time.Minute)) {
			t.Errorf("end time %s not backdated", p.MarketEndTime)
		}
	}
}

func TestScanMergesAddressesWithoutDuplicates(t *testing.T) {
	rows := []map[string]interface{}{
		{"asset": "1", "conditionId": "0x01", "title": "winner", "size": 20.0, "curPrice": 1.0},
	}
	srv := positionsStub(t, rows)
	defer srv.Close()

	queue := redeem.NewQueue()
	s := NewScanner(srv.URL, queue, nil)
	result := s.Scan(context.Background(), "0xsigner", "0xproxy")

	// both addresses return the same position, it must count once
	if result.Found != 1 || result.Enqueued != 1 {
		t.Errorf("found/enqueued = %d/%d, want 1/1", result.Found, result.Enqueued)
	}
}

func TestScanOnceIsOneShot(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	defer srv.Close()

	s := NewScanner(srv.URL, redeem.NewQueue(), nil)
	s.ScanOnce(context.Background(), "0xwallet")
	s.ScanOnce(context.Background(), "0xwallet")

	if calls != 1 {
		t.Errorf("index queried %d times, want 1", calls)
	}
}

func TestLastResultBeforeScan(t *testing.T) {
	s := NewScanner("http://unused", redeem.NewQueue(), nil)
	if s.LastResult() != nil {
		t.Error("last result must be nil before the first scan")
	}
}
