package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
	"github.com/polyagent/updown/internal/bot"
	"github.com/polyagent/updown/internal/clob"
	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/policy"
	"github.com/polyagent/updown/internal/positions"
	"github.com/polyagent/updown/internal/redeem"
	"github.com/polyagent/updown/internal/safety"
)

func testServer(t *testing.T) (*Server, *activity.Bus, *safety.Ledger) {
	t.Helper()

	bus := activity.NewBus()
	ledger := safety.NewLedger(safety.Limits{
		MaxTradeSize:   decimal.NewFromInt(10),
		DailyLossLimit: decimal.NewFromInt(50),
		MaxDailyLosses: 3,
	}, bus)
	queue := redeem.NewQueue()
	spike := policy.NewSpikeDetector(decimal.NewFromInt(30), decimal.NewFromInt(15))
	feedClient := feed.NewClient("ws://unused", "BTC/USD")

	// disabled engine: no wallet key, CheckAndRedeem is a no-op
	engine, err := redeem.NewEngine(queue, bus, nil, "", "http://unused")
	if err != nil {
		t.Fatal(err)
	}

	coordinator := bot.New(bot.Deps{
		Asset:         "BTC",
		ScanInterval:  time.Hour,
		MaxEntryPrice: decimal.NewFromFloat(0.45),
		Bus:           bus,
		Ledger:        ledger,
		Feed:          feedClient,
		Strategy:      spike,
		Spike:         spike,
		Queue:         queue,
		Redeemer:      engine,
	})

	s := NewServer(Deps{
		Coordinator: coordinator,
		Bus:         bus,
		Ledger:      ledger,
		Feed:        feedClient,
		Queue:       queue,
		Engine:      engine,
		Positions:   positions.NewScanner("http://unused", queue, bus),
	})
	return s, bus, ledger
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON from %s: %v", path, err)
		}
	}
	return w, body
}

func post(t *testing.T, router http.Handler, path string) map[string]interface{} {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST %s returned %d", path, w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON from %s: %v", path, err)
	}
	return body
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := testServer(t)
	w, body := get(t, s.Router(), "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["isRunning"] != false {
		t.Errorf("isRunning = %v, want false before start", body["isRunning"])
	}
	if body["strategy"] != "spike" {
		t.Errorf("strategy = %v", body["strategy"])
	}
	if _, ok := body["balance"]; ok {
		t.Error("balance must be absent without exchange credentials")
	}
}

func TestStatusIncludesBalance(t *testing.T) {
	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"balance": "25000000"})
	}))
	defer exchange.Close()

	s, _, _ := testServer(t)
	s.clob = clob.NewClient(exchange.URL, clob.Creds{APIKey: "k", APISecret: "c2VjcmV0", Passphrase: "p"}, nil)

	_, body := get(t, s.Router(), "/api/status")
	if body["balance"] != "25" {
		t.Errorf("balance = %v, want 25 dollars", body["balance"])
	}
}

func TestActivitiesLimitParam(t *testing.T) {
	s, bus, _ := testServer(t)
	for i := 0; i < 10; i++ {
		bus.LogActivity("scan", "m")
	}

	_, body := get(t, s.Router(), "/api/activities?limit=4")
	list := body["activities"].([]interface{})
	if len(list) != 4 {
		t.Errorf("activities = %d, want 4", len(list))
	}

	_, body = get(t, s.Router(), "/api/activities?limit=bogus")
	if len(body["activities"].([]interface{})) != 10 {
		t.Error("bogus limit should fall back to the default")
	}
}

func TestKillSwitchToggle(t *testing.T) {
	s, _, ledger := testServer(t)
	router := s.Router()

	body := post(t, router, "/api/killswitch")
	if body["killSwitch"] != true {
		t.Fatalf("first toggle = %v, want true", body["killSwitch"])
	}
	if v := ledger.CanTrade(); v.Allowed {
		t.Error("ledger must block after the toggle")
	}

	body = post(t, router, "/api/killswitch")
	if body["killSwitch"] != false {
		t.Errorf("second toggle = %v, want false", body["killSwitch"])
	}
}

type killSwitchRecorder struct {
	states []bool
}

func (k *killSwitchRecorder) NotifyKillSwitch(engaged bool) {
	k.states = append(k.states, engaged)
}

func TestKillSwitchNotifies(t *testing.T) {
	s, _, _ := testServer(t)
	recorder := &killSwitchRecorder{}
	s.notifier = recorder
	router := s.Router()

	post(t, router, "/api/killswitch")
	post(t, router, "/api/killswitch")

	if len(recorder.states) != 2 || !recorder.states[0] || recorder.states[1] {
		t.Errorf("notifications = %v, want [true false]", recorder.states)
	}
}

func TestRedemptionsEndpoint(t *testing.T) {
	s, _, _ := testServer(t)
	s.queue.Add(redeem.Pending{ConditionID: "0xabc", Question: "BTC up?"})

	_, body := get(t, s.Router(), "/api/redemptions")
	pending := body["pending"].([]interface{})
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
	if _, ok := body["safeAddress"]; ok {
		t.Error("safeAddress must be absent without a redemption engine")
	}
}

func TestPositionsBeforeScan(t *testing.T) {
	s, _, _ := testServer(t)
	_, body := get(t, s.Router(), "/api/positions")
	if body["scanned"] != false {
		t.Errorf("body = %v, want scanned:false placeholder", body)
	}
}

func TestStartStop(t *testing.T) {
	s, _, _ := testServer(t)
	router := s.Router()

	body := post(t, router, "/api/bot/start")
	if body["isRunning"] != true {
		t.Fatal("start did not report running")
	}
	if !s.coordinator.Running() {
		t.Fatal("coordinator not running after start")
	}

	body = post(t, router, "/api/bot/stop")
	if body["isRunning"] != false || s.coordinator.Running() {
		t.Fatal("stop did not halt the coordinator")
	}
}
