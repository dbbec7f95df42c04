package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/clob"
)

// clobStub serves the read endpoints the fetcher fans out to
func clobStub(t *testing.T, failBook bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			side := r.URL.Query().Get("side")
			price := "0.30"
			if side == clob.SideSell {
				price = "0.34"
			}
			json.NewEncoder(w).Encode(map[string]string{"price": price})
		case "/book":
			if failBook {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `{"bids":[{"price":"0.30","size":"100"},{"price":"0.29","size":"50"}],`+
				`"asks":[{"price":"0.34","size":"80"}]}`)
		case "/spread":
			json.NewEncoder(w).Encode(map[string]string{"spread": "0.04"})
		case "/prices-history":
			fmt.Fprint(w, `{"history":[{"t":1756030000,"p":0.28},{"t":1756030060,"p":0.30}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func fetchMarket() Market {
	return Market{
		ConditionID: "0xabc",
		Slug:        "btc-updown-15m-1756029600",
		Tokens: [2]Token{
			{TokenID: "111", Outcome: OutcomeUp},
			{TokenID: "222", Outcome: OutcomeDown},
		},
	}
}

func TestFetchFullMarketData(t *testing.T) {
	srv := clobStub(t, false)
	defer srv.Close()

	f := NewFetcher(clob.NewClient(srv.URL, clob.Creds{}, nil))
	snap := f.FetchFullMarketData(context.Background(), fetchMarket())

	if !snap.HasQuote() {
		t.Fatal("snapshot has no quote")
	}
	if snap.YesToken.Price.Buy == nil || !snap.YesToken.Price.Buy.Equal(decimal.NewFromFloat(0.30)) {
		t.Errorf("yes buy = %v", snap.YesToken.Price.Buy)
	}
	if snap.YesToken.Price.Mid == nil || !snap.YesToken.Price.Mid.Equal(decimal.NewFromFloat(0.32)) {
		t.Errorf("yes mid = %v, want (0.30+0.34)/2", snap.YesToken.Price.Mid)
	}

	book := snap.YesToken.Book
	if book == nil {
		t.Fatal("missing book summary")
	}
	if !book.BidVolume.Equal(decimal.NewFromInt(150)) || !book.AskVolume.Equal(decimal.NewFromInt(80)) {
		t.Errorf("volumes = %s/%s", book.BidVolume, book.AskVolume)
	}
	if book.BestBid == nil || !book.BestBid.Equal(decimal.NewFromFloat(0.30)) {
		t.Errorf("best bid = %v", book.BestBid)
	}

	if len(snap.PriceHistory) != 2 {
		t.Errorf("history points = %d, want 2", len(snap.PriceHistory))
	}
}

func TestFetchDegradesOnPartialFailure(t *testing.T) {
	srv := clobStub(t, true)
	defer srv.Close()

	f := NewFetcher(clob.NewClient(srv.URL, clob.Creds{}, nil))
	snap := f.FetchFullMarketData(context.Background(), fetchMarket())

	if snap.YesToken.Book != nil {
		t.Error("failed book request should leave the summary nil")
	}
	if !snap.HasQuote() {
		t.Error("prices still arrived, quote must be available")
	}
}

func TestFetchMidpointFallbackWhenBookOneSided(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/midpoint" {
			json.NewEncoder(w).Encode(map[string]string{"mid": "0.47"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(clob.NewClient(srv.URL, clob.Creds{}, nil))
	snap := f.FetchFullMarketData(context.Background(), fetchMarket())

	if snap.YesToken.Price.Mid == nil || !snap.YesToken.Price.Mid.Equal(decimal.NewFromFloat(0.47)) {
		t.Errorf("yes mid = %v, want the midpoint endpoint value", snap.YesToken.Price.Mid)
	}
	if !snap.HasQuote() {
		t.Error("midpoint arrived, quote must be available")
	}
}

func TestFetchAllDownStillReturnsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(clob.NewClient(srv.URL, clob.Creds{}, nil))
	snap := f.FetchFullMarketData(context.Background(), fetchMarket())

	if snap == nil {
		t.Fatal("fetcher must never return nil")
	}
	if snap.HasQuote() {
		t.Error("nothing arrived but HasQuote is true")
	}
}
