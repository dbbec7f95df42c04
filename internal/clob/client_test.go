package clob

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPriceParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") != "42" || r.URL.Query().Get("side") != SideBuy {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]string{"price": "0.42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Creds{}, nil)
	p, err := c.Price("42", SideBuy)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equal(decimal.NewFromFloat(0.42)) {
		t.Errorf("price = %s", p)
	}
}

func TestBalanceSignsAndScales(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"POLY_API_KEY", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_PASSPHRASE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing auth header %s", h)
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"balance": "12500000"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Creds{APIKey: "k", APISecret: "c2VjcmV0", Passphrase: "p"}, nil)
	balance, err := c.Balance()
	if err != nil {
		t.Fatal(err)
	}
	if !balance.Equal(decimal.NewFromFloat(12.5)) {
		t.Errorf("balance = %s, want 12.5 dollars", balance)
	}
}

func TestSubmitOrderRejectClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantHard bool
	}{
		{"business reject", http.StatusBadRequest, `{"message":"not enough balance"}`, false},
		{"geoblock", http.StatusForbidden, `{"message":"forbidden"}`, true},
		{"blocked message", http.StatusBadRequest, `{"message":"order blocked by risk"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, Creds{APIKey: "k", APISecret: "c2VjcmV0"}, nil)
			signed := &SignedOrder{Order: minimalOrder(t), Signature: "0xsig"}
			_, err := c.SubmitOrder(signed, "GTC")
			if err == nil {
				t.Fatal("expected reject error")
			}
			var reject *RejectError
			if !errors.As(err, &reject) {
				t.Fatalf("error type %T", err)
			}
			if reject.Hard != tc.wantHard {
				t.Errorf("hard = %v, want %v", reject.Hard, tc.wantHard)
			}
		})
	}
}

func TestSubmitOrderRequiresCreds(t *testing.T) {
	c := NewClient("http://unused", Creds{}, nil)
	if _, err := c.SubmitOrder(&SignedOrder{Order: minimalOrder(t)}, "GTC"); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func minimalOrder(t *testing.T) *ExchangeOrder {
	t.Helper()
	return &ExchangeOrder{
		Salt:        big.NewInt(1),
		TokenID:     big.NewInt(42),
		MakerAmount: big.NewInt(1_000_000),
		TakerAmount: big.NewInt(2_000_000),
		Expiration:  big.NewInt(0),
		Nonce:       big.NewInt(0),
		FeeRateBps:  big.NewInt(0),
	}
}
