package clob

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

func testSigner(t *testing.T) *OrderSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return NewOrderSigner(key, 0)
}

func TestSignedBuyAmounts(t *testing.T) {
	s := testSigner(t)

	// 33.33 shares at 0.31: 10.3323 dollars, maker truncates to whole units
	price, _ := decimal.NewFromString("0.31")
	shares, _ := decimal.NewFromString("33.33")
	signed, err := s.SignedBuy("123456", price, shares)
	if err != nil {
		t.Fatal(err)
	}

	if signed.Order.MakerAmount.Cmp(big.NewInt(10_332_300)) != 0 {
		t.Errorf("maker amount = %s, want 10332300", signed.Order.MakerAmount)
	}
	if signed.Order.TakerAmount.Cmp(big.NewInt(33_330_000)) != 0 {
		t.Errorf("taker amount = %s, want 33330000", signed.Order.TakerAmount)
	}
	if signed.Order.Side != sideBuyValue {
		t.Errorf("side = %d, want buy", signed.Order.Side)
	}
	if signed.Order.TokenID.Cmp(big.NewInt(123456)) != 0 {
		t.Errorf("token id = %s", signed.Order.TokenID)
	}
}

func TestSignedBuyMakerTruncates(t *testing.T) {
	s := testSigner(t)

	// 3 shares at 1/3 dollars: 0.999999... must truncate, never round up
	price, _ := decimal.NewFromString("0.333333333")
	shares := decimal.NewFromInt(3)
	signed, err := s.SignedBuy("1", price, shares)
	if err != nil {
		t.Fatal(err)
	}
	if signed.Order.MakerAmount.Cmp(big.NewInt(999_999)) != 0 {
		t.Errorf("maker amount = %s, want 999999 (truncated)", signed.Order.MakerAmount)
	}
}

func TestSignedBuySignatureShape(t *testing.T) {
	s := testSigner(t)
	signed, err := s.SignedBuy("42", decimal.NewFromFloat(0.5), decimal.NewFromInt(10))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(signed.Signature, "0x") || len(signed.Signature) != 132 {
		t.Errorf("signature shape = %q (len %d)", signed.Signature[:10], len(signed.Signature))
	}
	if signed.Order.Maker != s.Address() || signed.Order.Signer != s.Address() {
		t.Error("maker/signer must be the wallet address")
	}
}

func TestSignedBuyRejectsBadTokenID(t *testing.T) {
	s := testSigner(t)
	if _, err := s.SignedBuy("0xnothex", decimal.NewFromFloat(0.5), decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error for non-decimal token id")
	}
}

func TestAPIPayloadShape(t *testing.T) {
	s := testSigner(t)
	signed, err := s.SignedBuy("42", decimal.NewFromFloat(0.5), decimal.NewFromInt(10))
	if err != nil {
		t.Fatal(err)
	}

	payload := signed.APIPayload("api-key-1", "GTC")
	if payload["owner"] != "api-key-1" {
		t.Errorf("owner = %v, want the API key", payload["owner"])
	}
	if payload["orderType"] != "GTC" {
		t.Errorf("orderType = %v", payload["orderType"])
	}
	order := payload["order"].(map[string]interface{})
	if order["side"] != SideBuy {
		t.Errorf("side = %v", order["side"])
	}
	if order["signature"] != signed.Signature {
		t.Error("signature must sit inside the order object")
	}
}
