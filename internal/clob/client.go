// Package clob is the typed client for the central limit order book:
// unauthenticated market-data reads plus L2-authenticated order placement.
//
// Auth follows the venue's HMAC scheme (timestamp+method+path+body signed
// with the url-safe base64 API secret, headers with underscores).
package clob

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Order sides on the book
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Creds are the L2 API credentials
type Creds struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Address    string // signer address, sent as POLY_ADDRESS
}

// OrderResponse is the venue's reply to an order submission
type OrderResponse struct {
	OrderID   string `json:"orderID"`
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BookLevel is one price level of the order book
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Book is the raw order book for one token
type Book struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

// HistoryPoint is one sample of a token's minute-level price history
type HistoryPoint struct {
	Time  time.Time       `json:"t"`
	Price decimal.Decimal `json:"price"`
}

// Client talks to the CLOB. The transport is supplied at construction so a
// per-process egress proxy is just an http.Client option.
type Client struct {
	baseURL    string
	creds      Creds
	httpClient *http.Client
}

// NewClient creates a CLOB client. A nil httpClient gets a 10 s default.
func NewClient(baseURL string, creds Creds, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), creds: creds, httpClient: httpClient}
}

// Authenticated reports whether order placement is possible
func (c *Client) Authenticated() bool {
	return c.creds.APIKey != "" && c.creds.APISecret != ""
}

// Price fetches the best price for a token on one side of the book
func (c *Client) Price(tokenID, side string) (decimal.Decimal, error) {
	var result struct {
		Price string `json:"price"`
	}
	q := url.Values{"token_id": {tokenID}, "side": {side}}
	if err := c.getJSON("/price", q, &result); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(result.Price)
}

// Midpoint fetches the book midpoint for a token
func (c *Client) Midpoint(tokenID string) (decimal.Decimal, error) {
	var result struct {
		Mid string `json:"mid"`
	}
	q := url.Values{"token_id": {tokenID}}
	if err := c.getJSON("/midpoint", q, &result); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(result.Mid)
}

// Spread fetches the bid-ask spread for a token
func (c *Client) Spread(tokenID string) (decimal.Decimal, error) {
	var result struct {
		Spread string `json:"spread"`
	}
	q := url.Values{"token_id": {tokenID}}
	if err := c.getJSON("/spread", q, &result); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(result.Spread)
}

// OrderBook fetches the full book for a token
func (c *Client) OrderBook(tokenID string) (*Book, error) {
	var raw struct {
		Bids []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
	}
	q := url.Values{"token_id": {tokenID}}
	if err := c.getJSON("/book", q, &raw); err != nil {
		return nil, err
	}

	book := &Book{
		Bids: make([]BookLevel, 0, len(raw.Bids)),
		Asks: make([]BookLevel, 0, len(raw.Asks)),
	}
	for _, b := range raw.Bids {
		price, _ := decimal.NewFromString(b.Price)
		size, _ := decimal.NewFromString(b.Size)
		book.Bids = append(book.Bids, BookLevel{Price: price, Size: size})
	}
	for _, a := range raw.Asks {
		price, _ := decimal.NewFromString(a.Price)
		size, _ := decimal.NewFromString(a.Size)
		book.Asks = append(book.Asks, BookLevel{Price: price, Size: size})
	}
	return book, nil
}

// PricesHistory fetches minute-level price history for a token. The primary
// interval query is retried against the explicit time-range form when the
// venue rejects it.
func (c *Client) PricesHistory(tokenID string) ([]HistoryPoint, error) {
	q := url.Values{"market": {tokenID}, "interval": {"1h"}, "fidelity": {"1"}}
	points, err := c.fetchHistory(q)
	if err == nil {
		return points, nil
	}

	end := time.Now().Unix()
	start := end - 3600
	fallback := url.Values{
		"market":   {tokenID},
		"startTs":  {strconv.FormatInt(start, 10)},
		"endTs":    {strconv.FormatInt(end, 10)},
		"fidelity": {"1"},
	}
	return c.fetchHistory(fallback)
}

func (c *Client) fetchHistory(q url.Values) ([]HistoryPoint, error) {
	var raw struct {
		History []struct {
			T int64   `json:"t"`
			P float64 `json:"p"`
		} `json:"history"`
	}
	if err := c.getJSON("/prices-history", q, &raw); err != nil {
		return nil, err
	}

	points := make([]HistoryPoint, 0, len(raw.History))
	for _, h := range raw.History {
		points = append(points, HistoryPoint{
			Time:  time.Unix(h.T, 0),
			Price: decimal.NewFromFloat(h.P),
		})
	}
	return points, nil
}

// Balance returns the collateral balance in dollars
func (c *Client) Balance() (decimal.Decimal, error) {
	endpoint := "/balance-allowance"
	req, err := http.NewRequest(http.MethodGet, c.baseURL+endpoint+"?asset_type=COLLATERAL", nil)
	if err != nil {
		return decimal.Zero, err
	}
	c.signL2Request(req, http.MethodGet, endpoint, nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse error: %w", err)
	}
	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance value: %s", result.Balance)
	}
	// 6-decimal collateral units
	return balance.Div(decimal.NewFromInt(1_000_000)), nil
}

// SubmitOrder posts a signed order. The returned response is populated even
// on a non-OK status so callers can log the venue's reject message.
func (c *Client) SubmitOrder(signed *SignedOrder, orderType string) (*OrderResponse, error) {
	if !c.Authenticated() {
		return nil, fmt.Errorf("missing CLOB API credentials")
	}

	payload := signed.APIPayload(c.creds.APIKey, orderType)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.signL2Request(req, http.MethodPost, "/order", body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("parse response: %w, body: %s", err, string(respBody))
	}

	if resp.StatusCode == http.StatusForbidden {
		return &orderResp, &RejectError{Code: resp.StatusCode, Message: string(respBody), Hard: true}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		hard := strings.Contains(strings.ToLower(orderResp.Message), "blocked")
		return &orderResp, &RejectError{Code: resp.StatusCode, Message: orderResp.Message, Hard: hard}
	}

	log.Debug().Str("order_id", orderResp.OrderID).Str("status", orderResp.Status).Msg("Order accepted")
	return &orderResp, nil
}

// RejectError is a CLOB order rejection. Hard rejects (geoblock, 403)
// warrant a longer backoff than soft business rejects.
type RejectError struct {
	Code    int
	Message string
	Hard    bool
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order rejected (%d): %s", e.Code, e.Message)
}

func (c *Client) getJSON(endpoint string, q url.Values, out interface{}) error {
	u := c.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := c.httpClient.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// signL2Request adds the HMAC auth headers
func (c *Client) signL2Request(req *http.Request, method, path string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	secretBytes, err := base64.URLEncoding.DecodeString(c.creds.APISecret)
	if err != nil {
		padded := c.creds.APISecret
		if len(padded)%4 != 0 {
			padded += strings.Repeat("=", 4-len(padded)%4)
		}
		if secretBytes, err = base64.URLEncoding.DecodeString(padded); err != nil {
			secretBytes, _ = base64.StdEncoding.DecodeString(c.creds.APISecret)
		}
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.creds.APIKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.creds.Passphrase)
	if c.creds.Address != "" {
		req.Header.Set("POLY_ADDRESS", c.creds.Address)
	}
}
