// Package feed maintains a streaming reference-price client and the
// bounded price history the policies read their context from.
package feed

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// maxHistory bounds the sample ring
	maxHistory = 600
	// staleAfter marks the latest quote stale for consumers
	staleAfter = 30 * time.Second
	// availableWithin gates context availability
	availableWithin = 60 * time.Second

	reconnectDelay    = 5 * time.Second
	heartbeatInterval = 30 * time.Second
)

// Sample is one reference-price observation
type Sample struct {
	Price decimal.Decimal
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	Time  time.Time
}

// Quote is the latest price snapshot for consumers
type Quote struct {
	Price      decimal.Decimal `json:"price"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	LastUpdate time.Time       `json:"lastUpdate"`
	Connected  bool            `json:"connected"`
	Stale      bool            `json:"stale"`
}

// Client streams ticker updates over WebSocket into a bounded history.
// Reconnects on a fixed delay, pings on a heartbeat timer.
type Client struct {
	wsURL  string
	symbol string

	mu        sync.RWMutex
	conn      *websocket.Conn
	history   []Sample
	connected bool

	running atomic.Bool
	stopCh  chan struct{}

	now func() time.Time
}

// NewClient creates a feed client for one ticker symbol
func NewClient(wsURL, symbol string) *Client {
	return &Client{
		wsURL:   wsURL,
		symbol:  symbol,
		history: make([]Sample, 0, maxHistory),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start connects and begins streaming in the background
func (c *Client) Start() {
	c.running.Store(true)
	go c.runWebSocket()
	go c.heartbeatLoop()
	log.Info().Str("symbol", c.symbol).Msg("📈 Price feed started")
}

// Stop closes the connection and halts reconnects
func (c *Client) Stop() {
	c.running.Store(false)
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *Client) runWebSocket() {
	for c.running.Load() {
		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("Feed connection failed")
			time.Sleep(reconnectDelay)
			continue
		}

		c.readMessages()

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		if c.running.Load() {
			log.Warn().Msg("Feed disconnected, reconnecting...")
			time.Sleep(reconnectDelay)
		}
	}
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		return err
	}

	sub := map[string]interface{}{
		"method": "subscribe",
		"params": map[string]interface{}{
			"channel": "ticker",
			"symbol":  []string{c.symbol},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	log.Info().Str("url", c.wsURL).Str("symbol", c.symbol).Msg("🔌 Feed WebSocket connected")
	return nil
}

func (c *Client) readMessages() {
	for c.running.Load() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.running.Load() {
				log.Error().Err(err).Msg("Feed read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// tickerMessage matches the v2 ticker channel payload
type tickerMessage struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
	} `json:"data"`
}

func (c *Client) handleMessage(data []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return // best effort; malformed frames are dropped
	}
	if msg.Channel != "ticker" || len(msg.Data) == 0 {
		return
	}

	tick := msg.Data[0]
	if tick.Last <= 0 {
		return
	}

	c.appendSample(Sample{
		Price: decimal.NewFromFloat(tick.Last),
		Bid:   decimal.NewFromFloat(tick.Bid),
		Ask:   decimal.NewFromFloat(tick.Ask),
		Time:  c.now(),
	})
}

// appendSample keeps timestamps non-decreasing and the ring bounded
func (c *Client) appendSample(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.history); n > 0 && s.Time.Before(c.history[n-1].Time) {
		s.Time = c.history[n-1].Time
	}
	c.history = append(c.history, s)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			connected := c.connected
			c.mu.RUnlock()

			if conn == nil || !connected {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Msg("Feed ping failed, closing for reconnect")
				conn.Close()
			}
		case <-c.stopCh:
			return
		}
	}
}

// LatestPrice returns the newest quote plus connection health
func (c *Client) LatestPrice() Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := Quote{Connected: c.connected, Stale: true}
	if len(c.history) == 0 {
		return q
	}
	last := c.history[len(c.history)-1]
	q.Price = last.Price
	q.Bid = last.Bid
	q.Ask = last.Ask
	q.LastUpdate = last.Time
	q.Stale = c.now().Sub(last.Time) > staleAfter
	return q
}
