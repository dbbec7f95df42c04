// Package api serves the dashboard and control endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
	"github.com/polyagent/updown/internal/bot"
	"github.com/polyagent/updown/internal/clob"
	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/positions"
	"github.com/polyagent/updown/internal/redeem"
	"github.com/polyagent/updown/internal/safety"
)

// defaultListLimit caps list endpoints when no limit is given
const defaultListLimit = 100

// balanceTTL bounds how often the status endpoint re-reads the exchange
// balance
const balanceTTL = 30 * time.Second

// Notifier receives operator-facing events from the control endpoints
type Notifier interface {
	NotifyKillSwitch(engaged bool)
}

// Server wires the HTTP surface over the bot's in-memory state
type Server struct {
	coordinator *bot.Coordinator
	bus         *activity.Bus
	ledger      *safety.Ledger
	feed        *feed.Client
	clob        *clob.Client
	queue       *redeem.Queue
	engine      *redeem.Engine
	positions   *positions.Scanner
	notifier    Notifier

	balanceMu sync.Mutex
	balance   *decimal.Decimal
	balanceAt time.Time

	httpServer *http.Server
}

// Deps collects the server's collaborators
type Deps struct {
	Coordinator *bot.Coordinator
	Bus         *activity.Bus
	Ledger      *safety.Ledger
	Feed        *feed.Client
	Clob        *clob.Client
	Queue       *redeem.Queue
	Engine      *redeem.Engine
	Positions   *positions.Scanner
	Notifier    Notifier
}

// NewServer builds the router
func NewServer(d Deps) *Server {
	return &Server{
		coordinator: d.Coordinator,
		bus:         d.Bus,
		ledger:      d.Ledger,
		feed:        d.Feed,
		clob:        d.Clob,
		queue:       d.Queue,
		engine:      d.Engine,
		positions:   d.Positions,
		notifier:    d.Notifier,
	}
}

// Router assembles the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/activities", s.handleActivities)
		api.GET("/trades", s.handleTrades)
		api.GET("/decisions", s.handleDecisions)
		api.GET("/stats", s.handleStats)
		api.GET("/btc-price", s.handlePrice)
		api.GET("/redemptions", s.handleRedemptions)
		api.GET("/positions", s.handlePositions)

		api.POST("/bot/start", s.handleStart)
		api.POST("/bot/stop", s.handleStop)
		api.POST("/bot/scan-now", s.handleScanNow)
		api.POST("/killswitch", s.handleKillSwitch)
		api.POST("/scan-positions", s.handleScanPositions)
	}
	return r
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("🌐 Dashboard API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Status:  s.coordinator.Status(),
		Balance: s.exchangeBalance(),
	})
}

// statusResponse decorates the coordinator view with the exchange balance
type statusResponse struct {
	bot.Status
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// exchangeBalance reads the collateral balance, cached briefly so status
// polls don't hammer the exchange. Nil when unauthenticated or unreachable.
func (s *Server) exchangeBalance() *decimal.Decimal {
	if s.clob == nil || !s.clob.Authenticated() {
		return nil
	}

	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	if s.balance != nil && time.Since(s.balanceAt) < balanceTTL {
		return s.balance
	}

	bal, err := s.clob.Balance()
	if err != nil {
		log.Debug().Err(err).Msg("Balance read failed")
		return s.balance
	}
	s.balance = &bal
	s.balanceAt = time.Now()
	return s.balance
}

func (s *Server) handleActivities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"activities": s.bus.Activities(limitParam(c))})
}

func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.bus.Trades(limitParam(c))})
}

func (s *Server) handleDecisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": s.bus.Decisions(limitParam(c))})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"trades": s.bus.Stats(),
		"safety": s.ledger.Snapshot(),
	})
}

func (s *Server) handlePrice(c *gin.Context) {
	quote := s.feed.LatestPrice()
	c.JSON(http.StatusOK, gin.H{
		"quote":   quote,
		"context": s.feed.Context(),
	})
}

func (s *Server) handleRedemptions(c *gin.Context) {
	totals := s.queue.Totals()
	resp := gin.H{
		"pending":       s.queue.Pending(),
		"history":       s.queue.History(),
		"totalRedeemed": totals.TotalRedeemed,
		"totalLost":     totals.NoPayout,
	}
	if s.engine != nil && s.engine.Enabled() {
		if proxy := s.engine.ProxyAddress(); proxy != "" {
			resp["safeAddress"] = proxy
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	result := s.positions.LastResult()
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"scanned": false})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStart(c *gin.Context) {
	// the request context dies with the response; the loop must outlive it
	s.coordinator.Start(context.Background())
	c.JSON(http.StatusOK, gin.H{"isRunning": true})
}

func (s *Server) handleStop(c *gin.Context) {
	s.coordinator.Stop()
	c.JSON(http.StatusOK, gin.H{"isRunning": false})
}

func (s *Server) handleScanNow(c *gin.Context) {
	s.coordinator.ScanNow()
	c.JSON(http.StatusOK, gin.H{"triggered": true})
}

func (s *Server) handleKillSwitch(c *gin.Context) {
	engaged := s.ledger.ToggleKillSwitch()
	if s.notifier != nil {
		s.notifier.NotifyKillSwitch(engaged)
	}
	c.JSON(http.StatusOK, gin.H{"killSwitch": engaged})
}

func (s *Server) handleScanPositions(c *gin.Context) {
	addrs := []string{}
	if s.engine != nil && s.engine.Enabled() {
		addrs = append(addrs, s.engine.SignerAddress().Hex())
		if proxy := s.engine.ProxyAddress(); proxy != "" {
			addrs = append(addrs, proxy)
		}
	}
	result := s.positions.Scan(c.Request.Context(), addrs...)
	c.JSON(http.StatusOK, result)
}

func limitParam(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

// requestLogger logs each request at debug level
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}
