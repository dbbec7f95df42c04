// Package config loads agent configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the agent
type Config struct {
	// Trading asset and strategy
	TradingAsset string // BTC, ETH, ...
	Strategy     string // "spike" or "llm"
	DryRun       bool
	Debug        bool

	// Coordinator
	ScanInterval time.Duration

	// Safety limits
	MaxTradeSize   decimal.Decimal // HIGH-confidence size; MEDIUM = half
	DailyLossLimit decimal.Decimal
	MaxDailyLosses int
	MaxEntryPrice  decimal.Decimal // skip if chosen side's mid above this

	// Spike strategy
	SpikeThreshold decimal.Decimal // minimum absolute move in dollars
	MinSpikeSpeed  decimal.Decimal // minimum $/min

	// Market discovery
	MinMinutesLeft int
	MaxMinutesLeft int

	// Polymarket endpoints
	GammaAPIURL  string
	CLOBURL      string
	DataAPIURL   string
	TickerWSURL  string
	TickerSymbol string

	// CLOB credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Chain
	PolygonRPCURL    string
	WalletPrivateKey string
	KnownProxyWallet string

	// LLM policy
	LLMAPIKey string
	LLMModel  string

	// HTTP dashboard
	HTTPPort int

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		TradingAsset: getEnv("TRADING_ASSET", "BTC"),
		Strategy:     getEnv("STRATEGY", "spike"),
		DryRun:       getEnvBool("DRY_RUN", true),
		Debug:        getEnvBool("DEBUG", false),

		MaxTradeSize:   getEnvDecimal("MAX_TRADE_SIZE", decimal.NewFromInt(10)),
		DailyLossLimit: getEnvDecimal("DAILY_LOSS_LIMIT", decimal.NewFromInt(50)),
		MaxDailyLosses: getEnvInt("MAX_DAILY_LOSSES", 6),
		MaxEntryPrice:  getEnvDecimal("MAX_ENTRY_PRICE", decimal.NewFromFloat(0.45)),

		SpikeThreshold: getEnvDecimal("SPIKE_THRESHOLD", decimal.NewFromInt(30)),
		MinSpikeSpeed:  getEnvDecimal("MIN_SPIKE_SPEED", decimal.NewFromInt(15)),

		GammaAPIURL:  getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:      getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		DataAPIURL:   getEnv("DATA_API_URL", "https://data-api.polymarket.com"),
		TickerWSURL:  getEnv("TICKER_WS_URL", "wss://ws.kraken.com/v2"),
		TickerSymbol: getEnv("TICKER_SYMBOL", "BTC/USD"),

		CLOBApiKey:     os.Getenv("POLY_API_KEY"),
		CLOBApiSecret:  os.Getenv("POLY_API_SECRET"),
		CLOBPassphrase: os.Getenv("POLY_API_PASSPHRASE"),

		PolygonRPCURL:    getEnv("POLYGON_RPC_URL", "https://polygon-rpc.com"),
		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		KnownProxyWallet: os.Getenv("KNOWN_PROXY_WALLET"),

		LLMAPIKey: os.Getenv("LLM_API_KEY"),
		LLMModel:  getEnv("LLM_MODEL", "claude-sonnet-4-20250514"),

		HTTPPort: getEnvInt("HTTP_PORT", 8080),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	// Spike mode scans a wider slice of the window and ticks faster
	if cfg.Strategy == "spike" {
		cfg.MinMinutesLeft = getEnvInt("MIN_MINUTES_LEFT", 1)
		cfg.MaxMinutesLeft = getEnvInt("MAX_MINUTES_LEFT", 14)
		cfg.ScanInterval = getEnvDuration("SCAN_INTERVAL", 10*time.Second)
	} else {
		cfg.MinMinutesLeft = getEnvInt("MIN_MINUTES_LEFT", 3)
		cfg.MaxMinutesLeft = getEnvInt("MAX_MINUTES_LEFT", 12)
		cfg.ScanInterval = getEnvDuration("SCAN_INTERVAL", 120*time.Second)
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.Strategy != "spike" && cfg.Strategy != "llm" {
		return nil, fmt.Errorf("unknown STRATEGY %q (want spike or llm)", cfg.Strategy)
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
