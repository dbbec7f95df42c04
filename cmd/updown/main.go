// Updown - Autonomous trading agent for 15-minute Up/Down prediction windows
//
// Pipeline per scan tick:
// 1. Stream the reference price over WebSocket into a rolling history
// 2. Discover the live 15-minute window by slug
// 3. Snapshot both outcome tokens (prices, books, history)
// 4. Ask the policy (spike detector or LLM) for a decision
// 5. Place a signed order through the CLOB if the safety ledger allows
// 6. Claim resolved positions on chain through the redemption engine
package main

import (
	"context"
	"crypto/ecdsa"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polyagent/updown/internal/activity"
	"github.com/polyagent/updown/internal/api"
	"github.com/polyagent/updown/internal/bot"
	"github.com/polyagent/updown/internal/clob"
	"github.com/polyagent/updown/internal/config"
	"github.com/polyagent/updown/internal/executor"
	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/market"
	"github.com/polyagent/updown/internal/notify"
	"github.com/polyagent/updown/internal/policy"
	"github.com/polyagent/updown/internal/positions"
	"github.com/polyagent/updown/internal/redeem"
	"github.com/polyagent/updown/internal/safety"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("asset", cfg.TradingAsset).
		Str("strategy", cfg.Strategy).
		Bool("dry_run", cfg.DryRun).
		Msg("🎲 Updown agent starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== CORE COMPONENTS ======

	bus := activity.NewBus()
	ledger := safety.NewLedger(safety.Limits{
		MaxTradeSize:   cfg.MaxTradeSize,
		DailyLossLimit: cfg.DailyLossLimit,
		MaxDailyLosses: cfg.MaxDailyLosses,
	}, bus)

	// 1. Reference price feed
	feedClient := feed.NewClient(cfg.TickerWSURL, cfg.TickerSymbol)
	feedClient.Start()

	// 2. Wallet key - order signing and on-chain redemption
	var privateKey *ecdsa.PrivateKey
	if cfg.WalletPrivateKey != "" {
		privateKey, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.WalletPrivateKey, "0x"))
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid WALLET_PRIVATE_KEY")
		}
	} else {
		log.Warn().Msg("⚠️ No wallet key - live trading and redemption disabled")
	}

	// 3. CLOB client and order signer
	creds := clob.Creds{
		APIKey:     cfg.CLOBApiKey,
		APISecret:  cfg.CLOBApiSecret,
		Passphrase: cfg.CLOBPassphrase,
	}
	var signer *clob.OrderSigner
	if privateKey != nil {
		// spike entries chase fast-moving books, allow a higher fee cap
		feeRateBps := int64(0)
		if cfg.Strategy == "spike" {
			feeRateBps = 100
		}
		signer = clob.NewOrderSigner(privateKey, feeRateBps)
		creds.Address = signer.Address().Hex()
		log.Info().Str("signer", creds.Address).Msg("💳 Order signer ready")
	}
	clobClient := clob.NewClient(cfg.CLOBURL, creds, nil)

	// 4. Market discovery and snapshot fetcher
	scanner := market.NewScanner(cfg.GammaAPIURL, cfg.TradingAsset, cfg.MinMinutesLeft, cfg.MaxMinutesLeft)
	fetcher := market.NewFetcher(clobClient)

	// 5. Decision policy
	var strategy policy.Strategy
	var spike *policy.SpikeDetector
	if cfg.Strategy == "spike" {
		spike = policy.NewSpikeDetector(cfg.SpikeThreshold, cfg.MinSpikeSpeed)
		strategy = spike
	} else {
		strategy = policy.NewLLMPolicy(cfg.LLMAPIKey, cfg.LLMModel)
	}

	// 6. Executor
	exec := executor.New(clobClient, signer, bus, executor.DefaultRetryPolicy, cfg.DryRun)

	// 7. Redemption queue and engine
	queue := redeem.NewQueue()
	engine, err := redeem.NewEngine(queue, bus, privateKey, cfg.KnownProxyWallet, cfg.PolygonRPCURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize redemption engine")
	}

	// 8. Position recovery
	positionScanner := positions.NewScanner(cfg.DataAPIURL, queue, bus)
	if engine.Enabled() {
		go positionScanner.ScanOnce(ctx, engine.SignerAddress().Hex(), cfg.KnownProxyWallet)
	}

	// 9. Telegram (optional)
	telegram := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if telegram != nil {
		engine.SetNotifier(telegram)
	}

	// ====== COORDINATOR ======

	coordinator := bot.New(bot.Deps{
		Asset:         cfg.TradingAsset,
		ScanInterval:  cfg.ScanInterval,
		MaxEntryPrice: cfg.MaxEntryPrice,
		Bus:           bus,
		Ledger:        ledger,
		Feed:          feedClient,
		Scanner:       scanner,
		Fetcher:       fetcher,
		Strategy:      strategy,
		Spike:         spike,
		Executor:      exec,
		Queue:         queue,
		Redeemer:      engine,
		Notifier:      telegram,
	})
	coordinator.Start(ctx)

	// ====== HTTP DASHBOARD ======

	serverDeps := api.Deps{
		Coordinator: coordinator,
		Bus:         bus,
		Ledger:      ledger,
		Feed:        feedClient,
		Clob:        clobClient,
		Queue:       queue,
		Engine:      engine,
		Positions:   positionScanner,
	}
	if telegram != nil {
		serverDeps.Notifier = telegram
	}
	server := api.NewServer(serverDeps)
	go func() {
		if err := server.Run(ctx, cfg.HTTPPort); err != nil {
			log.Error().Err(err).Msg("Dashboard server stopped")
		}
	}()

	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 Received shutdown signal")

	coordinator.Stop()
	feedClient.Stop()
	cancel()

	log.Info().Msg("👋 Goodbye!")
}
