/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the transport courier and consumer, the strategy registry, the core
 * application service, the scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the relocation rate limiter.
 * - internal/api, internal/app, internal/config, internal/store, internal/strategy:
 *   Internal packages for the service.
 * - pkg/transport: Message codec, fee quoter, and AMQP courier/consumer.
 * - pkg/yieldclient: Client for the external yield source API.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/yieldrelay/ledger-service/internal/api"
	"github.com/yieldrelay/ledger-service/internal/app"
	"github.com/yieldrelay/ledger-service/internal/config"
	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/internal/strategy"
	"github.com/yieldrelay/ledger-service/pkg/transport"
	"github.com/yieldrelay/ledger-service/pkg/yieldclient"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=LEDGER_SERVICE_INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" chain_id=%s port=%s", cfg.ChainID, cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	// Align with the rest of the platform for consistency
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Ensure required tables exist (idempotent)
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS balances (
            user_id UUID NOT NULL,
            asset TEXT NOT NULL,
            available BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (user_id, asset)
        );
        CREATE TABLE IF NOT EXISTS strategy_positions (
            user_id UUID NOT NULL,
            asset TEXT NOT NULL,
            strategy_id TEXT NOT NULL,
            deployed BIGINT NOT NULL DEFAULT 0 CHECK (deployed >= 0),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (user_id, asset, strategy_id)
        );
        CREATE TABLE IF NOT EXISTS outbound_intents (
            id UUID PRIMARY KEY,
            message_id TEXT NOT NULL UNIQUE,
            user_id UUID NOT NULL,
            asset TEXT NOT NULL,
            amount BIGINT NOT NULL CHECK (amount > 0),
            fee BIGINT NOT NULL DEFAULT 0,
            source_chain TEXT NOT NULL,
            destination_chain TEXT NOT NULL,
            status TEXT NOT NULL,
            failure_reason TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE UNIQUE INDEX IF NOT EXISTS outbound_intents_open_tuple
            ON outbound_intents (user_id, asset, destination_chain)
            WHERE status IN ('pending', 'sent');
        CREATE TABLE IF NOT EXISTS inbound_messages (
            message_id TEXT PRIMARY KEY,
            source_chain TEXT NOT NULL,
            user_id UUID NOT NULL,
            asset TEXT NOT NULL,
            amount BIGINT NOT NULL CHECK (amount > 0),
            processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS relocation_mandates (
            user_id UUID NOT NULL,
            asset TEXT NOT NULL,
            enabled BOOLEAN NOT NULL DEFAULT FALSE,
            min_idle_amount BIGINT NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (user_id, asset)
        );
        CREATE TABLE IF NOT EXISTS remote_rates (
            chain_id TEXT NOT NULL,
            asset TEXT NOT NULL,
            strategy_id TEXT NOT NULL,
            rate_bps BIGINT NOT NULL,
            reported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (chain_id, asset, strategy_id)
        );
        CREATE TABLE IF NOT EXISTS ledger_entries (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL,
            asset TEXT NOT NULL,
            entry_type TEXT NOT NULL,
            amount BIGINT NOT NULL,
            reference_id TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}

	// Initialize the AMQP courier. Relocations debit funds before the message
	// departs, so the service refuses to boot without a working transport.
	courier, err := transport.NewAMQPCourier(cfg.RabbitMQURL, cfg.TransportExchange, cfg.KnownChainList)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"transport courier init failed\" err=%v", err)
	}
	defer courier.Close()
	log.Println("level=info component=bootstrap msg=\"transport courier connected\"")

	// Optional Redis client for the per-user relocation rate limiter.
	var redisClient *redis.Client
	if cfg.RelocationRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; relocation rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; relocation rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; relocation rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Register the local yield strategies. The savings vault always exists; the
	// external venue is added only when its API is configured.
	registry := strategy.NewRegistry()
	registry.Register("savings-vault", strategy.NewSavingsVault(cfg.VaultStrategyRateBps, cfg.VaultLiquidityLimit))
	if strings.TrimSpace(cfg.YieldSourceAPIBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"yield source api not configured; external strategy disabled\" env=YIELD_SOURCE_API_BASE_URL")
	} else {
		yieldClient := yieldclient.NewClient(cfg.YieldSourceAPIBaseURL, cfg.YieldSourceAPIKey)
		registry.Register("external-yield", strategy.NewRESTAdapter(yieldClient))
	}

	// Fee schedule for outbound deliveries, with per-destination overrides.
	overrides := make(map[string]transport.FeePolicy, len(cfg.FeeOverrides))
	for chain, policy := range cfg.FeeOverrides {
		overrides[chain] = transport.FeePolicy{BaseFee: policy.BaseFee, PerByte: policy.PerByte}
	}
	quoter := transport.NewScheduleFeeQuoter(
		transport.FeePolicy{BaseFee: cfg.TransportBaseFee, PerByte: cfg.TransportFeePerByte},
		overrides,
		cfg.KnownChainList,
	)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(
		repository,
		courier,
		quoter,
		registry,
		cfg.ChainID,
		cfg.KnownChainList,
		cfg.SupportedAssetList,
		time.Duration(cfg.IntentRecoveryTimeoutMin)*time.Minute,
	)
	if redisClient != nil {
		ledgerService.SetRelocationRateLimiter(
			app.NewRedisRelocationRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.RelocationRateLimitPerMinute,
		)
	}

	// Wire up the transport consumers: deliveries addressed to this chain and
	// receipts for messages this chain sent.
	consumer, err := transport.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"transport consumer init failed\" err=%v", err)
	}
	defer consumer.Close()

	deliveryConsumer := app.NewDeliveryConsumer(ledgerService, cfg.ChainID)
	receiptConsumer := app.NewReceiptConsumer(ledgerService)
	transportBindings := map[string]func([]byte) bool{
		transport.DeliveryRoutingKey(cfg.ChainID): deliveryConsumer.HandleMessage,
		transport.ReceiptRoutingKey(cfg.ChainID):  receiptConsumer.HandleMessage,
	}
	if err := consumer.ConsumeWithBindings(cfg.TransportExchange, cfg.TransportQueue, transportBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"transport consumer start failed\" err=%v", err)
	}

	// Start the cron scheduler for the relocation router and maintenance jobs.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, ledgerService, registry, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	defaultAsset := ""
	if len(cfg.SupportedAssetList) > 0 {
		defaultAsset = cfg.SupportedAssetList[0]
	}

	// Initialize the API handlers and router.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService, defaultAsset)
	router := api.LedgerRoutes(ledgerHandlers, cfg.AuthJWKSURL, cfg.InternalAPIKey)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
