package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"metered-messaging/config"
	httpHandler "metered-messaging/internal/adapter/http/handler"
	"metered-messaging/internal/adapter/provider"
	pgStorage "metered-messaging/internal/adapter/storage/postgres"
	redisStorage "metered-messaging/internal/adapter/storage/redis"
	"metered-messaging/internal/core/ports"
	"metered-messaging/internal/service"
	"metered-messaging/pkg/logger"
)

const conversationTTL = 24 * time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Metered Messaging worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	campaignRepo := pgStorage.NewCampaignRepo(pool)
	recipientRepo := pgStorage.NewRecipientRepo(pool)
	leadRepo := pgStorage.NewLeadRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis-backed adapters
	stream := redisStorage.NewStream(rdb, cfg.Stream)
	conversations := redisStorage.NewConversationStore(rdb, conversationTTL)

	// Initialize external providers
	transport := provider.NewSendTransport(cfg.WhatsApp, log)
	replies := provider.NewReplyGenerator(cfg.LLM)
	moderator := provider.NewKeywordModerator(cfg.Moderation.Enabled)

	// Initialize core services
	ledgerSvc := service.NewLedgerService(transactor, walletRepo, ledgerRepo, cfg.Credits, log)
	consumer := service.NewConsumer(stream, ledgerSvc, conversations, replies, moderator, transport, cfg.Stream, cfg.Credits, log)
	executor := service.NewCampaignExecutor(campaignRepo, recipientRepo, leadRepo, ledgerSvc, transport, cfg.Campaign, cfg.Credits, log)
	scheduler := service.NewScheduler(campaignRepo, executor, cfg.Campaign.Tick, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router for the ops API
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:         ledgerSvc,
		Campaigns:      campaignRepo,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	var wg sync.WaitGroup

	// Inbound event consumer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("consumer exited")
			stop()
		}
	}()

	// Campaign scheduler
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler exited")
			stop()
		}
	}()

	// Ops API server
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()

	log.Info().Msg("Worker exited")
}
