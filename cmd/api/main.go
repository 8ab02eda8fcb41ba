package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalogsync/internal/api"
	"catalogsync/internal/app"
	"catalogsync/internal/auth"
	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/services/webhooks"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer a.Close()

	// Async sync jobs go to the worker through Kafka when brokers are set
	var publisher events.Publisher
	if len(events.Brokers(cfg.KafkaBrokers)) > 0 {
		kp := events.NewKafkaPublisher(cfg, logger)
		defer kp.Close()
		publisher = kp
	}

	server := api.New(cfg, logger, api.Deps{
		DB:          a.DB,
		Catalog:     a.Catalog,
		Connections: a.Connections,
		Syncer:      a.Manager,
		Validator:   a.Validator,
		Verifier:    auth.NewVerifier(cfg.JWTSecret),
		OAuth:       shopify.NewOAuthService(cfg, logger),
		Webhooks:    webhooks.NewProcessor(a.Catalog, a.Connections, cfg.ShopifyWebhookSecret, logger),
		Publisher:   publisher,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
		os.Exit(1)
	}
}
