package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amrrdev/keygen/internal/config"
	"github.com/amrrdev/keygen/internal/handler"
	"github.com/amrrdev/keygen/internal/jwt"
	"github.com/amrrdev/keygen/internal/logger"
	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/middleware"
	"github.com/amrrdev/keygen/internal/queue"
	"github.com/amrrdev/keygen/internal/server"
	"github.com/amrrdev/keygen/internal/service"
	"github.com/amrrdev/keygen/internal/store"
	"github.com/gin-gonic/gin"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "keygen-api")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New(cfg.AppEnv, "keygen-api")
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	results, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.ResultStore).Msg("failed to open result store")
	}
	defer results.Close()

	rabbitClient, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer rabbitClient.Close()
	log.Info().Msg("connected to rabbitmq")

	producer, err := queue.NewProducer(rabbitClient, cfg.KeygenQueue, cfg.DLQName, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize producer")
	}

	var authMiddleware *middleware.AuthMiddleware
	if cfg.JWTSecretKey != "" {
		authMiddleware = middleware.NewAuthMiddleware(jwt.NewService(cfg.JWTSecretKey, cfg.AccessTokenTTL))
		log.Info().Msg("bearer token auth enabled")
	}

	collector := metrics.NewCollector()
	keygenService := service.NewKeygen(producer, results, collector, log)
	keygenHandler := handler.NewKeygenHandler(keygenService)

	srv := &http.Server{
		Addr:              cfg.APIPort,
		Handler:           server.NewServer(keygenHandler, authMiddleware, collector, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.APIPort).Msg("keygen api starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down keygen api")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
