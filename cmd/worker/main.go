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
	"github.com/amrrdev/keygen/internal/keygen"
	"github.com/amrrdev/keygen/internal/logger"
	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/queue"
	"github.com/amrrdev/keygen/internal/store"
	"github.com/amrrdev/keygen/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "keygen-worker")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New(cfg.AppEnv, "keygen-worker")

	// run owns every client, so its deferred closes have finished before a
	// non-zero exit.
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}
	log.Info().Msg("worker shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	results, err := store.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer results.Close()

	rabbitClient, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	log.Info().Msg("connected to rabbitmq")

	// The consumer closes the rabbitmq channel and connection it was built on.
	consumer, err := queue.NewConsumer(rabbitClient, cfg.KeygenQueue, cfg.DLQName, cfg.WorkerPrefetch)
	if err != nil {
		rabbitClient.Close()
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close rabbitmq")
		}
	}()

	collector := metrics.NewCollector()
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	processor := worker.NewProcessor(results, keygen.NewGenerator(log), collector, log, cfg.ResultTTL)

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.WorkerConcurrency
	workerCfg.MaxRetries = cfg.WorkerMaxRetries
	workerCfg.RetryBackoff = cfg.WorkerRetryBackoff

	keygenWorker := worker.NewKeygenWorker(consumer, processor, collector, log, workerCfg)

	return stopReason(keygenWorker.Start(ctx))
}

// stopReason maps the worker's exit to the process exit: a signal is a clean
// stop, a broker disconnect is a failure so supervisors restart the worker.
func stopReason(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
