package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// JobSource is the queue side of the worker.
type JobSource interface {
	Consume() (<-chan amqp.Delivery, error)
	Republish(ctx context.Context, msg amqp.Delivery, retryCount int) error
}

type Config struct {
	Concurrency    int
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    5,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		PublishTimeout: 10 * time.Second,
	}
}

type KeygenWorker struct {
	source    JobSource
	processor *Processor
	metrics   *metrics.Collector
	logger    zerolog.Logger
	cfg       Config
}

func NewKeygenWorker(source JobSource, processor *Processor, collector *metrics.Collector, logger zerolog.Logger, cfg Config) *KeygenWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &KeygenWorker{
		source:    source,
		processor: processor,
		metrics:   collector,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start blocks until ctx is cancelled or the broker closes the delivery
// channel. In-flight jobs are allowed to finish either way.
func (w *KeygenWorker) Start(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("starting keygen worker")

	messages, err := w.source.Consume()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.worker(ctx, workerID, messages)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info().Msg("shutting down workers")
		<-done
		return ctx.Err()
	case <-done:
		return ErrDeliveriesClosed
	}
}

func (w *KeygenWorker) worker(ctx context.Context, workerID int, messages <-chan amqp.Delivery) {
	log := w.logger.With().Int("worker_id", workerID).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				log.Debug().Msg("worker stopped (channel closed)")
				return
			}
			w.handleDelivery(ctx, log, msg)

		case <-ctx.Done():
			log.Debug().Msg("worker stopped (context cancelled)")
			return
		}
	}
}

// handleDelivery acks on success, republishes with an incremented retry
// header on transient failure, and dead-letters once retries run out.
func (w *KeygenWorker) handleDelivery(ctx context.Context, log zerolog.Logger, msg amqp.Delivery) {
	done := w.metrics.TrackInFlight()
	defer done()

	// A job that has started runs to completion even during shutdown.
	jobCtx := context.WithoutCancel(ctx)

	outcome, err := w.processor.Process(jobCtx, msg.Body, msg.CorrelationId)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Warn().Err(ackErr).Str("request_id", outcome.RequestID).Msg("failed to ack message")
		}
		return
	}

	retryCount := queue.RetryCount(msg)
	log = log.With().Str("request_id", outcome.RequestID).Int("attempt", retryCount+1).Logger()
	log.Error().Err(err).Msg("failed to process job")

	if !errors.Is(err, ErrPermanent) && retryCount < w.cfg.MaxRetries {
		retryCount++
		if !w.sleep(ctx, w.backoff(retryCount)) {
			// Shutting down: hand the message back untouched.
			if nackErr := msg.Nack(false, true); nackErr != nil {
				log.Warn().Err(nackErr).Msg("failed to requeue message")
			}
			return
		}

		pubErr := w.republish(jobCtx, msg, retryCount)
		if pubErr == nil {
			w.metrics.RecordRetried()
			log.Info().Int("retry", retryCount).Int("max_retries", w.cfg.MaxRetries).Msg("retrying job")
			if ackErr := msg.Ack(false); ackErr != nil {
				log.Warn().Err(ackErr).Msg("failed to ack republished message")
			}
			return
		}
		log.Error().Err(pubErr).Msg("failed to republish job")
	}

	w.deadLetter(jobCtx, log, msg, outcome, err)
}

func (w *KeygenWorker) deadLetter(ctx context.Context, log zerolog.Logger, msg amqp.Delivery, outcome Outcome, cause error) {
	if err := w.processor.RecordFailure(ctx, outcome, cause); err != nil {
		log.Error().Err(err).Msg("failed to record terminal failure")
	}

	w.metrics.RecordDead()
	log.Warn().Msg("sending job to DLQ")
	if err := msg.Nack(false, false); err != nil {
		log.Warn().Err(err).Msg("failed to nack message")
	}
}

// republish bounds the publish so a broker applying flow control cannot hold
// the delivery unacked forever.
func (w *KeygenWorker) republish(ctx context.Context, msg amqp.Delivery, retryCount int) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	defer cancel()
	return w.source.Republish(ctx, msg, retryCount)
}

func (w *KeygenWorker) backoff(retry int) time.Duration {
	d := w.cfg.RetryBackoff
	for i := 1; i < retry && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > w.cfg.MaxBackoff {
		d = w.cfg.MaxBackoff
	}
	return d
}

func (w *KeygenWorker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
