package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amrrdev/keygen/internal/keygen"
	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/store"
	"github.com/amrrdev/keygen/internal/types"
	"github.com/rs/zerolog"
)

// ErrPermanent marks failures that no amount of redelivery can fix.
var ErrPermanent = errors.New("permanent job failure")

const (
	errCodeInvalidMessage = "invalid_job_message"
	errCodeGeneration     = "key_generation_failed"
)

type KeyGenerator interface {
	Generate(keyType string, keyBits int) (*keygen.KeyPair, error)
}

// Outcome describes what Process learned about a delivery, even on failure,
// so the caller can report against the right identity.
type Outcome struct {
	RequestID string
	KeyType   string
	KeyBits   int
	Duplicate bool
}

// Processor turns one queue body into one result document.
type Processor struct {
	results   store.ResultStore
	generator KeyGenerator
	metrics   *metrics.Collector
	logger    zerolog.Logger
	ttl       time.Duration
	now       func() time.Time
}

func NewProcessor(results store.ResultStore, generator KeyGenerator, collector *metrics.Collector, logger zerolog.Logger, ttl time.Duration) *Processor {
	if ttl <= 0 {
		ttl = types.DefaultResultTTL
	}
	return &Processor{
		results:   results,
		generator: generator,
		metrics:   collector,
		logger:    logger,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Process is safe to run any number of times for the same message: the
// document is keyed by request id and written with an upsert.
func (p *Processor) Process(ctx context.Context, body []byte, correlationID string) (Outcome, error) {
	outcome := Outcome{
		RequestID: recoverRequestID("", correlationID),
		KeyType:   types.DefaultKeyType,
		KeyBits:   types.DefaultKeyBits,
	}

	msg, warnings, err := types.DecodeJobMessage(body)
	if err != nil {
		return outcome, fmt.Errorf("%w: failed to decode job message: %v", ErrPermanent, err)
	}

	outcome.RequestID = recoverRequestID(msg.RequestID, correlationID)
	outcome.KeyType = msg.KeyType
	outcome.KeyBits = msg.KeyBits
	if outcome.RequestID == types.UnknownRequestID {
		return outcome, fmt.Errorf("%w: job message has no request_id", ErrPermanent)
	}

	log := p.logger.With().Str("request_id", outcome.RequestID).Logger()
	for _, warning := range warnings {
		log.Warn().Msg(warning)
	}

	existing, err := p.results.Get(ctx, outcome.RequestID)
	switch {
	case err == nil && existing.Status == types.StatusComplete:
		p.metrics.RecordDuplicate()
		log.Info().Msg("result already complete, skipping redelivered job")
		outcome.Duplicate = true
		return outcome, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Warn().Err(err).Msg("failed to check for existing result")
	}

	start := p.now()
	pair, err := p.generator.Generate(msg.KeyType, msg.KeyBits)
	if err != nil {
		return outcome, fmt.Errorf("failed to generate keys: %w", err)
	}
	elapsed := time.Since(start)

	doc := &types.ResultDocument{
		ID:          outcome.RequestID,
		RequestID:   outcome.RequestID,
		Status:      types.StatusComplete,
		KeyType:     pair.KeyType,
		KeyBits:     pair.KeyBits,
		PublicKey:   base64.StdEncoding.EncodeToString(pair.PublicKey),
		PrivateKey:  base64.StdEncoding.EncodeToString(pair.PrivateKey),
		Fingerprint: pair.Fingerprint,
		TTLSeconds:  int(p.ttl.Seconds()),
		CreatedAt:   p.now().Unix(),
	}

	if err := p.results.Upsert(ctx, doc); err != nil {
		return outcome, fmt.Errorf("failed to store result: %w", err)
	}

	p.metrics.RecordCompleted(pair.KeyType, elapsed.Seconds())
	log.Info().
		Str("key_type", pair.KeyType).
		Int("key_bits", pair.KeyBits).
		Dur("duration", elapsed).
		Msg("keypair generated")
	return outcome, nil
}

// RecordFailure writes a terminal error document so pollers stop waiting. A
// complete document written by a concurrent delivery is never overwritten,
// and nothing is written when the store cannot tell whether one exists.
func (p *Processor) RecordFailure(ctx context.Context, outcome Outcome, cause error) error {
	if outcome.RequestID == "" || outcome.RequestID == types.UnknownRequestID {
		return nil
	}

	existing, err := p.results.Get(ctx, outcome.RequestID)
	switch {
	case err == nil && existing.Status == types.StatusComplete:
		return nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		// Without a successful read the document may already be complete.
		return fmt.Errorf("failed to check existing result: %w", err)
	}

	code := errCodeGeneration
	if errors.Is(cause, ErrPermanent) {
		code = errCodeInvalidMessage
	}

	doc := &types.ResultDocument{
		ID:         outcome.RequestID,
		RequestID:  outcome.RequestID,
		Status:     types.StatusError,
		KeyType:    outcome.KeyType,
		KeyBits:    outcome.KeyBits,
		Error:      code,
		TTLSeconds: int(p.ttl.Seconds()),
		CreatedAt:  p.now().Unix(),
	}
	if err := p.results.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("failed to store error result: %w", err)
	}
	return nil
}

func recoverRequestID(fromBody, correlationID string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(correlationID); id != "" {
		return id
	}
	return types.UnknownRequestID
}
