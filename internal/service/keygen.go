package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/store"
	"github.com/amrrdev/keygen/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrQueueUnavailable = errors.New("failed_to_queue_request")

// JobPublisher is the queue side of the gateway.
type JobPublisher interface {
	PublishJob(ctx context.Context, msg *types.JobMessage) error
}

type SubmitResponse struct {
	RequestID string             `json:"request_id"`
	Status    types.ResultStatus `json:"status"`
}

// StatusResult is an HTTP-shaped answer: Code is the status to send and Body
// the JSON payload.
type StatusResult struct {
	Code int
	Body any
}

type PendingResponse struct {
	Status    types.ResultStatus `json:"status"`
	RequestID string             `json:"request_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Keygen struct {
	publisher JobPublisher
	results   store.ResultStore
	metrics   *metrics.Collector
	logger    zerolog.Logger
	newID     func() string
}

func NewKeygen(publisher JobPublisher, results store.ResultStore, collector *metrics.Collector, logger zerolog.Logger) *Keygen {
	return &Keygen{
		publisher: publisher,
		results:   results,
		metrics:   collector,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Submit makes exactly one enqueue attempt. When it fails nothing has been
// written anywhere, so the caller may simply retry.
func (k *Keygen) Submit(ctx context.Context, body []byte) (*SubmitResponse, error) {
	req := types.ParseJobRequest(body)
	requestID := k.newID()

	for _, warning := range req.Warnings {
		k.logger.Warn().Str("request_id", requestID).Msg(warning)
	}

	msg := &types.JobMessage{
		RequestID: requestID,
		KeyType:   req.KeyType,
		KeyBits:   req.KeyBits,
	}

	if err := k.publisher.PublishJob(ctx, msg); err != nil {
		k.metrics.RecordEnqueueFailed()
		k.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to queue keygen request")
		return nil, ErrQueueUnavailable
	}

	k.metrics.RecordSubmitted()
	k.logger.Info().
		Str("request_id", requestID).
		Str("key_type", msg.KeyType).
		Int("key_bits", msg.KeyBits).
		Msg("keygen request queued")

	return &SubmitResponse{RequestID: requestID, Status: types.StatusQueued}, nil
}

// Status reports a missing document as pending: a job that was never
// submitted, one still in flight and one whose result expired all look the
// same to the caller.
func (k *Keygen) Status(ctx context.Context, requestID string) StatusResult {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		k.metrics.RecordStatusQuery("bad_request")
		return StatusResult{Code: http.StatusBadRequest, Body: ErrorResponse{Error: "Missing request_id"}}
	}

	doc, err := k.results.Get(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		k.metrics.RecordStatusQuery(string(types.StatusPending))
		return StatusResult{
			Code: http.StatusAccepted,
			Body: PendingResponse{Status: types.StatusPending, RequestID: requestID},
		}
	}
	if err != nil {
		k.metrics.RecordStatusQuery("internal")
		k.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to read result")
		return StatusResult{Code: http.StatusInternalServerError, Body: ErrorResponse{Error: "Internal server error"}}
	}

	k.metrics.RecordStatusQuery(string(doc.Status))
	return StatusResult{Code: http.StatusOK, Body: doc}
}
