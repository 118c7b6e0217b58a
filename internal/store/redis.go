package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amrrdev/keygen/internal/types"
	"github.com/redis/go-redis/v9"
)

// Redis stores each document as a JSON string with SET ... EX.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Upsert(ctx context.Context, doc *types.ResultDocument) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := r.client.Set(ctx, r.key(doc.RequestID), data, doc.TTL()).Err(); err != nil {
		return fmt.Errorf("failed to upsert result %s: %w", doc.RequestID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, requestID string) (*types.ResultDocument, error) {
	data, err := r.client.Get(ctx, r.key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", requestID, err)
	}

	var doc types.ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", requestID, err)
	}
	return &doc, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(requestID string) string {
	if r.prefix == "" {
		return "result:" + requestID
	}
	return fmt.Sprintf("%s:result:%s", r.prefix, requestID)
}
