package store

import (
	"context"
	"fmt"

	"github.com/amrrdev/keygen/internal/config"
	"github.com/amrrdev/keygen/internal/scylladb"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open connects the backend selected by RESULT_STORE.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ResultStore, error) {
	switch cfg.ResultStore {
	case config.StoreScylla:
		db, err := scylladb.Connect(scylladb.Config{
			Hosts:    cfg.ScyllaHosts,
			Keyspace: cfg.ScyllaKeyspace,
			Timeout:  cfg.ScyllaTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Strs("hosts", cfg.ScyllaHosts).Msg("connected to scylladb")
		return NewScylla(db), nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		return NewRedis(client, cfg.RedisPrefix), nil

	case config.StoreMinIO:
		m, err := NewMinIO(ctx, &MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			ResultTTL: cfg.ResultTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio: %w", err)
		}
		logger.Info().Str("bucket", cfg.MinIOBucket).Msg("connected to minio")
		return m, nil
	}

	return nil, fmt.Errorf("unknown result store %q", cfg.ResultStore)
}
