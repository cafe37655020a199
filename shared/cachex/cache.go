package cachex

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"fleet-telemetry-pipeline/shared/config"
)

// New builds the Redis client shared by the state cache and the ops health
// check. Pooling and reconnects are the client's concern.
func New(cfg config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return errors.New("redis client not initialized")
	}
	return client.Ping(ctx).Err()
}
