package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisPingTimeout bounds the startup connectivity check so a dead Redis
// host fails fast instead of hanging pagewave's boot sequence.
const redisPingTimeout = 5 * time.Second

// NewRedisClient creates a Redis client from the given URL, backing
// pkg/contact's reprioritization counters. It pings once at startup so a
// misconfigured REDIS_URL surfaces immediately rather than on the first
// contact resolution.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
