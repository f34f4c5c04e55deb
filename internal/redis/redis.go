package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects a redis client and pings it before handing it out. The
// client carries the shared snapshot cache, the block-change channel and
// the rate limiter, so a dead redis should fail startup, not the first
// request.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	const op = "redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return client, nil
}
