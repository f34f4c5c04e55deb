package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seathold/seathold/internal/domain"
)

type Cache struct {
	rdb *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

func (c *Cache) GetString(ctx context.Context, key string) (string, bool, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return s, true, nil
}

func (c *Cache) SetString(
	ctx context.Context,
	key string,
	val string,
	ttl time.Duration,
) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return c.rdb.Del(ctx, keys...).Err()
}

func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T

	s, ok, err := c.GetString(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}

	var out T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return zero, false, err
	}

	return out, true, nil
}

func SetJSON(
	ctx context.Context,
	c *Cache,
	key string,
	val any,
	ttl time.Duration,
) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.SetString(ctx, key, string(b), ttl)
}

// GetSnapshot reads the cached status list for one (event, block) key.
func (c *Cache) GetSnapshot(ctx context.Context, eventID, blockID int64) ([]domain.SeatStatus, bool, error) {
	return GetJSON[[]domain.SeatStatus](ctx, c, KeyBlockSnapshot(eventID, blockID))
}

// SetSnapshot stores the status list for one (event, block) key.
func (c *Cache) SetSnapshot(
	ctx context.Context,
	eventID, blockID int64,
	snap []domain.SeatStatus,
	ttl time.Duration,
) error {
	return SetJSON(ctx, c, KeyBlockSnapshot(eventID, blockID), snap, ttl)
}

// InvalidateBlock drops the cached snapshot for one (event, block) key.
func (c *Cache) InvalidateBlock(ctx context.Context, eventID, blockID int64) error {
	return c.Del(ctx, KeyBlockSnapshot(eventID, blockID))
}
