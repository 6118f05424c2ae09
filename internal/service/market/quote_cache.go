package market

import (
	"context"
	"fmt"
	"time"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// QuoteCache is a non-authoritative cache for browse endpoints. Trade
// execution never reads it; the engine always quotes fresh.
type QuoteCache interface {
	Load(ctx context.Context, itemID int64) (entity.Quote, bool, error)
	Save(ctx context.Context, itemID int64, quote entity.Quote, ttl time.Duration) error
	Invalidate(ctx context.Context, itemID int64) error
}

type RedisQuoteCache struct {
	client *redis.Client
}

func NewRedisQuoteCache(cacheDSN string) (*RedisQuoteCache, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("redis cache_dsn is required")
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
	}

	return &RedisQuoteCache{client: redis.NewClient(options)}, nil
}

func quoteCacheKey(itemID int64) string {
	return fmt.Sprintf("quote:%d", itemID)
}

func (c *RedisQuoteCache) Load(ctx context.Context, itemID int64) (entity.Quote, bool, error) {
	raw, err := c.client.Get(ctx, quoteCacheKey(itemID)).Result()
	if err != nil {
		if err == redis.Nil {
			return entity.Quote{}, false, nil
		}
		return entity.Quote{}, false, err
	}

	var quote entity.Quote
	if err := json.Unmarshal([]byte(raw), &quote); err != nil {
		return entity.Quote{}, false, err
	}

	return quote, true, nil
}

func (c *RedisQuoteCache) Save(ctx context.Context, itemID int64, quote entity.Quote, ttl time.Duration) error {
	payload, err := json.Marshal(quote)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, quoteCacheKey(itemID), payload, ttl).Err()
}

func (c *RedisQuoteCache) Invalidate(ctx context.Context, itemID int64) error {
	return c.client.Del(ctx, quoteCacheKey(itemID)).Err()
}

func (c *RedisQuoteCache) Close() error {
	return c.client.Close()
}
