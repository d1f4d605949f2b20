package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache shares fetched rate tables between server and worker
// processes so a rate-source call is made once per TTL per fleet.
type RedisCache struct {
	client *redis.Client
	prefix string
}

type cachedRate struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// NewRedisCache creates a shared cache tier on client.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "chandlery"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(code string) string {
	return fmt.Sprintf("%s:fx:usd:%s", r.prefix, code)
}

// GetRate implements SharedCache. A miss is not an error.
func (r *RedisCache) GetRate(ctx context.Context, code string) (decimal.Decimal, time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.key(code)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, time.Time{}, false, nil
	}
	if err != nil {
		return decimal.Zero, time.Time{}, false, err
	}

	var v cachedRate
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("corrupt cached rate for %s: %w", code, err)
	}
	return v.Rate, v.FetchedAt, true, nil
}

// SetRates implements SharedCache.
func (r *RedisCache) SetRates(ctx context.Context, rates map[string]decimal.Decimal, fetchedAt time.Time, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	for code, rate := range rates {
		data, err := json.Marshal(cachedRate{Rate: rate, FetchedAt: fetchedAt})
		if err != nil {
			return err
		}
		pipe.Set(ctx, r.key(code), data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
