// Package cache publishes the latest percentile sweep to Redis for readers
// that should not touch the ledger database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gacha-ledger/internal/domain"
)

type percentileEntry struct {
	Count      float64  `json:"count"`
	TierA      *float64 `json:"tier_a,omitempty"`
	TierB      *float64 `json:"tier_b,omitempty"`
	ComputedAt int64    `json:"computed_at"`
}

// PercentileKey holds one hash per category, field = account id.
func PercentileKey(category domain.Category) string {
	return fmt.Sprintf("gacha:percentiles:%s", category)
}

func sweepKey(category domain.Category) string {
	return fmt.Sprintf("gacha:percentiles:%s:swept_at", category)
}

type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPublisher(client *redis.Client, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, ttl: ttl}
}

// NewClient connects and pings, so a bad address fails at startup rather than
// on the first sweep.
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func encodeEntries(results map[int64]domain.GlobalPercentile) (map[string]any, error) {
	values := make(map[string]any, len(results))
	for id, p := range results {
		data, err := json.Marshal(percentileEntry{
			Count:      p.CountPercentile,
			TierA:      p.TierALuckPercentile,
			TierB:      p.TierBLuckPercentile,
			ComputedAt: p.ComputedAt.Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling percentile for %d: %w", id, err)
		}
		values[strconv.FormatInt(id, 10)] = data
	}
	return values, nil
}

// PublishPercentiles replaces the category's hash with a full sweep result.
func (p *RedisPublisher) PublishPercentiles(ctx context.Context, category domain.Category, results map[int64]domain.GlobalPercentile, sweptAt time.Time) error {
	values, err := encodeEntries(results)
	if err != nil {
		return err
	}

	key := PercentileKey(category)
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, p.ttl)
	}
	pipe.Set(ctx, sweepKey(category), sweptAt.Unix(), p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing %s percentiles: %w", category, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
