package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

const redisKeyPrefix = "threatscope:report:"

// RedisStore is a Store backed by Redis for multi-node deployments. Reports
// are serialized as JSON. The native key TTL is set with a grace margin; the
// report's own expiry timestamp is what governs freshness, so clock skew
// between nodes cannot resurrect a stale entry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.ThreatReport, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var report domain.ThreatReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("redis entry decode: %w", err)
	}
	if report.Expired(time.Now().UTC()) {
		_ = s.client.Del(ctx, redisKeyPrefix+key).Err()
		return nil, ErrCacheMiss
	}
	return &report, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, report *domain.ThreatReport, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("redis entry encode: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl+time.Minute).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
