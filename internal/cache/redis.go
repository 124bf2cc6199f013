package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "amazon-scraper:cache:"

// RedisClient is the subset of *redis.Client the store needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	StrLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisStore keeps entries as single string values with a TTL equal to the
// expiry window. A SET replaces the value atomically.
type RedisStore struct {
	client RedisClient
	prefix string
	opts   Options
	logger *slog.Logger
	counters
}

func NewRedisStore(client RedisClient, prefix string, opts Options, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "cache", "backend", "redis"),
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool) {
	return s.count(s.load(ctx, key))
}

func (s *RedisStore) Contains(ctx context.Context, key string) bool {
	_, ok := s.load(ctx, key)
	return ok
}

func (s *RedisStore) load(ctx context.Context, key string) (*Entry, bool) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read cache entry", "key", key, "error", err)
		}
		return nil, false
	}

	entry, err := decodeEnvelope(key, data)
	if err != nil {
		s.logger.Warn("ignoring corrupt cache entry", "key", key, "error", err)
		return nil, false
	}

	// TTL normally removes stale values; this covers clock skew and
	// entries written with a longer window.
	if s.opts.expired(entry.CreatedAt) {
		return nil, false
	}

	return entry, true
}

func (s *RedisStore) Put(ctx context.Context, key string, payload []byte) error {
	data, err := encodeEnvelope(key, payload, s.opts.Now())
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := s.client.Set(ctx, s.redisKey(key), data, s.opts.Expiry).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, s.prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) InvalidateAll(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}

	s.logger.Info("cache cleared", "removed", len(keys))
	return nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	s.fill(&stats)

	keys, err := s.keys(ctx)
	if err != nil {
		return stats, err
	}

	for _, key := range keys {
		n, err := s.client.StrLen(ctx, key).Result()
		if err != nil {
			continue
		}
		stats.EntryCount++
		stats.TotalSizeBytes += n
	}
	return stats, nil
}

func (s *RedisStore) Prune(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, redisKey := range keys {
		data, err := s.client.Get(ctx, redisKey).Bytes()
		if err != nil {
			continue
		}
		entry, err := decodeEnvelope(strings.TrimPrefix(redisKey, s.prefix), data)
		if err != nil || s.opts.expired(entry.CreatedAt) {
			stale = append(stale, redisKey)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, stale...).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete stale keys: %w", err)
	}
	return len(stale), nil
}
