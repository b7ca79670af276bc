package cache

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisMemo keeps computed vectors in Redis with a TTL.
type RedisMemo struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
}

// NewRedisMemo connects to Redis and verifies the connection.
func NewRedisMemo(config *Config, logger *zap.Logger) (*RedisMemo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	memo := &RedisMemo{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := memo.client.Ping(ctx).Err(); err != nil {
		memo.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis memo initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return memo, nil
}

// Get fetches every key in one MGET. Corrupt entries are deleted and
// reported as misses.
func (m *RedisMemo) Get(ctx context.Context, keys []string) ([][]float32, error) {
	out := make([][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("memo lookup failed: %w", err)
	}

	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		vec, err := DecodeVector([]byte(s))
		if err != nil {
			m.logger.Warn("Dropping corrupt memo entry", zap.String("key", keys[i]), zap.Error(err))
			m.client.Del(ctx, keys[i])
			continue
		}
		out[i] = vec
	}
	return out, nil
}

// Set stores vectors with the default TTL using a pipeline
func (m *RedisMemo) Set(ctx context.Context, keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("keys and vectors length mismatch: %d vs %d", len(keys), len(vectors))
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	for i, key := range keys {
		pipe.Set(ctx, key, EncodeVector(vectors[i]), m.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Batch memo write failed", zap.Error(err))
		return fmt.Errorf("batch memo write failed: %w", err)
	}

	m.logger.Debug("Memo updated", zap.Int("vectors", len(keys)))
	return nil
}

// GetStats returns the number of memo keys under the prefix and the
// server's memory usage.
func (m *RedisMemo) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := m.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	keys, err := m.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	return &CacheStats{
		MemoryUsage: parseUsedMemory(info),
		TotalKeys:   int64(len(keys)),
	}, nil
}

// Clear removes every key under the configured prefix
func (m *RedisMemo) Clear(ctx context.Context) error {
	keys, err := m.scanKeys(ctx)
	if err != nil {
		return err
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := m.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete memo keys: %w", err)
		}
	}

	m.logger.Info("Memo cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// scanKeys lists the memo's keys. Other data in the same database is not
// touched.
func (m *RedisMemo) scanKeys(ctx context.Context) ([]string, error) {
	iter := m.client.Scan(ctx, 0, keyPattern(m.config.KeyPrefix), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan memo keys: %w", err)
	}
	return keys, nil
}

func keyPattern(prefix string) string {
	return prefix + ":*"
}

// Close closes the Redis connection
func (m *RedisMemo) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if mem, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(mem), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
