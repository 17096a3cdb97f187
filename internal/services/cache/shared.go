package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/retry"
	"github.com/mealserve/mealserve/pkg/circuitbreaker"
)

// ErrCacheUnavailable marks shared-tier failures. It never crosses the cache
// boundary into a request result; callers see a miss and compute directly.
var ErrCacheUnavailable = errors.New("shared cache unavailable")

// Shared-tier round trips are cheap or skipped. A cache slower than this is
// treated as down.
const opTimeout = 500 * time.Millisecond

const fallbackTTL = time.Hour

// SharedCache is the cross-process prediction cache backed by Redis. Entries
// are JSON values with per-namespace TTLs. The tier is optional: a nil client
// disables it, and runtime failures trip a breaker so a dead Redis is not
// hammered on every request.
type SharedCache struct {
	client  *redis.Client
	ttls    map[string]time.Duration
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// Connect dials Redis with a short backoff. Callers treat an error as "run
// without the shared tier", not as fatal.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: no redis url configured", ErrCacheUnavailable)
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrCacheUnavailable, err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opt)

	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrCacheUnavailable, err)
	}

	logger.Info("Connected to shared cache", zap.String("url", cfg.URL), zap.Int("db", opt.DB))
	return client, nil
}

// NewSharedCache wraps a Redis client. client may be nil to disable the tier.
func NewSharedCache(client *redis.Client, ttls map[string]time.Duration, logger *zap.Logger) *SharedCache {
	return &SharedCache{
		client:  client,
		ttls:    ttls,
		breaker: circuitbreaker.New(5, 15*time.Second),
		logger:  logger,
	}
}

// Enabled reports whether the tier has a backing client.
func (c *SharedCache) Enabled() bool {
	return c != nil && c.client != nil
}

// TTLFor returns the configured TTL for a namespace.
func (c *SharedCache) TTLFor(namespace string) time.Duration {
	if ttl, ok := c.ttls[namespace]; ok {
		return ttl
	}
	c.logger.Warn("No TTL configured for cache namespace, using fallback",
		zap.String("namespace", namespace),
		zap.Duration("fallback", fallbackTTL))
	return fallbackTTL
}

// GetJSON looks a key up and unmarshals into dest. Any failure along the way
// counts as a miss; the caller computes instead.
func (c *SharedCache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	if !c.Enabled() || !c.breaker.Allow() {
		return false
	}
	// A caller whose context already expired gets a miss. That is not a
	// cache failure and must not feed the breaker.
	if ctx.Err() != nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.client.Get(opCtx, key).Bytes()
	if err == redis.Nil {
		c.breaker.RecordSuccess()
		c.misses.Add(1)
		return false
	}
	if err != nil {
		c.breaker.RecordFailure()
		c.errs.Add(1)
		c.logger.Debug("Shared cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	c.breaker.RecordSuccess()

	if err := json.Unmarshal(data, dest); err != nil {
		c.errs.Add(1)
		c.logger.Warn("Discarding undecodable shared cache entry", zap.String("key", key), zap.Error(err))
		return false
	}

	c.hits.Add(1)
	return true
}

// SetJSON stores a value under the namespace's TTL. Failures are counted and
// dropped; a store never fails a request.
func (c *SharedCache) SetJSON(ctx context.Context, namespace, key string, value interface{}) {
	if !c.Enabled() || !c.breaker.Allow() || ctx.Err() != nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("Failed to marshal cache value", zap.String("key", key), zap.Error(err))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, key, data, c.TTLFor(namespace)).Err(); err != nil {
		c.breaker.RecordFailure()
		c.errs.Add(1)
		c.logger.Debug("Shared cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.breaker.RecordSuccess()
}

// IsHealthy pings the backing Redis.
func (c *SharedCache) IsHealthy(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Ping(opCtx).Err() == nil
}

// Close releases the Redis connection.
func (c *SharedCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// SharedStats is a point-in-time snapshot for status reporting.
type SharedStats struct {
	Enabled bool                 `json:"enabled"`
	Hits    int64                `json:"hits"`
	Misses  int64                `json:"misses"`
	Errors  int64                `json:"errors"`
	HitRate float64              `json:"hit_rate"`
	Breaker circuitbreaker.State `json:"breaker"`
}

func (c *SharedCache) Stats() SharedStats {
	s := SharedStats{
		Enabled: c.Enabled(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errs.Load(),
		Breaker: c.breaker.GetState(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
