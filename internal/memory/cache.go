package memory

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/convostore/internal/metrics"
)

// CacheConfig configures an EmbeddingCache.
type CacheConfig struct {
	// TTL of local entries. Zero keeps entries for the process lifetime.
	TTL             time.Duration
	CleanupInterval time.Duration

	// Redis, when set, is a shared second tier consulted on local misses.
	Redis     goredis.UniversalClient
	KeyPrefix string
	RedisTTL  time.Duration

	Logger *slog.Logger
}

// EmbeddingCache maps input texts to their chunks and vectors. Keys are the
// xxhash of the whole text. Concurrent misses for the same text are not
// coalesced; both callers embed and the last write wins.
type EmbeddingCache struct {
	local    *cache.Cache
	redis    goredis.UniversalClient
	prefix   string
	redisTTL time.Duration
	logger   *slog.Logger
}

// NewEmbeddingCache creates a cache.
func NewEmbeddingCache(cfg CacheConfig) *EmbeddingCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EmbeddingCache{
		local:    cache.New(ttl, cfg.CleanupInterval),
		redis:    cfg.Redis,
		prefix:   cfg.KeyPrefix,
		redisTTL: cfg.RedisTTL,
		logger:   cfg.Logger,
	}
}

// CacheKey returns the cache key of text.
func CacheKey(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// Get looks key up locally, then in redis. Redis hits are copied to the
// local tier. Redis failures are logged and treated as misses.
func (c *EmbeddingCache) Get(ctx context.Context, key string) (*EmbeddingEntry, bool) {
	if v, ok := c.local.Get(key); ok {
		if entry, ok := v.(*EmbeddingEntry); ok {
			metrics.EmbeddingCacheLookups.WithLabelValues("local", "hit").Inc()
			return entry, true
		}
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("local", "miss").Inc()

	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("embedding cache redis get failed", "key", key, "error", err)
		}
		metrics.EmbeddingCacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	var entry EmbeddingEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("embedding cache entry is corrupt", "key", key, "error", err)
		metrics.EmbeddingCacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("redis", "hit").Inc()
	c.local.Set(key, &entry, cache.DefaultExpiration)
	return &entry, true
}

// Set stores entry in both tiers.
func (c *EmbeddingCache) Set(ctx context.Context, key string, entry *EmbeddingEntry) {
	c.local.Set(key, entry, cache.DefaultExpiration)
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("embedding cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, c.prefix+key, raw, c.redisTTL).Err(); err != nil {
		c.logger.Warn("embedding cache redis set failed", "key", key, "error", err)
	}
}

// Len returns the number of local entries.
func (c *EmbeddingCache) Len() int {
	return c.local.ItemCount()
}
