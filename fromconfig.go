package convostore

import (
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/convostore/internal/config"
	"github.com/blueberrycongee/convostore/internal/memory"
	"github.com/blueberrycongee/convostore/internal/memory/embedding"
	"github.com/blueberrycongee/convostore/internal/memory/vector"
	"github.com/blueberrycongee/convostore/internal/resilience"
)

// NewFromConfig builds a Store from a loaded configuration file. The
// embedding provider and vector index are only created when semantic recall
// is enabled. Extra options are applied last.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "code", w.Code, "message", w.Message)
	}
	base := []Option{
		WithMongo(cfg.Storage.URI, cfg.Storage.Database),
		WithPoolSize(cfg.Storage.MinPoolSize, cfg.Storage.MaxPoolSize),
		WithConnectTimeout(cfg.Storage.ConnectTimeout),
		WithMemory(memory.ConfigFrom(cfg.Memory)),
		WithLogger(logger),
		func(c *Config) { c.AppName = cfg.Storage.AppName },
	}

	if cfg.Memory.SemanticRecall.Enabled {
		emb, err := NewEmbedderFromConfig(cfg.Embedding, logger)
		if err != nil {
			return nil, err
		}
		idx, err := NewVectorIndexFromConfig(cfg.Vector, cfg.Embedding.Timeout)
		if err != nil {
			return nil, err
		}
		base = append(base,
			WithEmbedder(emb),
			WithVectorIndex(idx),
			WithEmbeddingCache(NewEmbeddingCacheFromConfig(cfg.EmbeddingCache, logger)),
		)
	}
	return New(append(base, opts...)...)
}

// NewEmbedderFromConfig creates the configured provider wrapped with retries
// and a circuit breaker.
func NewEmbedderFromConfig(cfg config.EmbeddingConfig, logger *slog.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Provider {
	case "simple":
		inner = embedding.NewSimpleEmbedder(cfg.Dimension)
	case "openai", "":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:            cfg.APIKey,
			APIBase:           cfg.APIBase,
			Model:             cfg.Model,
			Dimension:         cfg.Dimension,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	breaker := resilience.NewCircuitBreaker("embedding:"+inner.Model(), resilience.DefaultCircuitBreakerConfig())
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	return embedding.NewRetrying(inner, embedding.RetryConfig{
		MaxAttempts: cfg.MaxRetries + 1,
		Breaker:     breaker,
		Logger:      logger,
	}), nil
}

// NewVectorIndexFromConfig creates the configured vector index.
func NewVectorIndexFromConfig(cfg config.VectorConfig, timeout time.Duration) (vector.Index, error) {
	switch cfg.Provider {
	case "qdrant":
		idx, err := vector.NewQdrantIndex(vector.QdrantConfig{
			Address: cfg.QdrantURL,
			APIKey:  cfg.QdrantAPIKey,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "chromem", "":
		idx, err := vector.NewChromemIndex(cfg.PersistPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Provider)
	}
}

// NewEmbeddingCacheFromConfig creates the embedding cache, with a redis
// tier when enabled.
func NewEmbeddingCacheFromConfig(cfg config.EmbeddingCacheConfig, logger *slog.Logger) *memory.EmbeddingCache {
	cacheCfg := memory.CacheConfig{
		TTL:             cfg.TTL,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logger,
	}
	if cfg.Redis.Enabled {
		cacheCfg.Redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheCfg.KeyPrefix = cfg.Redis.KeyPrefix
		cacheCfg.RedisTTL = cfg.Redis.TTL
	}
	return memory.NewEmbeddingCache(cacheCfg)
}

// WatchConfig applies reloaded memory settings to the store's engine.
// Settings that need new clients, such as the embedding provider, take
// effect on restart.
func (s *Store) WatchConfig(m *config.Manager) {
	m.OnChange(func(cfg *config.Config) {
		if err := s.memory.SetConfig(memory.ConfigFrom(cfg.Memory)); err != nil {
			s.logger.Error("memory config reload rejected", "error", err)
			return
		}
		s.logger.Info("memory config reloaded")
	})
}
