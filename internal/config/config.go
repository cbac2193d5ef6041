// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete convostore configuration.
type Config struct {
	Storage        StorageConfig        `yaml:"storage"`
	Memory         MemoryConfig         `yaml:"memory"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	EmbeddingCache EmbeddingCacheConfig `yaml:"embedding_cache"`
	Vector         VectorConfig         `yaml:"vector"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// StorageConfig contains document database connection settings.
type StorageConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	MaxPoolSize    uint64        `yaml:"max_pool_size"`
	MinPoolSize    uint64        `yaml:"min_pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AppName        string        `yaml:"app_name"`
}

// MemoryConfig contains memory engine behaviour.
type MemoryConfig struct {
	LastMessages   int                  `yaml:"last_messages"`
	SemanticRecall SemanticRecallConfig `yaml:"semantic_recall"`
	WorkingMemory  WorkingMemoryConfig  `yaml:"working_memory"`
	ChunkTokens    int                  `yaml:"chunk_tokens"`
	IndexName      string               `yaml:"index_name"`
}

// SemanticRecallConfig controls vector-search expansion of message windows.
type SemanticRecallConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TopK         int    `yaml:"top_k"`
	BeforeRange  int    `yaml:"before_range"`
	AfterRange   int    `yaml:"after_range"`
	Scope        string `yaml:"scope"` // thread, resource
	IndexOnWrite bool   `yaml:"index_on_write"`
}

// WorkingMemoryConfig controls working memory.
type WorkingMemoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Scope    string `yaml:"scope"` // thread, resource
	Template string `yaml:"template"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai, simple
	APIKey            string        `yaml:"api_key"`
	APIBase           string        `yaml:"api_base"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// EmbeddingCacheConfig controls the embedding cache tiers.
// A zero TTL keeps entries for the process lifetime.
type EmbeddingCacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the shared redis cache tier.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// VectorConfig selects the vector index.
type VectorConfig struct {
	Provider     string `yaml:"provider"` // chromem, qdrant
	PersistPath  string `yaml:"persist_path"`
	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultWorkingMemoryTemplate is used when no template is configured.
const DefaultWorkingMemoryTemplate = `# User Information
- **First Name**:
- **Last Name**:
- **Location**:
- **Interests**:
`

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			MaxPoolSize:    100,
			ConnectTimeout: 10 * time.Second,
			AppName:        "convostore",
		},
		Memory: MemoryConfig{
			LastMessages: 10,
			SemanticRecall: SemanticRecallConfig{
				Enabled:      false,
				TopK:         4,
				BeforeRange:  1,
				AfterRange:   1,
				Scope:        "thread",
				IndexOnWrite: true,
			},
			WorkingMemory: WorkingMemoryConfig{
				Enabled:  true,
				Scope:    "thread",
				Template: DefaultWorkingMemoryTemplate,
			},
			ChunkTokens: 4096,
			IndexName:   "memory_messages",
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			APIBase:           "https://api.openai.com/v1",
			Model:             "text-embedding-3-small",
			Dimension:         1536,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		EmbeddingCache: EmbeddingCacheConfig{
			TTL:             0,
			CleanupInterval: 10 * time.Minute,
			Redis: RedisConfig{
				KeyPrefix: "convostore:emb:",
				TTL:       24 * time.Hour,
			},
		},
		Vector: VectorConfig{
			Provider: "chromem",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "convostore",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.URI == "" {
		return fmt.Errorf("storage.uri is required")
	}
	if c.Storage.Database == "" {
		return fmt.Errorf("storage.database is required")
	}
	if c.Storage.MinPoolSize > c.Storage.MaxPoolSize && c.Storage.MaxPoolSize > 0 {
		return fmt.Errorf("storage.min_pool_size cannot exceed max_pool_size")
	}

	m := c.Memory
	if m.LastMessages < 0 {
		return fmt.Errorf("memory.last_messages cannot be negative")
	}
	if m.ChunkTokens <= 0 {
		return fmt.Errorf("memory.chunk_tokens must be positive")
	}
	if !validScope(m.WorkingMemory.Scope) {
		return fmt.Errorf("memory.working_memory.scope must be thread or resource, got %q", m.WorkingMemory.Scope)
	}
	if m.SemanticRecall.Enabled {
		if !validScope(m.SemanticRecall.Scope) {
			return fmt.Errorf("memory.semantic_recall.scope must be thread or resource, got %q", m.SemanticRecall.Scope)
		}
		if m.SemanticRecall.TopK <= 0 {
			return fmt.Errorf("memory.semantic_recall.top_k must be positive")
		}
		if m.SemanticRecall.BeforeRange < 0 || m.SemanticRecall.AfterRange < 0 {
			return fmt.Errorf("memory.semantic_recall ranges cannot be negative")
		}
		if m.IndexName == "" {
			return fmt.Errorf("memory.index_name is required when semantic recall is enabled")
		}

		switch c.Embedding.Provider {
		case "openai":
			if c.Embedding.APIKey == "" {
				return fmt.Errorf("embedding.api_key is required for the openai provider")
			}
		case "simple":
		default:
			return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
		}

		switch c.Vector.Provider {
		case "chromem":
		case "qdrant":
			if c.Vector.QdrantURL == "" {
				return fmt.Errorf("vector.qdrant_url is required for the qdrant provider")
			}
		default:
			return fmt.Errorf("unknown vector.provider %q", c.Vector.Provider)
		}
	}

	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding.max_retries cannot be negative")
	}
	if c.EmbeddingCache.TTL < 0 {
		return fmt.Errorf("embedding_cache.ttl cannot be negative")
	}
	if c.EmbeddingCache.Redis.Enabled && c.EmbeddingCache.Redis.Addr == "" {
		return fmt.Errorf("embedding_cache.redis.addr is required when redis is enabled")
	}

	return nil
}

func validScope(scope string) bool {
	return scope == "thread" || scope == "resource"
}
