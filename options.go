package convostore

import (
	"log/slog"
	"time"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/memory"
	"github.com/blueberrycongee/convostore/internal/memory/embedding"
	"github.com/blueberrycongee/convostore/internal/memory/vector"
	"github.com/blueberrycongee/convostore/internal/storage"
)

// Config holds everything New needs.
type Config struct {
	// MongoDB connection.
	URI            string
	Database       string
	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration
	AppName        string

	// DB replaces the MongoDB dialer with an already open database, such as
	// the in-process memdb.
	DB docdb.Database
	// Handler resolves collections on a caller-managed connection.
	Handler storage.Handler

	Capabilities storage.Capabilities

	Memory         memory.Config
	Embedder       embedding.Embedder
	VectorIndex    vector.Index
	EmbeddingCache *memory.EmbeddingCache

	Logger *slog.Logger
	// Clock overrides time.Now for stored timestamps.
	Clock func() time.Time
}

// Option configures a Store.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		AppName:      "convostore",
		Capabilities: storage.DocumentCapabilities(),
		Memory:       memory.DefaultConfig(),
		Logger:       slog.Default(),
	}
}

// WithMongo sets the connection URI and database name.
func WithMongo(uri, database string) Option {
	return func(c *Config) {
		c.URI = uri
		c.Database = database
	}
}

// WithPoolSize bounds the MongoDB connection pool.
func WithPoolSize(minSize, maxSize uint64) Option {
	return func(c *Config) {
		c.MinPoolSize = minSize
		c.MaxPoolSize = maxSize
	}
}

// WithConnectTimeout sets the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithDatabase uses db instead of dialing MongoDB.
func WithDatabase(db docdb.Database) Option {
	return func(c *Config) {
		c.DB = db
	}
}

// WithHandler resolves collections through h. The store never closes it.
func WithHandler(h storage.Handler) Option {
	return func(c *Config) {
		c.Handler = h
	}
}

// WithCapabilities overrides the backend capability set.
func WithCapabilities(caps storage.Capabilities) Option {
	return func(c *Config) {
		c.Capabilities = caps
	}
}

// WithMemory sets the memory engine configuration.
func WithMemory(cfg MemoryConfig) Option {
	return func(c *Config) {
		c.Memory = cfg
	}
}

// WithEmbedder sets the embedding provider for semantic recall.
func WithEmbedder(e embedding.Embedder) Option {
	return func(c *Config) {
		c.Embedder = e
	}
}

// WithVectorIndex sets the vector index for semantic recall.
func WithVectorIndex(idx vector.Index) Option {
	return func(c *Config) {
		c.VectorIndex = idx
	}
}

// WithEmbeddingCache replaces the default process-local embedding cache.
func WithEmbeddingCache(cache *memory.EmbeddingCache) Option {
	return func(c *Config) {
		c.EmbeddingCache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}
