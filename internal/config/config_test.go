package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storage.URI = "mongodb://localhost:27017"
	cfg.Storage.Database = "convostore"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Memory.LastMessages != 10 {
		t.Errorf("default last_messages = %d, want 10", cfg.Memory.LastMessages)
	}
	if cfg.Memory.ChunkTokens != 4096 {
		t.Errorf("default chunk_tokens = %d, want 4096", cfg.Memory.ChunkTokens)
	}
	if cfg.Memory.SemanticRecall.TopK != 4 {
		t.Errorf("default top_k = %d, want 4", cfg.Memory.SemanticRecall.TopK)
	}
	if cfg.Memory.WorkingMemory.Template != DefaultWorkingMemoryTemplate {
		t.Error("expected default working memory template")
	}
	if cfg.EmbeddingCache.TTL != 0 {
		t.Error("embedding cache should not expire by default")
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing uri", mutate: func(c *Config) { c.Storage.URI = "" }, wantErr: "storage.uri"},
		{name: "missing database", mutate: func(c *Config) { c.Storage.Database = "" }, wantErr: "storage.database"},
		{name: "pool sizes inverted", mutate: func(c *Config) {
			c.Storage.MinPoolSize = 10
			c.Storage.MaxPoolSize = 5
		}, wantErr: "min_pool_size"},
		{name: "negative last messages", mutate: func(c *Config) { c.Memory.LastMessages = -1 }, wantErr: "last_messages"},
		{name: "zero chunk tokens", mutate: func(c *Config) { c.Memory.ChunkTokens = 0 }, wantErr: "chunk_tokens"},
		{name: "bad working memory scope", mutate: func(c *Config) { c.Memory.WorkingMemory.Scope = "global" }, wantErr: "working_memory.scope"},
		{name: "recall without api key", mutate: func(c *Config) {
			c.Memory.SemanticRecall.Enabled = true
		}, wantErr: "embedding.api_key"},
		{name: "recall with simple embedder", mutate: func(c *Config) {
			c.Memory.SemanticRecall.Enabled = true
			c.Embedding.Provider = "simple"
		}},
		{name: "qdrant without url", mutate: func(c *Config) {
			c.Memory.SemanticRecall.Enabled = true
			c.Embedding.Provider = "simple"
			c.Vector.Provider = "qdrant"
		}, wantErr: "qdrant_url"},
		{name: "redis without addr", mutate: func(c *Config) { c.EmbeddingCache.Redis.Enabled = true }, wantErr: "redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml", func(t *testing.T) {
		path := createTempFile(t, `
storage:
  uri: mongodb://db:27017
  database: agents
  connect_timeout: 5s
memory:
  last_messages: 20
  working_memory:
    scope: resource
`)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Storage.Database != "agents" {
			t.Errorf("database = %s, want agents", cfg.Storage.Database)
		}
		if cfg.Storage.ConnectTimeout != 5*time.Second {
			t.Errorf("connect_timeout = %v, want 5s", cfg.Storage.ConnectTimeout)
		}
		if cfg.Memory.LastMessages != 20 {
			t.Errorf("last_messages = %d, want 20", cfg.Memory.LastMessages)
		}
		if cfg.Memory.WorkingMemory.Scope != "resource" {
			t.Errorf("scope = %s, want resource", cfg.Memory.WorkingMemory.Scope)
		}
		if cfg.Memory.ChunkTokens != 4096 {
			t.Errorf("unset fields should keep defaults, chunk_tokens = %d", cfg.Memory.ChunkTokens)
		}
	})

	t.Run("environment variable expansion", func(t *testing.T) {
		t.Setenv("TEST_MONGO_URI", "mongodb://user:pw@db:27017")

		path := createTempFile(t, `
storage:
  uri: ${TEST_MONGO_URI}
  database: agents
`)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Storage.URI != "mongodb://user:pw@db:27017" {
			t.Errorf("uri = %s, want expanded value", cfg.Storage.URI)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFromFile("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := createTempFile(t, `
storage:
  uri: [invalid
`)
		_, err := LoadFromFile(path)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
