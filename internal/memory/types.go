package memory

import (
	"github.com/blueberrycongee/convostore/internal/config"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// Scope selects whether working memory and semantic recall are keyed by
// thread or by resource.
type Scope string

const (
	ScopeThread   Scope = "thread"
	ScopeResource Scope = "resource"
)

// Config holds the engine settings. It may be swapped at runtime with
// Engine.SetConfig.
type Config struct {
	// LastMessages is the default recent-message window.
	LastMessages   int
	SemanticRecall SemanticRecallConfig
	WorkingMemory  WorkingMemoryConfig
	// ChunkTokens is the per-chunk token budget used before embedding.
	ChunkTokens int
	IndexName   string
}

// SemanticRecallConfig controls vector-augmented retrieval.
type SemanticRecallConfig struct {
	Enabled      bool
	TopK         int
	BeforeRange  int
	AfterRange   int
	Scope        Scope
	IndexOnWrite bool
}

// WorkingMemoryConfig controls working memory.
type WorkingMemoryConfig struct {
	Enabled  bool
	Scope    Scope
	Template string
}

// DefaultConfig mirrors config.DefaultConfig().Memory.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig().Memory)
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.MemoryConfig) Config {
	return Config{
		LastMessages: c.LastMessages,
		SemanticRecall: SemanticRecallConfig{
			Enabled:      c.SemanticRecall.Enabled,
			TopK:         c.SemanticRecall.TopK,
			BeforeRange:  c.SemanticRecall.BeforeRange,
			AfterRange:   c.SemanticRecall.AfterRange,
			Scope:        Scope(c.SemanticRecall.Scope),
			IndexOnWrite: c.SemanticRecall.IndexOnWrite,
		},
		WorkingMemory: WorkingMemoryConfig{
			Enabled:  c.WorkingMemory.Enabled,
			Scope:    Scope(c.WorkingMemory.Scope),
			Template: c.WorkingMemory.Template,
		},
		ChunkTokens: c.ChunkTokens,
		IndexName:   c.IndexName,
	}
}

func (c Config) withDefaults() Config {
	def := ConfigFrom(config.DefaultConfig().Memory)
	if c.ChunkTokens <= 0 {
		c.ChunkTokens = def.ChunkTokens
	}
	if c.IndexName == "" {
		c.IndexName = def.IndexName
	}
	if c.SemanticRecall.TopK <= 0 {
		c.SemanticRecall.TopK = def.SemanticRecall.TopK
	}
	if c.SemanticRecall.Scope == "" {
		c.SemanticRecall.Scope = ScopeThread
	}
	if c.WorkingMemory.Scope == "" {
		c.WorkingMemory.Scope = ScopeThread
	}
	return c
}

// WorkingMemoryRequest identifies the working memory to read or update.
// ResourceID is required for resource scope; ThreadID for thread scope.
type WorkingMemoryRequest struct {
	ThreadID   string
	ResourceID string
	// Scope overrides the configured scope when set.
	Scope Scope
}

// WorkingMemoryUpdate is an incremental working memory edit.
type WorkingMemoryUpdate struct {
	WorkingMemoryRequest
	Content string
	// SearchString, when found in the stored value, is replaced by Content.
	SearchString string
}

// UpdateResult reports the outcome of UpdateWorkingMemory.
type UpdateResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// RecallRequest asks for the recent messages of a thread, optionally
// expanded with semantically similar messages.
type RecallRequest struct {
	ThreadID   string
	ResourceID string
	// Last overrides the configured window: nil uses LastMessages, zero
	// disables the recent window.
	Last *int
	// Query is the text to search for. Empty disables vector search.
	Query string
	// Include adds explicit message windows.
	Include []types.IncludeSelector
}

// EmbeddingEntry is the cached embedding of one input text.
type EmbeddingEntry struct {
	Chunks    []string    `json:"chunks"`
	Vectors   [][]float32 `json:"vectors"`
	Dimension int         `json:"dimension"`
}
