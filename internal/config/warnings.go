package config

// Warning codes reported by Config.Warnings.
const (
	WarningUnboundedEmbeddingCache = "unbounded_embedding_cache"
	WarningSimpleEmbedder          = "simple_embedder"
	WarningEphemeralVectorIndex    = "ephemeral_vector_index"
)

// Warning is a non-fatal configuration issue.
type Warning struct {
	Code    string
	Message string
}

// Warnings reports settings that are valid but likely unintended in production.
func (c *Config) Warnings() []Warning {
	var out []Warning
	if !c.Memory.SemanticRecall.Enabled {
		return out
	}

	if c.EmbeddingCache.TTL == 0 {
		out = append(out, Warning{
			Code:    WarningUnboundedEmbeddingCache,
			Message: "embedding_cache.ttl is 0: cached embeddings are retained for the process lifetime",
		})
	}
	if c.Embedding.Provider == "simple" {
		out = append(out, Warning{
			Code:    WarningSimpleEmbedder,
			Message: "embedding.provider simple produces hashed bag-of-words vectors with poor recall quality",
		})
	}
	if c.Vector.Provider == "chromem" && c.Vector.PersistPath == "" {
		out = append(out, Warning{
			Code:    WarningEphemeralVectorIndex,
			Message: "vector.persist_path is empty: the chromem index is lost on restart",
		})
	}
	return out
}
