// Package vector provides the vector indexes used for semantic recall.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// Index stores embeddings with string metadata and answers nearest-neighbour
// queries. Implementations must be safe for concurrent use.
type Index interface {
	// CreateIndex creates the named index if it does not exist. Creating an
	// existing index with the same dimension is a no-op.
	CreateIndex(ctx context.Context, name string, dimension int) error

	// Upsert stores vectors under ids, replacing existing entries. metadata
	// and ids must be the same length as vectors.
	Upsert(ctx context.Context, indexName string, vectors [][]float32, metadata []map[string]any, ids []string) error

	// Query returns up to topK entries most similar to vector, best first.
	// filter restricts results to entries whose metadata equals every
	// key/value pair.
	Query(ctx context.Context, indexName string, vector []float32, topK int, filter map[string]any) ([]Match, error)

	// Close releases resources held by the index.
	Close() error
}

// Match is a query result.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// ErrIndexNotFound is returned when querying or writing an index that was
// never created.
var ErrIndexNotFound = errors.New("vector index not found")

// DimensionError reports a vector whose length does not match its index.
type DimensionError struct {
	Index    string
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector index %s: dimension mismatch: expected %d, got %d", e.Index, e.Expected, e.Got)
}

func checkUpsertArgs(indexName string, vectors [][]float32, metadata []map[string]any, ids []string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("vector index %s: %d ids for %d vectors", indexName, len(ids), len(vectors))
	}
	if metadata != nil && len(metadata) != len(vectors) {
		return fmt.Errorf("vector index %s: %d metadata entries for %d vectors", indexName, len(metadata), len(vectors))
	}
	return nil
}
