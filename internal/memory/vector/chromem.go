package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex is an embedded index backed by chromem-go. Metadata values
// are stored as strings.
type ChromemIndex struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	dimensions  map[string]int
}

// NewChromemIndex creates an in-memory index. A non-empty persistPath keeps
// the index on disk between restarts.
func NewChromemIndex(persistPath string) (*ChromemIndex, error) {
	db := chromem.NewDB()
	if persistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		dimensions:  make(map[string]int),
	}, nil
}

// Embeddings are always supplied by the caller.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index: embeddings must be supplied")
}

// CreateIndex creates the collection for name.
func (c *ChromemIndex) CreateIndex(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("vector index %s: dimension must be positive", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if dim, ok := c.dimensions[name]; ok {
		if dim != dimension {
			return &DimensionError{Index: name, Expected: dim, Got: dimension}
		}
		return nil
	}
	col, err := c.db.GetOrCreateCollection(name, map[string]string{"dimension": strconv.Itoa(dimension)}, noEmbedding)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	c.collections[name] = col
	c.dimensions[name] = dimension
	return nil
}

func (c *ChromemIndex) collection(name string) (*chromem.Collection, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.collections[name]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return col, c.dimensions[name], nil
}

// Upsert adds or replaces documents.
func (c *ChromemIndex) Upsert(ctx context.Context, indexName string, vectors [][]float32, metadata []map[string]any, ids []string) error {
	if err := checkUpsertArgs(indexName, vectors, metadata, ids); err != nil {
		return err
	}
	col, dim, err := c.collection(indexName)
	if err != nil {
		return err
	}
	for i, vec := range vectors {
		if len(vec) != dim {
			return &DimensionError{Index: indexName, Expected: dim, Got: len(vec)}
		}
		doc := chromem.Document{
			ID:        ids[i],
			Embedding: vec,
			Content:   ids[i],
		}
		if metadata != nil {
			doc.Metadata = stringify(metadata[i])
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", ids[i], err)
		}
	}
	return nil
}

// Query returns the nearest documents.
func (c *ChromemIndex) Query(ctx context.Context, indexName string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	col, dim, err := c.collection(indexName)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, &DimensionError{Index: indexName, Expected: dim, Got: len(vector)}
	}
	n := min(topK, col.Count())
	if n <= 0 {
		return []Match{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, stringify(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", indexName, err)
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out = append(out, Match{ID: r.ID, Score: float64(r.Similarity), Metadata: meta})
	}
	return out, nil
}

// Close is a no-op; persistent databases write on every change.
func (c *ChromemIndex) Close() error {
	return nil
}

func stringify(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
