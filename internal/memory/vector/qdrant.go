package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// idKey holds the caller's id in the point payload. Qdrant only accepts
// UUIDs and integers as point ids, so points are stored under a UUID
// derived from the caller's id.
const idKey = "_id"

// QdrantIndex implements Index over the Qdrant REST API.
// Reference: https://qdrant.tech/documentation/concepts/search/
type QdrantIndex struct {
	client  *http.Client
	apiBase string
	apiKey  string
}

// QdrantConfig holds configuration for the Qdrant index.
type QdrantConfig struct {
	Address string
	APIKey  string
	Timeout time.Duration
}

// NewQdrantIndex creates a Qdrant-backed index.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	address := strings.TrimRight(cfg.Address, "/")
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &QdrantIndex{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiBase: address,
		apiKey:  cfg.APIKey,
	}, nil
}

// CreateIndex creates a cosine-distance collection if it does not exist.
func (q *QdrantIndex) CreateIndex(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("vector index %s: dimension must be positive", name)
	}
	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections/"+name+"/exists", nil, &exists); err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists.Result.Exists {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Upsert writes points, waiting until they are searchable.
func (q *QdrantIndex) Upsert(ctx context.Context, indexName string, vectors [][]float32, metadata []map[string]any, ids []string) error {
	if err := checkUpsertArgs(indexName, vectors, metadata, ids); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(vectors))
	for i, vec := range vectors {
		payload := map[string]any{idKey: ids[i]}
		if metadata != nil {
			for k, v := range metadata[i] {
				payload[k] = v
			}
		}
		points = append(points, qdrantPoint{ID: pointID(ids[i]), Vector: vec, Payload: payload})
	}
	if err := q.do(ctx, http.MethodPut, "/collections/"+indexName+"/points?wait=true",
		map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// Query searches the collection.
func (q *QdrantIndex) Query(ctx context.Context, indexName string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]any, 0, len(filter))
		for k, v := range filter {
			must = append(must, map[string]any{
				"key":   k,
				"match": map[string]any{"value": v},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+indexName+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		meta := make(map[string]any, len(r.Payload))
		id := fmt.Sprint(r.ID)
		for k, v := range r.Payload {
			if k == idKey {
				if s, ok := v.(string); ok {
					id = s
				}
				continue
			}
			meta[k] = v
		}
		out = append(out, Match{ID: id, Score: r.Score, Metadata: meta})
	}
	return out, nil
}

// Close releases idle connections.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d, body=%s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}
