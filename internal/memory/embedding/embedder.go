// Package embedding turns text into vectors for semantic recall.
package embedding

import (
	"context"
	"fmt"
	"net/http"
)

// Embedder generates embeddings.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model.
	Model() string

	// Dimension returns the length of the produced vectors.
	Dimension() int
}

// StatusError is a non-200 response from an embedding provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding failed: status=%d, body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
