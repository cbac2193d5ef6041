package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// SimpleEmbedder is a deterministic bag-of-words embedder: every word is
// hashed into one of Dimension buckets and the result is normalized to unit
// length. Texts sharing words get similar vectors. It needs no network and
// is meant for development and tests.
type SimpleEmbedder struct {
	dimension int
}

// NewSimpleEmbedder creates a SimpleEmbedder. Non-positive dimensions
// default to 256.
func NewSimpleEmbedder(dimension int) *SimpleEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &SimpleEmbedder{dimension: dimension}
}

// EmbedBatch embeds each text independently.
func (e *SimpleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *SimpleEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		vec[xxhash.Sum64String(w)%uint64(e.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty input still yields a valid unit vector.
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Model returns "simple".
func (e *SimpleEmbedder) Model() string {
	return "simple"
}

// Dimension returns the vector length.
func (e *SimpleEmbedder) Dimension() int {
	return e.dimension
}
