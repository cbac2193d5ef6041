package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemIndex_QueryWithFilter(t *testing.T) {
	idx, err := NewChromemIndex("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.CreateIndex(ctx, "messages", 3))
	require.NoError(t, idx.CreateIndex(ctx, "messages", 3), "creating twice is a no-op")

	err = idx.Upsert(ctx, "messages",
		[][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}},
		[]map[string]any{
			{"thread_id": "t1", "message_id": "m1"},
			{"thread_id": "t2", "message_id": "m2"},
			{"thread_id": "t1", "message_id": "m3"},
			{"thread_id": "t1", "message_id": "m4"},
		},
		[]string{"m1", "m2", "m3", "m4"})
	require.NoError(t, err)

	matches, err := idx.Query(ctx, "messages", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "m1", matches[0].ID)
	assert.Equal(t, "m2", matches[1].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

	matches, err = idx.Query(ctx, "messages", []float32{1, 0, 0}, 2, map[string]any{"thread_id": "t1"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "m1", matches[0].ID)
	for _, m := range matches {
		assert.Equal(t, "t1", m.Metadata["thread_id"])
	}

	matches, err = idx.Query(ctx, "messages", []float32{1, 0, 0}, 50, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 4, "topK is clamped to the collection size")

	matches, err = idx.Query(ctx, "messages", []float32{1, 0, 0}, 3, map[string]any{"thread_id": "t2"})
	require.NoError(t, err)
	require.Len(t, matches, 1, "filter narrows below topK")
	assert.Equal(t, "m2", matches[0].ID)

	matches, err = idx.Query(ctx, "messages", []float32{1, 0, 0}, 3, map[string]any{"thread_id": "t9"})
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestChromemIndex_Errors(t *testing.T) {
	idx, err := NewChromemIndex("")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = idx.Query(ctx, "missing", []float32{1}, 1, nil)
	assert.True(t, errors.Is(err, ErrIndexNotFound))

	require.NoError(t, idx.CreateIndex(ctx, "idx", 2))
	var dimErr *DimensionError
	assert.ErrorAs(t, idx.CreateIndex(ctx, "idx", 3), &dimErr)
	assert.ErrorAs(t, idx.Upsert(ctx, "idx", [][]float32{{1, 2, 3}}, nil, []string{"a"}), &dimErr)
	assert.Error(t, idx.Upsert(ctx, "idx", [][]float32{{1, 2}}, nil, []string{"a", "b"}))

	matches, err := idx.Query(ctx, "idx", []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches, "empty collection")
}
