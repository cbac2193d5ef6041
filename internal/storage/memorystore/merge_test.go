package memorystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeContent(t *testing.T) {
	existing := map[string]any{
		"format":   2,
		"content":  "old",
		"metadata": map[string]any{"a": 1, "b": 2},
	}
	update := map[string]any{
		"content":  "new",
		"metadata": map[string]any{"b": 3, "c": 4},
	}

	got := mergeContent(existing, update)
	assert.Equal(t, map[string]any{
		"format":   2,
		"content":  "new",
		"metadata": map[string]any{"a": 1, "b": 3, "c": 4},
	}, got)
	assert.Equal(t, "old", existing["content"], "inputs are not modified")
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, existing["metadata"])
}

func TestMergeContent_MetadataReplacedWhenNotADocument(t *testing.T) {
	got := mergeContent(map[string]any{"metadata": "text"}, map[string]any{"metadata": map[string]any{"k": "v"}})
	assert.Equal(t, map[string]any{"k": "v"}, got["metadata"])

	got = mergeContent(nil, map[string]any{"content": "x"})
	assert.Equal(t, map[string]any{"content": "x"}, got)
}
