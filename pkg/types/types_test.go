package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadWorkingMemory(t *testing.T) {
	var nilThread *Thread
	_, ok := nilThread.WorkingMemory()
	assert.False(t, ok)

	_, ok = (&Thread{ID: "t1"}).WorkingMemory()
	assert.False(t, ok)

	_, ok = (&Thread{Metadata: map[string]any{"workingMemory": 42}}).WorkingMemory()
	assert.False(t, ok, "non-string values are ignored")

	wm, ok := (&Thread{Metadata: map[string]any{"workingMemory": "# Notes\n- likes tea"}}).WorkingMemory()
	assert.True(t, ok)
	assert.Equal(t, "# Notes\n- likes tea", wm)
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name    string
		content map[string]any
		want    string
	}{
		{"nil content", nil, ""},
		{"content string", map[string]any{"content": "hello"}, "hello"},
		{
			"text parts joined",
			map[string]any{"parts": []any{
				map[string]any{"type": "text", "text": "first"},
				map[string]any{"type": "tool-invocation", "toolName": "search"},
				map[string]any{"type": "text", "text": "second"},
			}},
			"first\nsecond",
		},
		{
			"empty content falls back to parts",
			map[string]any{"content": "", "parts": []any{map[string]any{"type": "text", "text": "only part"}}},
			"only part",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Content: tt.content}
			assert.Equal(t, tt.want, m.Text())
		})
	}
}

func TestNewPaginationInfo(t *testing.T) {
	p := NewPaginationInfo(25, 0, 10, 10)
	assert.True(t, p.HasMore)
	assert.Equal(t, 25, p.Total)

	assert.True(t, NewPaginationInfo(25, 1, 10, 10).HasMore)
	assert.False(t, NewPaginationInfo(25, 2, 10, 5).HasMore)
	assert.False(t, NewPaginationInfo(0, 0, 10, 0).HasMore)
}

func TestLastN(t *testing.T) {
	assert.Equal(t, 5, *LastN(5))
	assert.Equal(t, 0, *NoLast())
}
