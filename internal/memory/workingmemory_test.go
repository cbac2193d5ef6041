package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeWorkingMemory(t *testing.T) {
	const tpl = "# Notes\n- Name:\n"

	tests := []struct {
		name        string
		existing    string
		content     string
		search      string
		wantValue   string
		wantOutcome string
	}{
		{"first write", "", "likes tea", "", "likes tea", outcomeCreated},
		{"append", "likes tea", "lives in Oslo", "", "likes tea\nlives in Oslo", outcomeAppended},
		{"duplicate", "likes tea\nlives in Oslo", "lives in Oslo", "", "likes tea\nlives in Oslo", outcomeSkipped},
		{"duplicate with padding", "likes tea", "  likes tea\n", "", "likes tea", outcomeSkipped},
		{"replace", "likes tea", "likes coffee", "likes tea", "likes coffee", outcomeReplaced},
		{"search miss appends", "likes tea", "likes coffee", "likes juice", "likes tea\nlikes coffee", outcomeAppended},
		{"template verbatim", "likes tea", tpl, "", "likes tea", outcomeSkipped},
		{"search string wins over template", "likes tea\nName: Bob", tpl, "Name: Bob", "likes tea", outcomeReplaced},
		{"template on empty", "", "\n" + tpl, "", "", outcomeSkipped},
		{"template stripped", "", "# Notes\n- Name:\nlikes tea", "", "likes tea", outcomeCreated},
		{"empty content", "likes tea", "   ", "", "likes tea", outcomeSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, outcome, reason := mergeWorkingMemory(tt.existing, tt.content, tt.search, tpl)
			assert.Equal(t, tt.wantValue, value)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("", 10))
	assert.Nil(t, chunkText(" \n\t ", 10))
	assert.Equal(t, []string{"short text"}, chunkText("short text", 100))
	assert.Equal(t, []string{"aaa bbb", "ccc"}, chunkText("aaa bbb ccc", 7))
	assert.Equal(t, []string{"tiny", "enormousword", "end"}, chunkText("tiny enormousword end", 6))
	// Rune count, not bytes.
	assert.Equal(t, []string{"héé héé"}, chunkText("héé  héé", 7))
}
