package memory

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken approximates the token size of English text.
const charsPerToken = 4

// chunkText splits text on whitespace into chunks of at most maxChars
// characters. Words are never split; a word longer than maxChars becomes a
// chunk of its own.
func chunkText(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks []string
		b      strings.Builder
		size   int
	)
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		if size > 0 && size+1+n > maxChars {
			chunks = append(chunks, b.String())
			b.Reset()
			size = 0
		}
		if size > 0 {
			b.WriteByte(' ')
			size++
		}
		b.WriteString(w)
		size += n
	}
	return append(chunks, b.String())
}
