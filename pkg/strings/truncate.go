package strings

import (
	"strings"
)

// DefaultSnippetMaxLen bounds how much of a remote response body is echoed
// back to a peer inside an error envelope.
const DefaultSnippetMaxLen = 200

// MinSnippetLen is the smallest useful limit: one character plus "...".
const MinSnippetLen = 4

// Snippet collapses s onto a single line and cuts it to at most maxLen runes,
// marking a cut with "...". Limits below MinSnippetLen are raised to it.
func Snippet(s string, maxLen int) string {
	if maxLen < MinSnippetLen {
		maxLen = MinSnippetLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
