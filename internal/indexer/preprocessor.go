package indexer

import (
	"strings"
	"unicode"
)

// Normalize trims text, collapses whitespace runs and drops control characters.
// Paragraph boundaries are not preserved; chunking is word based.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r) || r == '\uFEFF':
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
