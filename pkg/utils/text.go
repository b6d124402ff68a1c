// Package utils provides shared utilities for text, math, logging and request context.
package utils

import "strings"

// ParagraphSeparator joins evidence texts into a single context block.
const ParagraphSeparator = "\n\n"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// JoinParagraphs joins texts with a blank line, verbatim and in order.
func JoinParagraphs(texts []string) string {
	return strings.Join(texts, ParagraphSeparator)
}
