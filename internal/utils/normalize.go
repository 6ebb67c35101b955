package utils

import (
	"strings"
	"unicode"
)

// CollapseWhitespace trims the text and folds every run of whitespace into a single space.
func CollapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeKey is the comparison form of a query: collapsed and lowercased.
func NormalizeKey(s string) string {
	return strings.ToLower(CollapseWhitespace(s))
}

// HasMultipleWords reports whether the collapsed text holds more than one word.
func HasMultipleWords(s string) bool {
	return strings.ContainsRune(CollapseWhitespace(s), ' ')
}
