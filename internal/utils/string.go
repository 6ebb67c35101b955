package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// IsSeparator checks if a rune ends a word inside a query
func IsSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '_' || r == '-' || r == '.' || r == '/'
}

// EqualFold performs case-insensitive rune equality check
func EqualFold(a, b rune) bool {
	if a == b {
		return true
	}

	// Try simple ASCII case folding first (faster)
	if a < utf8.RuneSelf && b < utf8.RuneSelf {
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		return a == b
	}

	return unicode.SimpleFold(a) == b || unicode.SimpleFold(b) == a || strings.EqualFold(string(a), string(b))
}

// HasPrefixIgnoreCase checks if string has prefix case-insensitively
func HasPrefixIgnoreCase(s, prefix string) bool {
	_, ok := TrimPrefixIgnoreCase(s, prefix)
	return ok
}

// TrimPrefixIgnoreCase strips prefix from s, comparing rune by rune without case.
// The remainder keeps the casing of s.
func TrimPrefixIgnoreCase(s, prefix string) (string, bool) {
	rest := s
	for _, p := range prefix {
		r, size := utf8.DecodeRuneInString(rest)
		if size == 0 || !EqualFold(r, p) {
			return s, false
		}
		rest = rest[size:]
	}
	return rest, true
}

// ExtendsAtWordBoundary reports whether s continues prefix with a new word,
// i.e. the first rune after the prefix is a separator.
func ExtendsAtWordBoundary(s, prefix string) bool {
	rest, ok := TrimPrefixIgnoreCase(s, prefix)
	if !ok || rest == "" {
		return false
	}
	if last, _ := utf8.DecodeLastRuneInString(prefix); IsSeparator(last) {
		return true
	}
	first, _ := utf8.DecodeRuneInString(rest)
	return IsSeparator(first)
}
