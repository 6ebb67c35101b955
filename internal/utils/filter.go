package utils

import (
	"unicode"
	"unicode/utf8"
)

// ContainsControlChars checks if a string contains non-printable control runes
func ContainsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// IsValidInput checks if typed text should be handed to the provider.
// Empty text, invalid UTF-8 and control characters are rejected, as is
// anything longer than maxLen runes when maxLen > 0.
func IsValidInput(s string, maxLen int) bool {
	if len(s) == 0 || !utf8.ValidString(s) {
		return false
	}

	if ContainsControlChars(s) {
		return false
	}

	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		return false
	}
	return true
}
