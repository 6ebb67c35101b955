package utils

// KeyFilter remembers normalized keys that were already emitted.
// Not safe for concurrent use.
type KeyFilter struct {
	seen map[string]bool
}

// NewKeyFilter creates a filter that already excludes the given texts
func NewKeyFilter(exclude ...string) *KeyFilter {
	seen := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		seen[NormalizeKey(s)] = true
	}
	return &KeyFilter{seen: seen}
}

// ShouldInclude checks if text is new to the filter and records it.
// Returns false if it's a duplicate
func (f *KeyFilter) ShouldInclude(text string) bool {
	key := NormalizeKey(text)
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}
