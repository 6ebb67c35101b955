package suggest

import (
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// DefaultAnswerCacheSize bounds the answer cache when no size is configured.
const DefaultAnswerCacheSize = 10

// AnswerEntry is a cached answer and the full query it was shown for.
type AnswerEntry struct {
	Query  string
	Answer Answer
}

type answerItem struct {
	entry  AnswerEntry
	access int64
}

// AnswerCache remembers recently shown answers so retyping a query can bring the
// answer back before the server replies. Entries are keyed by the lowercased
// query and evicted least recently used first.
type AnswerCache struct {
	trie        *patricia.Trie
	items       map[string]*answerItem
	accessCount int64
	hits        int64
	maxEntries  int
	mu          sync.RWMutex
}

// NewAnswerCache creates a cache holding at most maxEntries answers.
func NewAnswerCache(maxEntries int) *AnswerCache {
	if maxEntries <= 0 {
		maxEntries = DefaultAnswerCacheSize
	}
	return &AnswerCache{
		trie:       patricia.NewTrie(),
		items:      make(map[string]*answerItem, maxEntries),
		maxEntries: maxEntries,
	}
}

// Update records that answer was shown for query.
func (ac *AnswerCache) Update(query string, answer Answer) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if item, ok := ac.items[key]; ok {
		item.entry.Answer = answer
		item.access = ac.nextAccess()
		return
	}
	if len(ac.items) >= ac.maxEntries {
		ac.evictLRU()
	}
	item := &answerItem{
		entry:  AnswerEntry{Query: query, Answer: answer},
		access: ac.nextAccess(),
	}
	ac.items[key] = item
	ac.trie.Insert(patricia.Prefix(key), item)
}

// Top returns the most recently used answer whose query starts with prefix.
func (ac *AnswerCache) Top(prefix string) (AnswerEntry, bool) {
	key := strings.ToLower(strings.TrimSpace(prefix))
	if key == "" {
		return AnswerEntry{}, false
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	var best *answerItem
	err := ac.trie.VisitSubtree(patricia.Prefix(key), func(_ patricia.Prefix, item patricia.Item) error {
		it := item.(*answerItem)
		if best == nil || it.access > best.access {
			best = it
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error searching answer cache: %v", err)
		return AnswerEntry{}, false
	}
	if best == nil {
		return AnswerEntry{}, false
	}
	best.access = ac.nextAccess()
	ac.hits++
	return best.entry, true
}

// Len returns the number of cached answers.
func (ac *AnswerCache) Len() int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return len(ac.items)
}

// Stats reports the cache size and hit count for health checks.
func (ac *AnswerCache) Stats() map[string]int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	return map[string]int{
		"answerCacheEntries": len(ac.items),
		"maxAnswerEntries":   ac.maxEntries,
		"answerCacheHits":    int(ac.hits),
	}
}

func (ac *AnswerCache) nextAccess() int64 {
	ac.accessCount++
	return ac.accessCount
}

func (ac *AnswerCache) evictLRU() {
	var oldestKey string
	var oldest int64 = math.MaxInt64

	for key, item := range ac.items {
		if item.access < oldest {
			oldest = item.access
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(ac.items, oldestKey)
		ac.trie.Delete(patricia.Prefix(oldestKey))
		log.Debugf("Evicted answer for '%s' from answer cache", oldestKey)
	}
}
