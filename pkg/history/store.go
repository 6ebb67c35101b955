// Package history keeps the searches a user has issued so they can be offered
// again as suggestions. Terms are indexed in a patricia trie under their
// lowercased, whitespace-collapsed form.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/bastiangx/omnisuggest/internal/utils"
	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

// DefaultMaxEntries bounds the store when no size is given.
const DefaultMaxEntries = 5000

// Entry is one remembered search.
type Entry struct {
	Term       string    `msgpack:"t"`
	URL        string    `msgpack:"u"`
	VisitCount int       `msgpack:"v"`
	LastVisit  time.Time `msgpack:"l"`
}

// Store is a thread-safe in-memory history of searched terms.
type Store struct {
	trie       *patricia.Trie
	entries    map[string]*Entry
	maxEntries int
	mu         sync.RWMutex
}

// NewStore creates an empty store holding at most maxEntries terms.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		trie:       patricia.NewTrie(),
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// AddVisit records that term was searched at when. Repeated visits of the same
// term (ignoring case and spacing) bump its visit count and keep the latest
// spelling.
func (s *Store) AddVisit(term, url string, when time.Time) {
	term = utils.CollapseWhitespace(term)
	key := utils.NormalizeKey(term)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.Term = term
		e.VisitCount++
		if url != "" {
			e.URL = url
		}
		if when.After(e.LastVisit) {
			e.LastVisit = when
		}
		return
	}
	if len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}
	s.insert(key, &Entry{Term: term, URL: url, VisitCount: 1, LastVisit: when})
}

// DeleteEntry forgets term. Deleting an unknown term is not an error.
func (s *Store) DeleteEntry(ctx context.Context, term string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := utils.NormalizeKey(term)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	s.trie.Delete(patricia.Prefix(key))
	log.Debugf("Deleted '%s' from history", key)
	return nil
}

// QueryMatchingHistoryEntries returns up to max entries whose term starts with
// prefix, most recently visited first. A max of zero or less returns all.
func (s *Store) QueryMatchingHistoryEntries(ctx context.Context, prefix string, max int) ([]suggest.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := utils.NormalizeKey(prefix)
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	var matched []Entry
	err := s.trie.VisitSubtree(patricia.Prefix(key), func(_ patricia.Prefix, item patricia.Item) error {
		matched = append(matched, *item.(*Entry))
		return nil
	})
	s.mu.RUnlock()
	if err != nil {
		log.Errorf("Error searching history: %v", err)
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.LastVisit.Equal(b.LastVisit) {
			return a.LastVisit.After(b.LastVisit)
		}
		if a.VisitCount != b.VisitCount {
			return a.VisitCount > b.VisitCount
		}
		return a.Term < b.Term
	})
	if max > 0 && len(matched) > max {
		matched = matched[:max]
	}

	rows := make([]suggest.HistoryEntry, len(matched))
	for i, e := range matched {
		rows[i] = suggest.HistoryEntry{
			Text:        e.Term,
			Destination: e.URL,
			VisitCount:  e.VisitCount,
			LastVisit:   e.LastVisit,
		}
	}
	return rows, nil
}

// Len returns the number of stored terms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of every entry ordered by key.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = *s.entries[k]
	}
	return out
}

// replace swaps the whole content of the store. Used by Load.
func (s *Store) replace(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trie = patricia.NewTrie()
	s.entries = make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		key := utils.NormalizeKey(e.Term)
		if key == "" {
			continue
		}
		if old, ok := s.entries[key]; ok {
			old.VisitCount += e.VisitCount
			if e.LastVisit.After(old.LastVisit) {
				old.LastVisit = e.LastVisit
			}
			continue
		}
		if len(s.entries) >= s.maxEntries {
			s.evictOldest()
		}
		s.insert(key, &e)
	}
}

func (s *Store) insert(key string, e *Entry) {
	s.entries[key] = e
	s.trie.Insert(patricia.Prefix(key), e)
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldest time.Time

	for key, e := range s.entries {
		if oldestKey == "" || e.LastVisit.Before(oldest) {
			oldest = e.LastVisit
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
		s.trie.Delete(patricia.Prefix(oldestKey))
		log.Debugf("Evicted '%s' from history", oldestKey)
	}
}
