/*
Package suggest aggregates search suggestions for an address bar.

A Provider takes one Input per keystroke, emits a synchronous Update right away
from whatever data it already holds, and then runs two asynchronous paths: a
local history lookup and a remote suggest fetch. Each path reports back through
Completions; the owner hands completions to Apply (or calls Next), and every
applied completion produces a new Update.

Every pass goes through the same pipeline:

	normalize (history rows, remote entries) -> merge duplicates -> score and order

Completions carry the generation of the keystroke that started them. A
completion whose generation is not current is dropped.

A Provider is not safe for concurrent use: all methods except the channel
returned by Completions must be called from one owning goroutine.
*/
package suggest

import "context"

// HistoryLookup returns previously issued searches that start with prefix.
// Implementations may fail; the provider treats an error as no rows.
type HistoryLookup interface {
	QueryMatchingHistoryEntries(ctx context.Context, prefix string, max int) ([]HistoryEntry, error)
}

// historyDeleter is implemented by lookups that can forget an entry.
type historyDeleter interface {
	DeleteEntry(ctx context.Context, text string) error
}

// FetchRequest describes one remote suggest request.
type FetchRequest struct {
	Query        string
	URL          string
	SessionToken string
	// PrefetchQuery and PrefetchType name a cached answer the server may refresh.
	PrefetchQuery string
	PrefetchType  int
}

// Transport fetches raw suggest responses.
type Transport interface {
	FetchSuggestions(ctx context.Context, req FetchRequest) ([]byte, error)
}

// Deleter asks the server to forget a suggestion. A nil error means success.
type Deleter interface {
	DeleteSuggestion(ctx context.Context, deletionURL string) error
}

// Engine is a read-only view of a search engine.
type Engine interface {
	Keyword() string
	SupportsSuggestions() bool
	SuggestURL(query string) string
	SearchURL(query string) string
}

// EngineRegistry resolves the engine for a keystroke. Both methods return nil when
// there is no such engine.
type EngineRegistry interface {
	DefaultEngine() Engine
	EngineForKeyword(keyword string) Engine
}
