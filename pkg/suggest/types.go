package suggest

import (
	"slices"
	"strconv"
	"time"

	"github.com/bastiangx/omnisuggest/internal/utils"
)

// Kind tags what a Suggestion denotes.
type Kind int

const (
	Verbatim Kind = iota
	HistoryQuery
	SuggestQuery
	Navigation
	Calculator
	Entity
)

func (k Kind) String() string {
	switch k {
	case Verbatim:
		return "verbatim"
	case HistoryQuery:
		return "history"
	case SuggestQuery:
		return "suggest"
	case Navigation:
		return "navigation"
	case Calculator:
		return "calculator"
	case Entity:
		return "entity"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// tieRank orders kinds when relevance is equal; lower wins.
func (k Kind) tieRank() int {
	switch k {
	case Verbatim:
		return 0
	case HistoryQuery:
		return 1
	case SuggestQuery, Entity, Calculator:
		return 2
	case Navigation:
		return 3
	}
	return 4
}

// IsQuery reports whether the kind is submitted as a search rather than opened as a URL.
func (k Kind) IsQuery() bool {
	return k != Navigation
}

// InputType classifies what the user typed.
type InputType int

const (
	InputQuery InputType = iota
	InputURL
)

// Answer is a rich answer attached to a query suggestion.
type Answer struct {
	Type  int
	Text  string
	Query string
}

// Suggestion is one candidate or final match.
type Suggestion struct {
	Kind              Kind
	Text              string
	Destination       string
	Relevance         int
	AllowedAsDefault  bool
	InlineCompletion  string
	FromKeywordEngine bool
	SubtypeTags       []int
	Duplicates        []Suggestion

	// Description is the page title of a navigation suggestion.
	Description string
	// Annotation is the secondary line of an entity suggestion.
	Annotation  string
	ImageURL    string
	Answer      *Answer
	DeletionURL string

	RelevanceFromServer        bool
	ReceivedAfterLastKeystroke bool
}

// HasSubtype reports whether tag is among the suggestion's subtype tags.
func (s Suggestion) HasSubtype(tag int) bool {
	_, found := slices.BinarySearch(s.SubtypeTags, tag)
	return found
}

func (s *Suggestion) addSubtypes(tags ...int) {
	for _, t := range tags {
		if i, found := slices.BinarySearch(s.SubtypeTags, t); !found {
			s.SubtypeTags = slices.Insert(s.SubtypeTags, i, t)
		}
	}
}

// Input is what the caller hands to Provider.Start on each keystroke.
type Input struct {
	Text    string
	Keyword string
	// PreventInlineAutocomplete is set on backspace or when the caret is not at the end.
	PreventInlineAutocomplete bool
	Type                      InputType
}

// QueryContext is the immutable view of one keystroke.
type QueryContext struct {
	Generation                uint64
	RawInput                  string
	NormalizedInput           string
	IsKeywordMode             bool
	PreventInlineAutocomplete bool
	InputType                 InputType
	// PreviousInlineCompletion keys the default match that was inline-completed
	// before this keystroke, or is "".
	PreviousInlineCompletion string
}

// NewQueryContext builds the context for a keystroke.
func NewQueryContext(gen uint64, in Input, keywordMode bool, previousInline string) QueryContext {
	return QueryContext{
		Generation:                gen,
		RawInput:                  in.Text,
		NormalizedInput:           utils.CollapseWhitespace(in.Text),
		IsKeywordMode:             keywordMode,
		PreventInlineAutocomplete: in.PreventInlineAutocomplete,
		InputType:                 in.Type,
		PreviousInlineCompletion:  previousInline,
	}
}

// HistoryEntry is one row returned by a HistoryLookup.
type HistoryEntry struct {
	Text        string
	Destination string
	VisitCount  int
	LastVisit   time.Time
}

// State of the provider for the current query session.
type State int

const (
	Idle State = iota
	AwaitingResponses
	ResponsesComplete
	StaleInputSuperseded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponses:
		return "awaiting"
	case ResponsesComplete:
		return "complete"
	case StaleInputSuperseded:
		return "superseded"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Update is emitted after every scoring pass.
type Update struct {
	Generation uint64
	Input      string
	Matches    []Suggestion
	State      State
	// Done is true once both the history and the remote path have reported.
	Done bool
	// Async is false for the synchronous pass that follows a keystroke.
	Async bool
}

// Default returns the match activated on Enter, if any.
func (u Update) Default() (Suggestion, bool) {
	if len(u.Matches) == 0 || !u.Matches[0].AllowedAsDefault {
		return Suggestion{}, false
	}
	return u.Matches[0], true
}
