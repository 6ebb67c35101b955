package suggest

import (
	"sort"
	"time"

	"github.com/bastiangx/omnisuggest/internal/utils"
)

// DefaultMaxMatches caps the number of matches returned by Score.
const DefaultMaxMatches = 8

// Pass is the input to one scoring pass.
type Pass struct {
	Context QueryContext
	History []HistoryEntry
	Now     time.Time
	// Remote holds the parsed suggest response, or nil if none is usable.
	Remote *Results
	// Extra candidates, such as a cached answer, join the merge as-is.
	Extra      []Suggestion
	Engine     Engine
	MaxMatches int
	// DefaultRemote holds the default engine's response while in keyword mode,
	// and DefaultEngine that engine. Both are ignored outside keyword mode.
	DefaultRemote *Results
	DefaultEngine Engine
	// DisplayedDefault is the key of the currently inline-completed default match.
	// Remote entries received after the last keystroke may only be inline-completed
	// if they match it.
	DisplayedDefault string
	// Deleted holds keys of suggestions the user removed this session.
	Deleted map[string]bool
}

// suggestionKey identifies a suggestion for deletion and stability bookkeeping.
func suggestionKey(s Suggestion) string {
	if s.Kind == Navigation {
		return "d:" + destinationKey(s.Destination)
	}
	return "t:" + utils.NormalizeKey(s.Text)
}

// Score runs normalize, merge and ordering for one pass and returns the final
// match list. The first match is the default whenever the list is non-empty.
func Score(p Pass) []Suggestion {
	qc := p.Context
	if qc.NormalizedInput == "" {
		return nil
	}
	maxMatches := p.MaxMatches
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}

	history := NormalizeHistory(qc, p.History, p.Now, p.Engine)
	suggestions, navigations := NormalizeRemote(qc, p.Remote, p.Engine)
	if len(navigations) > 1 && !p.Remote.RelevancesFromServer {
		navigations = navigations[:1]
	}

	calculated := calculatedVerbatimRelevance(qc)
	verbatimScore, fromServer := calculated, false
	if p.Remote != nil && p.Remote.VerbatimRelevance >= 0 && !qc.PreventInlineAutocomplete &&
		(p.Remote.VerbatimRelevance > 0 || len(suggestions)+len(navigations) > 0) {
		verbatimScore, fromServer = p.Remote.VerbatimRelevance, true
	}

	var candidates []Suggestion
	if verbatimScore > 0 {
		candidates = append(candidates, NewVerbatim(qc, verbatimScore, fromServer, p.Engine))
	}
	var others []Suggestion
	if qc.IsKeywordMode && p.DefaultEngine != nil {
		others = otherEngineCandidates(qc, p.DefaultRemote, p.DefaultEngine)
	}
	for _, group := range [][]Suggestion{history, suggestions, navigations, p.Extra, others} {
		for _, s := range group {
			if p.Deleted[suggestionKey(s)] {
				continue
			}
			if s.ReceivedAfterLastKeystroke && s.InlineCompletion != "" &&
				suggestionKey(s) != p.DisplayedDefault {
				s.AllowedAsDefault, s.InlineCompletion = false, ""
			}
			s.Relevance = max(s.Relevance, 0)
			candidates = append(candidates, s)
		}
	}

	matches := Merge(candidates)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})

	matches = promoteDefault(qc, matches, calculated, p.Engine)
	inputKey := utils.NormalizeKey(qc.NormalizedInput)
	for i := 1; i < len(matches); i++ {
		if !isWhatYouTyped(matches[i], inputKey) {
			matches[i].AllowedAsDefault = false
			matches[i].InlineCompletion = ""
		}
	}
	return truncate(matches, maxMatches, inputKey)
}

// otherEngineCandidates builds the default engine's verbatim and results for
// keyword mode. Only the first navigation is kept.
func otherEngineCandidates(qc QueryContext, res *Results, engine Engine) []Suggestion {
	v := NewVerbatim(qc, otherEngineVerbatimRelevance, false, engine)
	v.FromKeywordEngine = false
	v.AllowedAsDefault = false
	out := []Suggestion{v}

	suggestions, navigations := NormalizeOtherEngine(qc, res, engine)
	out = append(out, suggestions...)
	if len(navigations) > 0 {
		out = append(out, navigations[0])
	}
	return out
}

func isWhatYouTyped(s Suggestion, inputKey string) bool {
	return s.Kind == Verbatim || (s.Kind.IsQuery() && utils.NormalizeKey(s.Text) == inputKey)
}

// promoteDefault rotates the best default-eligible match to the front, leaving the
// rest in relevance order. If nothing is eligible, verbatim is restored with its
// calculated relevance.
func promoteDefault(qc QueryContext, matches []Suggestion, calculated int, engine Engine) []Suggestion {
	first := -1
	for i, m := range matches {
		if m.AllowedAsDefault {
			first = i
			break
		}
	}
	if first < 0 {
		v := NewVerbatim(qc, calculated, false, engine)
		keys := make(map[string]bool, 2)
		for _, k := range dedupKeys(v) {
			keys[k] = true
		}
		rest := make([]Suggestion, 0, len(matches))
		var dups []Suggestion
		for _, m := range matches {
			if sharesKey(m, keys) {
				dups = append(dups, m)
				continue
			}
			rest = append(rest, m)
		}
		return append([]Suggestion{absorb(v, dups)}, rest...)
	}
	if first > 0 {
		top := matches[first]
		copy(matches[1:first+1], matches[:first])
		matches[0] = top
	}
	return matches
}

func sharesKey(s Suggestion, keys map[string]bool) bool {
	for _, k := range dedupKeys(s) {
		if keys[k] {
			return true
		}
	}
	return false
}

// truncate keeps maxMatches entries, plus the what-you-typed match if it fell past the cap.
func truncate(matches []Suggestion, maxMatches int, inputKey string) []Suggestion {
	if len(matches) <= maxMatches {
		return matches
	}
	out := matches[:maxMatches:maxMatches]
	for _, m := range matches[maxMatches:] {
		if isWhatYouTyped(m, inputKey) {
			return append(out, m)
		}
	}
	return out
}
