package suggest

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bastiangx/omnisuggest/internal/utils"
)

// Calculated relevance scores used when the server does not supply one.
const (
	verbatimRelevance        = 1300
	verbatimRelevanceURL     = 850
	keywordVerbatimRelevance = 1500

	suggestRelevance    = 600
	suggestRelevanceURL = 300
	navigationRelevance = 800

	// History rows scored with the inline-friendly curve land in
	// [historyAggressiveMax-99, historyAggressiveMax].
	historyAggressiveMax        = 1399
	historyAggressiveMaxKeyword = 1599
	historyBase                 = 1050
	historyBaseURL              = 750
	historyAggressiveWindow     = 2 * 24 * time.Hour
	historyMaxVisitBonus        = 10

	// The default engine's results in keyword mode rank below every calculated
	// keyword engine score.
	otherEngineVerbatimRelevance   = 250
	otherEngineSuggestRelevance    = 100
	otherEngineNavigationRelevance = 150
)

// calculatedVerbatimRelevance is the what-you-typed score absent a server override.
func calculatedVerbatimRelevance(qc QueryContext) int {
	if qc.IsKeywordMode {
		return keywordVerbatimRelevance
	}
	if qc.InputType == InputURL {
		return verbatimRelevanceURL
	}
	return verbatimRelevance
}

// HistoryRelevance scores a past search. Recent searches that may be inline
// autocompleted use a steep curve; everything else decays slowly from the base.
// More visits always score higher, all else equal.
func HistoryRelevance(elapsed time.Duration, visits int, aggressive, keywordMode bool, inputType InputType) int {
	secs := math.Max(elapsed.Seconds(), 0)
	bonus := min(max(visits, 1), historyMaxVisitBonus) - 1

	if aggressive {
		window := historyAggressiveWindow.Seconds()
		if secs < window {
			top := historyAggressiveMax
			if keywordMode {
				top = historyAggressiveMaxKeyword
			}
			return top - int(99*math.Pow(secs/window, 2.5)) + bonus
		}
		secs -= window
	}

	base := historyBase
	if inputType == InputURL {
		base = historyBaseURL
	}
	discount := int(6.5 * math.Pow(secs, 0.3))
	return max(base-discount, 0) + bonus
}

// inlineFor reports whether text may be the default match for the input and, if so,
// which part of it would be inline-completed.
func inlineFor(qc QueryContext, text string) (string, bool) {
	text = utils.CollapseWhitespace(text)
	if utils.NormalizeKey(text) == utils.NormalizeKey(qc.NormalizedInput) {
		return "", true
	}
	if qc.NormalizedInput == "" || qc.PreventInlineAutocomplete {
		return "", false
	}
	rest, ok := utils.TrimPrefixIgnoreCase(text, qc.NormalizedInput)
	if !ok {
		return "", false
	}
	return rest, true
}

// navigationInlineFor also accepts input typed with a scheme or "www.".
func navigationInlineFor(qc QueryContext, s Suggestion) (string, bool) {
	if inline, ok := inlineFor(qc, s.Text); ok {
		return inline, true
	}
	if qc.PreventInlineAutocomplete {
		return "", false
	}
	for _, form := range []string{"www." + s.Text, s.Destination} {
		if rest, ok := utils.TrimPrefixIgnoreCase(form, qc.NormalizedInput); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}

// NewVerbatim builds the what-you-typed suggestion.
func NewVerbatim(qc QueryContext, relevance int, fromServer bool, engine Engine) Suggestion {
	s := Suggestion{
		Kind:                Verbatim,
		Text:                qc.NormalizedInput,
		Relevance:           relevance,
		AllowedAsDefault:    true,
		FromKeywordEngine:   qc.IsKeywordMode,
		RelevanceFromServer: fromServer,
	}
	if engine != nil {
		s.Destination = engine.SearchURL(qc.NormalizedInput)
	}
	return s
}

// NormalizeHistory turns history rows into scored HistoryQuery suggestions.
// A row equal to the input stays first; the rest are sorted by relevance and then
// forced to strictly decreasing scores so their order is deterministic.
func NormalizeHistory(qc QueryContext, rows []HistoryEntry, now time.Time, engine Engine) []Suggestion {
	if len(rows) == 0 {
		return nil
	}
	preventAll := qc.PreventInlineAutocomplete || qc.InputType == InputURL
	inputMultiWord := utils.HasMultipleWords(qc.NormalizedInput)
	inputKey := utils.NormalizeKey(qc.NormalizedInput)
	filter := utils.NewKeyFilter()

	var scored []Suggestion
	foundInput := false
	for _, row := range rows {
		text := utils.CollapseWhitespace(row.Text)
		if text == "" || !filter.ShouldInclude(text) {
			continue
		}
		// Multi-word queries seen once are not inlined on single-word input.
		rowPrevent := preventAll ||
			(!inputMultiWord && row.VisitCount < 2 && utils.HasMultipleWords(text))

		s := Suggestion{
			Kind:              HistoryQuery,
			Text:              text,
			Destination:       row.Destination,
			Relevance:         HistoryRelevance(now.Sub(row.LastVisit), row.VisitCount, !rowPrevent, qc.IsKeywordMode, qc.InputType),
			FromKeywordEngine: qc.IsKeywordMode,
		}
		if s.Destination == "" && engine != nil {
			s.Destination = engine.SearchURL(text)
		}
		// Past searches only complete the input at a word boundary.
		if inline, ok := inlineFor(qc, text); ok {
			if inline == "" || utils.ExtendsAtWordBoundary(text, qc.NormalizedInput) {
				s.AllowedAsDefault = true
				s.InlineCompletion = inline
			}
		}

		if utils.NormalizeKey(text) == inputKey {
			foundInput = true
			scored = append([]Suggestion{s}, scored...)
			continue
		}
		scored = append(scored, s)
	}

	start := 0
	if foundInput {
		start = 1
	}
	rest := scored[start:]
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Relevance > rest[j].Relevance
	})

	last := 0
	for i := range scored {
		if last != 0 && scored[i].Relevance >= last {
			scored[i].Relevance = max(last-1, 0)
		}
		last = scored[i].Relevance
	}
	return scored
}

// NormalizeRemote assigns relevance to parsed remote entries and decides which of
// them may be the default match. Entries without a server score get the calculated
// score for their list plus a positional bonus that keeps server order.
func NormalizeRemote(qc QueryContext, res *Results, engine Engine) (suggestions, navigations []Suggestion) {
	return normalizeRemote(qc, res, engine, qc.IsKeywordMode)
}

// NormalizeOtherEngine scores the default engine's results while the input is in
// keyword mode. Server scores are ignored so the results stay below the keyword
// engine's, and none of them may be the default match.
func NormalizeOtherEngine(qc QueryContext, res *Results, engine Engine) (suggestions, navigations []Suggestion) {
	if res == nil {
		return nil, nil
	}
	calc := *res
	calc.Suggestions = append([]Suggestion(nil), res.Suggestions...)
	calc.Navigations = append([]Suggestion(nil), res.Navigations...)
	for i := range calc.Suggestions {
		calc.Suggestions[i].Relevance = otherEngineSuggestRelevance + len(calc.Suggestions) - i - 1
	}
	for i := range calc.Navigations {
		calc.Navigations[i].Relevance = otherEngineNavigationRelevance + len(calc.Navigations) - i - 1
	}
	suggestions, navigations = normalizeRemote(qc, &calc, engine, false)
	for _, group := range [][]Suggestion{suggestions, navigations} {
		for i := range group {
			group[i].RelevanceFromServer = false
			group[i].AllowedAsDefault, group[i].InlineCompletion = false, ""
		}
	}
	return suggestions, navigations
}

func normalizeRemote(qc QueryContext, res *Results, engine Engine, fromKeyword bool) (suggestions, navigations []Suggestion) {
	if res == nil {
		return nil, nil
	}

	base := suggestRelevance
	if qc.InputType == InputURL {
		base = suggestRelevanceURL
	}
	suggestions = make([]Suggestion, 0, len(res.Suggestions))
	for i, s := range res.Suggestions {
		if s.Relevance < 0 {
			s.Relevance = base + len(res.Suggestions) - i - 1
			s.RelevanceFromServer = false
		}
		s.Text = utils.CollapseWhitespace(s.Text)
		s.FromKeywordEngine = fromKeyword
		if s.Destination == "" && engine != nil {
			s.Destination = engine.SearchURL(s.Text)
		}
		s.AllowedAsDefault, s.InlineCompletion = false, ""
		// Calculator results never complete the input.
		if s.Kind != Calculator {
			if inline, ok := inlineFor(qc, s.Text); ok {
				s.AllowedAsDefault, s.InlineCompletion = true, inline
			}
		}
		suggestions = append(suggestions, s)
	}

	navigations = make([]Suggestion, 0, len(res.Navigations))
	for i, s := range res.Navigations {
		if s.Relevance < 0 {
			s.Relevance = navigationRelevance + len(res.Navigations) - i - 1
			s.RelevanceFromServer = false
		}
		s.FromKeywordEngine = fromKeyword
		s.AllowedAsDefault, s.InlineCompletion = false, ""
		if inline, ok := navigationInlineFor(qc, s); ok {
			s.AllowedAsDefault, s.InlineCompletion = true, inline
		}
		navigations = append(navigations, s)
	}
	return suggestions, navigations
}

// stillMatches reports whether a suggestion from an earlier keystroke can be shown
// for the new input.
func stillMatches(qc QueryContext, s Suggestion) bool {
	if s.Kind == Navigation {
		_, ok := navigationInlineFor(QueryContext{NormalizedInput: qc.NormalizedInput}, s)
		return ok
	}
	return strings.HasPrefix(utils.NormalizeKey(s.Text), utils.NormalizeKey(qc.NormalizedInput))
}
