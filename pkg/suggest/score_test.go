package suggest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func queryFor(text string) QueryContext {
	return NewQueryContext(1, Input{Text: text}, false, "")
}

func mustParse(t *testing.T, body string) *Results {
	t.Helper()
	res, ok := ParseResponse([]byte(body))
	require.True(t, ok, body)
	return res
}

func texts(matches []Suggestion) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Text
	}
	return out
}

func defaults(matches []Suggestion) []bool {
	out := make([]bool, len(matches))
	for i, m := range matches {
		out[i] = m.AllowedAsDefault
	}
	return out
}

func TestScoreVerbatimNotDisplacedByIneligible(t *testing.T) {
	res := mustParse(t, `["a",["a1","a2"],[],[],{"google:verbatimrelevance":9998,"google:suggestrelevance":[9999,9997]}]`)

	matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow})

	assert.Equal(t, []string{"a1", "a", "a2"}, texts(matches))
	assert.Equal(t, []bool{true, true, false}, defaults(matches))
	assert.Equal(t, "1", matches[0].InlineCompletion)
}

func TestScoreMalformedResponseLeavesVerbatim(t *testing.T) {
	res, ok := ParseResponse([]byte("this is a bad non-json response"))
	require.False(t, ok)

	matches := Score(Pass{Context: queryFor("abc"), Remote: res, Now: testNow})

	require.Len(t, matches, 1)
	assert.Equal(t, Verbatim, matches[0].Kind)
	assert.Equal(t, "abc", matches[0].Text)
	assert.True(t, matches[0].AllowedAsDefault)
	assert.Equal(t, verbatimRelevance, matches[0].Relevance)
}

func TestScoreRelevanceLengthMismatchUsesPositionalDefaults(t *testing.T) {
	res := mustParse(t, `["a",["a1","a2"],[],[],{"google:suggestrelevance":[1]}]`)

	matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow})

	assert.Equal(t, []string{"a", "a1", "a2"}, texts(matches))
	assert.Equal(t, verbatimRelevance, matches[0].Relevance)
	assert.Equal(t, suggestRelevance+1, matches[1].Relevance)
	assert.Equal(t, suggestRelevance, matches[2].Relevance)
	assert.False(t, matches[1].RelevanceFromServer)
}

func TestScoreNavigationCulling(t *testing.T) {
	tests := []struct {
		name string
		body string
		navs int
	}{
		{
			name: "calculated scores keep the first navigation",
			body: `["a",["a1.com","a2.com"],[],[],{"google:suggesttype":["NAVIGATION","NAVIGATION"]}]`,
			navs: 1,
		},
		{
			name: "server scores keep every navigation",
			body: `["a",["a1.com","a2.com"],[],[],{"google:suggesttype":["NAVIGATION","NAVIGATION"],"google:suggestrelevance":[1100,1000]}]`,
			navs: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := Score(Pass{Context: queryFor("a"), Remote: mustParse(t, tt.body), Now: testNow})
			navs := 0
			for _, m := range matches {
				if m.Kind == Navigation {
					navs++
				}
			}
			assert.Equal(t, tt.navs, navs)
			assert.Contains(t, texts(matches), "a1.com")
		})
	}
}

func TestScoreSuppressedVerbatim(t *testing.T) {
	t.Run("another match can be default", func(t *testing.T) {
		res := mustParse(t, `["a",["a1"],[],[],{"google:verbatimrelevance":0,"google:suggestrelevance":[1200]}]`)
		matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow})
		assert.Equal(t, []string{"a1"}, texts(matches))
		assert.True(t, matches[0].AllowedAsDefault)
	})

	t.Run("verbatim returns when nothing else can be default", func(t *testing.T) {
		res := mustParse(t, `["a",["b1"],[],[],{"google:verbatimrelevance":0,"google:suggestrelevance":[1200]}]`)
		matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow})
		assert.Equal(t, []string{"a", "b1"}, texts(matches))
		assert.Equal(t, Verbatim, matches[0].Kind)
		assert.Equal(t, verbatimRelevance, matches[0].Relevance)
		assert.False(t, matches[0].RelevanceFromServer)
	})

	t.Run("zero without other results is ignored", func(t *testing.T) {
		res := mustParse(t, `["a",[],[],[],{"google:verbatimrelevance":0}]`)
		matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow})
		require.Len(t, matches, 1)
		assert.Equal(t, verbatimRelevance, matches[0].Relevance)
	})
}

func TestScoreCapKeepsVerbatim(t *testing.T) {
	res := mustParse(t, `["a",["a1","a2","a3","a4"],[],[],{"google:suggestrelevance":[2000,1999,1998,1997]}]`)

	matches := Score(Pass{Context: queryFor("a"), Remote: res, MaxMatches: 2, Now: testNow})

	assert.Equal(t, []string{"a1", "a2", "a"}, texts(matches))
	assert.LessOrEqual(t, len(matches), 3)
}

func TestScoreExactlyOneInlineDefault(t *testing.T) {
	res := mustParse(t, `["a",["a1","a2","a3"],[],[],{}]`)
	history := []HistoryEntry{
		{Text: "a history", VisitCount: 5, LastVisit: testNow.Add(-time.Hour)},
	}

	matches := Score(Pass{Context: queryFor("a"), Remote: res, History: history, Now: testNow})

	require.NotEmpty(t, matches)
	assert.True(t, matches[0].AllowedAsDefault)
	for _, m := range matches[1:] {
		if m.Kind != Verbatim {
			assert.False(t, m.AllowedAsDefault, m.Text)
			assert.Empty(t, m.InlineCompletion, m.Text)
		}
	}
}

func TestScoreNeverRepeatsAKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		body    string
		history []HistoryEntry
	}{
		{
			name:  "merged sources",
			input: "a",
			body: `["a",["A1","a1","a2","http://www.a.com/","a.com"],[],[],` +
				`{"google:suggesttype":["QUERY","QUERY","QUERY","NAVIGATION","NAVIGATION"],"google:suggestrelevance":[900,800,700,850,840]}]`,
			history: []HistoryEntry{
				{Text: "a1", VisitCount: 2, LastVisit: testNow.Add(-time.Minute)},
				{Text: "a", VisitCount: 1, LastVisit: testNow.Add(-time.Minute)},
			},
		},
		{
			name:  "restored verbatim next to a calculator result",
			input: "2+2",
			body:  `["2+2",["2+2"],[],[],{"google:suggesttype":["CALCULATOR"],"google:verbatimrelevance":0,"google:suggestrelevance":[1200]}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := Score(Pass{Context: queryFor(tt.input), Remote: mustParse(t, tt.body), History: tt.history, Now: testNow})
			require.NotEmpty(t, matches)

			textSeen := map[string]bool{}
			destSeen := map[string]bool{}
			for _, m := range matches {
				key := suggestionKey(Suggestion{Text: m.Text})
				assert.False(t, textSeen[key], "duplicate text %q", m.Text)
				textSeen[key] = true
				if d := destinationKey(m.Destination); d != "" {
					assert.False(t, destSeen[d], "duplicate destination %q", m.Destination)
					destSeen[d] = true
				}
			}
		})
	}
}

func TestScoreRestoredVerbatimAbsorbsSameText(t *testing.T) {
	res := mustParse(t, `["2+2",["2+2"],[],[],{"google:suggesttype":["CALCULATOR"],"google:verbatimrelevance":0,"google:suggestrelevance":[1200]}]`)

	matches := Score(Pass{Context: queryFor("2+2"), Remote: res, Now: testNow})

	require.Len(t, matches, 1)
	assert.Equal(t, Verbatim, matches[0].Kind)
	assert.True(t, matches[0].AllowedAsDefault)
	assert.Equal(t, verbatimRelevance, matches[0].Relevance)
	require.Len(t, matches[0].Duplicates, 1)
	assert.Equal(t, Calculator, matches[0].Duplicates[0].Kind)
}

func TestScoreIsIdempotent(t *testing.T) {
	body := `["a",["a1","a2","a.com"],[],[],{"google:suggesttype":["QUERY","QUERY","NAVIGATION"]}]`
	history := []HistoryEntry{
		{Text: "a1", VisitCount: 3, LastVisit: testNow.Add(-2 * time.Hour)},
		{Text: "a b", VisitCount: 1, LastVisit: testNow.Add(-5 * 24 * time.Hour)},
	}
	pass := func() []Suggestion {
		return Score(Pass{Context: queryFor("a"), Remote: mustParse(t, body), History: history, Now: testNow})
	}

	assert.Equal(t, pass(), pass())
}

func TestScoreLateResultsCannotTakeInline(t *testing.T) {
	res := mustParse(t, `["a",["a1"],[],[],{"google:verbatimrelevance":9000,"google:suggestrelevance":[9002]}]`)
	res.Suggestions[0].ReceivedAfterLastKeystroke = true

	matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow})
	assert.Equal(t, []string{"a", "a1"}, texts(matches))
	assert.Equal(t, []bool{true, false}, defaults(matches))

	matches = Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow, DisplayedDefault: "t:a1"})
	assert.Equal(t, []string{"a1", "a"}, texts(matches))
	assert.Equal(t, "1", matches[0].InlineCompletion)
}

func TestScoreDeletedMatchesStayHidden(t *testing.T) {
	res := mustParse(t, `["a",["a1","a2"],[],[],{}]`)

	matches := Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow, Deleted: map[string]bool{"t:a1": true}})

	assert.Equal(t, []string{"a", "a2"}, texts(matches))
}

func TestScorePreventInlineAutocomplete(t *testing.T) {
	res := mustParse(t, `["a",["a1"],[],[],{"google:verbatimrelevance":100,"google:suggestrelevance":[9999]}]`)
	qc := NewQueryContext(1, Input{Text: "a", PreventInlineAutocomplete: true}, false, "")

	matches := Score(Pass{Context: qc, Remote: res, Now: testNow})

	assert.Equal(t, []string{"a", "a1"}, texts(matches))
	assert.Equal(t, verbatimRelevance, matches[0].Relevance)
	assert.False(t, matches[1].AllowedAsDefault)
}

func TestScoreKeywordModeVerbatim(t *testing.T) {
	qc := NewQueryContext(1, Input{Text: "go", Keyword: "w"}, true, "")

	matches := Score(Pass{Context: qc, Now: testNow})

	require.Len(t, matches, 1)
	assert.Equal(t, keywordVerbatimRelevance, matches[0].Relevance)
	assert.True(t, matches[0].FromKeywordEngine)
}

func TestScoreURLInputVerbatim(t *testing.T) {
	qc := NewQueryContext(1, Input{Text: "example.com", Type: InputURL}, false, "")

	matches := Score(Pass{Context: qc, Now: testNow})

	require.Len(t, matches, 1)
	assert.Equal(t, verbatimRelevanceURL, matches[0].Relevance)
}

func TestScoreEmptyInput(t *testing.T) {
	assert.Empty(t, Score(Pass{Context: queryFor("   "), Now: testNow}))
}

func TestScoreNeverNegative(t *testing.T) {
	res := mustParse(t, `["a",["a1","a2"],[],[],{"google:suggestrelevance":[-5,-10]}]`)

	for _, m := range Score(Pass{Context: queryFor("a"), Remote: res, Now: testNow}) {
		assert.GreaterOrEqual(t, m.Relevance, 0, m.Text)
	}
}

func TestHistoryRelevanceMonotonic(t *testing.T) {
	for _, aggressive := range []bool{true, false} {
		t.Run(fmt.Sprintf("aggressive=%v", aggressive), func(t *testing.T) {
			prev := -1
			for visits := 1; visits <= historyMaxVisitBonus; visits++ {
				score := HistoryRelevance(time.Hour, visits, aggressive, false, InputQuery)
				assert.Greater(t, score, prev, "visits=%d", visits)
				prev = score
			}

			prev = 1 << 30
			for _, age := range []time.Duration{0, 12 * time.Hour, 24 * time.Hour, 47 * time.Hour, 72 * time.Hour, 30 * 24 * time.Hour} {
				score := HistoryRelevance(age, 1, aggressive, false, InputQuery)
				assert.Less(t, score, prev, "age=%v", age)
				prev = score
			}
		})
	}
}

func TestHistoryRelevanceRanges(t *testing.T) {
	assert.Equal(t, historyAggressiveMax, HistoryRelevance(0, 1, true, false, InputQuery))
	assert.Equal(t, historyAggressiveMaxKeyword, HistoryRelevance(0, 1, true, true, InputQuery))
	assert.Equal(t, historyBase, HistoryRelevance(0, 1, false, false, InputQuery))
	assert.Equal(t, historyBaseURL, HistoryRelevance(0, 1, false, false, InputURL))

	recent := HistoryRelevance(47*time.Hour, 1, true, false, InputQuery)
	assert.GreaterOrEqual(t, recent, historyAggressiveMax-99)

	assert.GreaterOrEqual(t, HistoryRelevance(100*365*24*time.Hour, 1, false, false, InputQuery), 0)
}

func TestNormalizeHistory(t *testing.T) {
	rows := []HistoryEntry{
		{Text: "foo bar", VisitCount: 1, LastVisit: testNow.Add(-time.Hour)},
		{Text: "foobar", VisitCount: 4, LastVisit: testNow.Add(-time.Minute)},
		{Text: "Foo", VisitCount: 1, LastVisit: testNow.Add(-10 * 24 * time.Hour)},
		{Text: "foo  bar", VisitCount: 9, LastVisit: testNow},
		{Text: "food truck", VisitCount: 3, LastVisit: testNow.Add(-time.Minute)},
	}

	out := NormalizeHistory(queryFor("foo"), rows, testNow, nil)

	require.Len(t, out, 4)
	assert.Equal(t, "Foo", out[0].Text, "the row equal to the input comes first")
	assert.True(t, out[0].AllowedAsDefault)

	byText := map[string]Suggestion{}
	for _, s := range out {
		byText[s.Text] = s
		assert.Equal(t, HistoryQuery, s.Kind)
	}
	assert.True(t, byText["foo bar"].AllowedAsDefault, "word boundary")
	assert.Equal(t, " bar", byText["foo bar"].InlineCompletion)
	assert.False(t, byText["foobar"].AllowedAsDefault, "mid-word")
	assert.False(t, byText["food truck"].AllowedAsDefault, "mid-word")

	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i].Relevance, out[i-1].Relevance)
	}
}

func TestNormalizeHistoryPreventsInlineOnRequest(t *testing.T) {
	rows := []HistoryEntry{{Text: "foo bar", VisitCount: 5, LastVisit: testNow}}
	qc := NewQueryContext(1, Input{Text: "foo", PreventInlineAutocomplete: true}, false, "")

	out := NormalizeHistory(qc, rows, testNow, nil)

	require.Len(t, out, 1)
	assert.False(t, out[0].AllowedAsDefault)
	assert.Less(t, out[0].Relevance, historyAggressiveMax-99)
}
