package engines

import "github.com/charmbracelet/log"

// DefaultKeyword selects the default engine of a fresh registry.
const DefaultKeyword = "google.com"

var prepopulated = []TemplateURLData{
	{
		ShortName:     "Google",
		Keyword:       "google.com",
		SearchURL:     "https://www.google.com/search?q={searchTerms}&ie={inputEncoding}",
		SuggestURL:    "https://www.google.com/complete/search?client=chrome&q={searchTerms}",
		PrepopulateID: 1,
	},
	{
		ShortName:     "Bing",
		Keyword:       "bing.com",
		SearchURL:     "https://www.bing.com/search?q={searchTerms}",
		SuggestURL:    "https://www.bing.com/osjson.aspx?query={searchTerms}",
		PrepopulateID: 3,
	},
	{
		ShortName:     "DuckDuckGo",
		Keyword:       "duckduckgo.com",
		SearchURL:     "https://duckduckgo.com/?q={searchTerms}",
		SuggestURL:    "https://duckduckgo.com/ac/?q={searchTerms}&type=list",
		PrepopulateID: 92,
	},
	{
		ShortName:     "Wikipedia",
		Keyword:       "wikipedia.org",
		SearchURL:     "https://en.wikipedia.org/wiki/Special:Search?search={searchTerms}",
		SuggestURL:    "https://en.wikipedia.org/w/api.php?action=opensearch&search={searchTerms}",
		PrepopulateID: 400,
	},
}

// PrepopulatedEngines returns the engines shipped with the program.
func PrepopulatedEngines() []TemplateURLData {
	out := make([]TemplateURLData, len(prepopulated))
	for i, d := range prepopulated {
		d.SafeForAutoReplace = true
		out[i] = d
	}
	return out
}

// NewDefaultRegistry creates a registry holding the prepopulated engines with
// DefaultKeyword as the default.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range PrepopulatedEngines() {
		if _, err := r.Add(d); err != nil {
			log.Warnf("Skipping prepopulated engine %s: %v", d.ShortName, err)
		}
	}
	if err := r.SetDefaultKeyword(DefaultKeyword); err != nil {
		log.Warnf("No default engine: %v", err)
	}
	return r
}
