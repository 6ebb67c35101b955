// Package engines keeps the search engines a user can query, each described by
// URL templates, and resolves which engine a keyword selects.
package engines

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	searchTermsParam   = "{searchTerms}"
	inputEncodingParam = "{inputEncoding}"
)

// ErrInvalidTemplate is returned for engines that cannot produce a search URL.
var ErrInvalidTemplate = errors.New("engines: invalid template")

// TemplateURLData is the persisted description of an engine.
type TemplateURLData struct {
	ShortName  string `toml:"short_name"`
	Keyword    string `toml:"keyword"`
	SearchURL  string `toml:"search_url"`
	SuggestURL string `toml:"suggest_url"`
	// PrepopulateID is non-zero for engines shipped with the program.
	PrepopulateID int `toml:"prepopulate_id"`
	// SafeForAutoReplace marks engines that were not explicitly added by the
	// user and may lose their keyword to another engine.
	SafeForAutoReplace bool      `toml:"safe_for_auto_replace"`
	LastModified       time.Time `toml:"last_modified"`
}

// TemplateURL is a registered engine. It implements suggest.Engine.
type TemplateURL struct {
	data TemplateURLData
	id   int64
}

func newTemplateURL(data TemplateURLData, id int64) *TemplateURL {
	data.Keyword = normalizeKeyword(data.Keyword)
	data.ShortName = strings.TrimSpace(data.ShortName)
	if data.ShortName == "" {
		data.ShortName = data.Keyword
	}
	return &TemplateURL{data: data, id: id}
}

// ID is unique within a registry.
func (t *TemplateURL) ID() int64 { return t.id }

// Data returns a copy of the engine's description.
func (t *TemplateURL) Data() TemplateURLData { return t.data }

func (t *TemplateURL) ShortName() string { return t.data.ShortName }

func (t *TemplateURL) Keyword() string { return t.data.Keyword }

func (t *TemplateURL) IsPrepopulated() bool { return t.data.PrepopulateID != 0 }

func (t *TemplateURL) SafeForAutoReplace() bool { return t.data.SafeForAutoReplace }

func (t *TemplateURL) SupportsSuggestions() bool { return t.data.SuggestURL != "" }

// SuggestURL expands the suggest template for query, or returns "" when the
// engine has none.
func (t *TemplateURL) SuggestURL(query string) string {
	if t.data.SuggestURL == "" {
		return ""
	}
	return expand(t.data.SuggestURL, query)
}

// SearchURL expands the search template for query.
func (t *TemplateURL) SearchURL(query string) string {
	return expand(t.data.SearchURL, query)
}

// expand substitutes the template parameters. Terms placed in the path are
// path-escaped, terms in the query or fragment are query-escaped.
func expand(template, query string) string {
	out := strings.ReplaceAll(template, inputEncodingParam, "UTF-8")
	for {
		i := strings.Index(out, searchTermsParam)
		if i < 0 {
			return out
		}
		var escaped string
		if strings.ContainsAny(out[:i], "?#") {
			escaped = url.QueryEscape(query)
		} else {
			escaped = url.PathEscape(query)
		}
		out = out[:i] + escaped + out[i+len(searchTermsParam):]
	}
}

func normalizeKeyword(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func validate(data TemplateURLData) error {
	keyword := normalizeKeyword(data.Keyword)
	if keyword == "" {
		return fmt.Errorf("%w: empty keyword", ErrInvalidTemplate)
	}
	if strings.ContainsFunc(keyword, func(r rune) bool { return r == ' ' || r == '\t' }) {
		return fmt.Errorf("%w: keyword %q contains whitespace", ErrInvalidTemplate, keyword)
	}
	if err := validateTemplate(data.SearchURL, true); err != nil {
		return fmt.Errorf("%w: search url of %q: %v", ErrInvalidTemplate, keyword, err)
	}
	if data.SuggestURL != "" {
		if err := validateTemplate(data.SuggestURL, false); err != nil {
			return fmt.Errorf("%w: suggest url of %q: %v", ErrInvalidTemplate, keyword, err)
		}
	}
	return nil
}

func validateTemplate(template string, needsTerms bool) error {
	if needsTerms && !strings.Contains(template, searchTermsParam) {
		return fmt.Errorf("missing %s", searchTermsParam)
	}
	u, err := url.Parse(expand(template, "x"))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
