package suggest

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// maxGuardSkips bounds how many '[' offsets are tried when looking past an XSSI guard.
const maxGuardSkips = 5

// Results is a parsed remote suggest response.
type Results struct {
	Query       string
	Suggestions []Suggestion
	Navigations []Suggestion
	// VerbatimRelevance is -1 when the server did not send one.
	VerbatimRelevance    int
	FieldTrialTriggered  bool
	RelevancesFromServer bool
}

func (r *Results) empty() bool {
	return r == nil || (len(r.Suggestions) == 0 && len(r.Navigations) == 0)
}

// ParseResponse decodes a suggest response body of the form
//
//	[query, [completions], [descriptions], [query urls], {metadata}]
//
// optionally preceded by an XSSI guard. Entries without a server relevance keep
// Relevance -1. The second return is false for anything that is not such an array.
func ParseResponse(body []byte) (*Results, bool) {
	root, ok := extractArray(string(body))
	if !ok {
		return nil, false
	}
	parts := root.Array()
	if len(parts) < 2 || len(parts) > 5 {
		return nil, false
	}
	if parts[0].Type != gjson.String || !parts[1].IsArray() {
		return nil, false
	}

	var descriptions []gjson.Result
	if len(parts) > 2 && parts[2].IsArray() {
		descriptions = parts[2].Array()
	}
	var meta gjson.Result
	if len(parts) > 4 && parts[4].IsObject() {
		meta = parts[4]
	}

	res := &Results{
		Query:             parts[0].String(),
		VerbatimRelevance: -1,
	}

	entries := parts[1].Array()
	var types, details []gjson.Result
	if v := metaField(meta, "suggesttype"); v.IsArray() {
		types = v.Array()
	}
	if v := metaField(meta, "suggestdetail"); v.IsArray() {
		details = v.Array()
	}

	// Parallel arrays whose length disagrees with the entries are ignored as a whole.
	relevances := parallelArray(meta, "suggestrelevance", len(entries))
	res.RelevancesFromServer = relevances != nil && len(entries) > 0
	subtypes := parallelArray(meta, "suggestsubtypes", len(entries))
	subtypeIDs := parallelArray(meta, "subtypeid", len(entries))

	if v := metaField(meta, "verbatimrelevance"); v.Exists() && v.Type == gjson.Number {
		res.VerbatimRelevance = int(v.Int())
	}
	res.FieldTrialTriggered = metaField(meta, "fieldtrialtriggered").Bool()

	for i, entry := range entries {
		if entry.Type != gjson.String || strings.TrimSpace(entry.String()) == "" {
			continue
		}
		s := Suggestion{
			Kind:      SuggestQuery,
			Text:      entry.String(),
			Relevance: -1,
		}
		if i < len(types) {
			s.Kind = kindForType(types[i].String())
		}
		if relevances != nil {
			s.Relevance = max(int(relevances[i].Int()), 0)
			s.RelevanceFromServer = true
		}
		if subtypes != nil {
			for _, tag := range subtypes[i].Array() {
				s.addSubtypes(int(tag.Int()))
			}
		}
		if subtypeIDs != nil && subtypeIDs[i].Type == gjson.Number {
			s.addSubtypes(int(subtypeIDs[i].Int()))
		}
		if i < len(details) && details[i].IsObject() {
			applyDetail(&s, details[i])
		}

		if s.Kind == Navigation {
			dest, display, ok := navigationTarget(s.Text)
			if !ok {
				continue
			}
			s.Destination = dest
			s.Text = display
			if i < len(descriptions) && descriptions[i].Type == gjson.String {
				s.Description = descriptions[i].String()
			}
			res.Navigations = append(res.Navigations, s)
			continue
		}
		if s.Answer != nil {
			s.Answer.Query = s.Text
		}
		res.Suggestions = append(res.Suggestions, s)
	}
	return res, true
}

// extractArray skips any guard text before the JSON array.
func extractArray(data string) (gjson.Result, bool) {
	for i := 0; i < maxGuardSkips; i++ {
		idx := strings.IndexByte(data, '[')
		if idx < 0 {
			return gjson.Result{}, false
		}
		data = data[idx:]
		if gjson.Valid(data) {
			if r := gjson.Parse(data); r.IsArray() {
				return r, true
			}
		}
		data = data[1:]
	}
	return gjson.Result{}, false
}

// metaField reads name with or without the "google:" namespace.
func metaField(meta gjson.Result, name string) gjson.Result {
	if !meta.Exists() {
		return gjson.Result{}
	}
	if v := meta.Get("google:" + name); v.Exists() {
		return v
	}
	return meta.Get(name)
}

func parallelArray(meta gjson.Result, name string, n int) []gjson.Result {
	v := metaField(meta, name)
	if !v.IsArray() {
		return nil
	}
	arr := v.Array()
	if len(arr) != n {
		return nil
	}
	return arr
}

func kindForType(t string) Kind {
	switch strings.ToUpper(t) {
	case "NAVIGATION":
		return Navigation
	case "CALCULATOR":
		return Calculator
	case "ENTITY":
		return Entity
	default:
		return SuggestQuery
	}
}

func applyDetail(s *Suggestion, d gjson.Result) {
	if du := d.Get("du"); du.Type == gjson.String {
		s.DeletionURL = du.String()
	}
	if a := d.Get("a"); a.Type == gjson.String {
		s.Annotation = a.String()
	}
	if img := d.Get("i"); img.Type == gjson.String {
		s.ImageURL = img.String()
	}
	ansa, ansb := d.Get("ansa"), d.Get("ansb")
	if ansa.Exists() && ansb.Exists() {
		text := ansa.Get("l.0.il.t.0.t").String()
		if text == "" {
			text = ansa.String()
		}
		s.Answer = &Answer{Type: int(ansb.Int()), Text: text}
	}
}

// navigationTarget fixes up a navigation entry into a destination URL and the
// text shown for it. Entries that do not name a host are rejected.
func navigationTarget(raw string) (dest, display string, ok bool) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), displayURL(u), true
}

// displayURL drops scheme, "www." and a bare trailing slash.
func displayURL(u *url.URL) string {
	host := strings.TrimPrefix(u.Host, "www.")
	path := u.EscapedPath()
	if path == "/" {
		path = ""
	}
	out := host + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// destinationKey is the dedup form of a destination URL.
func destinationKey(dest string) string {
	if dest == "" {
		return ""
	}
	u, err := url.Parse(dest)
	if err != nil || u.Host == "" {
		return strings.ToLower(dest)
	}
	u.Host = strings.ToLower(u.Host)
	return strings.ToLower(displayURL(u))
}
