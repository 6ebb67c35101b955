package suggest

import (
	"sort"

	"github.com/bastiangx/omnisuggest/internal/utils"
)

// dedupKeys returns the keys under which s collides with other candidates.
func dedupKeys(s Suggestion) []string {
	keys := make([]string, 0, 2)
	if t := utils.NormalizeKey(s.Text); t != "" {
		keys = append(keys, "t:"+t)
	}
	if d := destinationKey(s.Destination); d != "" {
		keys = append(keys, "d:"+d)
	}
	return keys
}

// Merge collapses candidates that share normalized text or destination.
// Each group keeps its highest-relevance member as primary; on equal relevance
// verbatim beats history, history beats suggestions and suggestions beat
// navigations. Groups come out in the order of their primaries in the input.
func Merge(candidates []Suggestion) []Suggestion {
	if len(candidates) == 0 {
		return nil
	}

	parent := make([]int, len(candidates))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	owner := make(map[string]int, 2*len(candidates))
	for i, c := range candidates {
		for _, k := range dedupKeys(c) {
			if j, ok := owner[k]; ok {
				a, b := find(i), find(j)
				if a != b {
					parent[max(a, b)] = min(a, b)
				}
				continue
			}
			owner[k] = i
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range candidates {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	type merged struct {
		at int
		s  Suggestion
	}
	out := make([]merged, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		best := members[0]
		for _, i := range members[1:] {
			if outranks(candidates[i], candidates[best]) {
				best = i
			}
		}
		primary := candidates[best]
		var dups []Suggestion
		for _, i := range members {
			if i == best {
				continue
			}
			dups = append(dups, candidates[i])
		}
		out = append(out, merged{at: best, s: absorb(primary, dups)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	result := make([]Suggestion, len(out))
	for i, m := range out {
		result[i] = m.s
	}
	return result
}

func outranks(a, b Suggestion) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	return a.Kind.tieRank() < b.Kind.tieRank()
}

// absorb attaches dups to primary. Verbatim duplicates go last in ascending
// relevance; all others come first in descending relevance.
func absorb(primary Suggestion, dups []Suggestion) Suggestion {
	if len(dups) == 0 {
		return primary
	}
	flat := append([]Suggestion(nil), primary.Duplicates...)
	for _, d := range dups {
		nested := d.Duplicates
		d.Duplicates = nil
		flat = append(flat, d)
		flat = append(flat, nested...)
	}

	var others, verbatims []Suggestion
	for _, d := range flat {
		if d.Kind == Verbatim {
			verbatims = append(verbatims, d)
		} else {
			others = append(others, d)
		}
	}
	sort.SliceStable(others, func(i, j int) bool { return others[i].Relevance > others[j].Relevance })
	sort.SliceStable(verbatims, func(i, j int) bool { return verbatims[i].Relevance < verbatims[j].Relevance })

	primary.Duplicates = append(others, verbatims...)

	primaryKey := utils.NormalizeKey(primary.Text)
	for _, d := range primary.Duplicates {
		if primary.Answer == nil && d.Answer != nil {
			a := *d.Answer
			primary.Answer = &a
		}
		// A duplicate with the same text can lend its default eligibility.
		if !primary.AllowedAsDefault && d.AllowedAsDefault && utils.NormalizeKey(d.Text) == primaryKey {
			primary.AllowedAsDefault = true
			primary.InlineCompletion = d.InlineCompletion
		}
		primary.addSubtypes(d.SubtypeTags...)
	}
	return primary
}
