package main

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// Defaults for the frequent-responses analysis.
const (
	defaultFrequentTopN      = 20
	defaultFrequentMinCount  = 10
	defaultFrequentThreshold = 80.0
)

// ResponseGroup is one cluster of similar free-text responses with its total
// occurrence count. Text is the normalized representative, DisplayText the
// shortest raw spelling seen, Variations every raw spelling folded into the
// group.
type ResponseGroup struct {
	Text        string
	DisplayText string
	Count       int
	Variations  []string
}

// FrequentResponses analyzes the selected columns and returns their most
// frequent values, fuzzy-grouped so near-duplicate spellings count as one.
// Groups below minCount are dropped; at most topN groups per column. The
// result is the raw material for a manual pre-coding map.
func FrequentResponses(t *Table, columns []string, topN, minCount int, threshold float64) map[string][]ResponseGroup {
	out := make(map[string][]ResponseGroup)
	for _, col := range columns {
		if !t.HasColumn(col) {
			continue
		}
		var values []string
		for i := range t.Rows {
			if v := t.Get(i, col); v != "" {
				values = append(values, v)
			}
		}
		out[col] = groupResponses(values, topN, minCount, threshold)
	}
	return out
}

func groupResponses(values []string, topN, minCount int, threshold float64) []ResponseGroup {
	counts := make(map[string]int)
	variations := make(map[string]map[string]bool)
	var order []string
	for _, raw := range values {
		norm := normalizeText(raw)
		if norm == "" {
			continue
		}
		if counts[norm] == 0 {
			order = append(order, norm)
			variations[norm] = make(map[string]bool)
		}
		counts[norm]++
		variations[norm][raw] = true
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	used := make(map[string]bool)
	var groups []ResponseGroup
	for _, text := range order {
		if used[text] {
			continue
		}
		used[text] = true

		g := ResponseGroup{Text: text, Count: counts[text]}
		vars := make(map[string]bool)
		for v := range variations[text] {
			vars[v] = true
		}
		// Greedy merge: the most frequent spelling absorbs every later
		// candidate within the similarity threshold.
		for _, other := range order {
			if used[other] {
				continue
			}
			if similarityRatio(text, other) >= threshold {
				used[other] = true
				g.Count += counts[other]
				for v := range variations[other] {
					vars[v] = true
				}
			}
		}
		g.Variations = sortedVariations(vars)
		g.DisplayText = g.Variations[0]
		groups = append(groups, g)
		if len(groups) >= topN {
			break
		}
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	kept := groups[:0]
	for _, g := range groups {
		if g.Count >= minCount {
			kept = append(kept, g)
		}
	}
	return kept
}

// similarityRatio scores two strings 0-100 from their edit distance relative
// to the longer string.
func similarityRatio(a, b string) float64 {
	if a == b {
		return 100
	}
	la := len([]rune(a))
	lb := len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// sortedVariations orders raw spellings shortest-first so the first entry
// doubles as the display text.
func sortedVariations(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
