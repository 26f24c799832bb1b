package main

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Sentinel codes carry fixed meanings across every codebook and are never
// combined with substantive codes.
const (
	CodeUncodeable = "77" // no usable code could be assigned
	CodeIncoherent = "99" // response does not answer the question
)

// NewLabelSentinel is the literal reply the model uses when no existing code
// fits a response.
const NewLabelSentinel = "NEW_LABEL_NEEDED"

var sentinelCodes = map[string]bool{
	"66": true, "77": true, "88": true, "99": true,
	"777": true, "888": true, "999": true,
}

// excludedMergeCodes is the sentinel set used by the open-ended merge rule.
// It additionally treats "00" as a placeholder.
var excludedMergeCodes = map[string]bool{
	"00": true, "66": true, "77": true, "88": true, "99": true,
	"777": true, "888": true, "999": true,
}

func isSentinelCode(code string) bool { return sentinelCodes[code] }

var digitRun = regexp.MustCompile(`\d+`)
var nonWordOrSpace = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
var multiSpace = regexp.MustCompile(`\s+`)

// normalizeText lowercases, strips punctuation, and collapses whitespace for
// exact-match comparisons between responses and labels.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonWordOrSpace.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// formatCode zero-pads a numeric code to two digits. Non-numeric input is
// returned trimmed as-is.
func formatCode(code string) string {
	code = strings.TrimSpace(code)
	n, err := strconv.Atoi(code)
	if err != nil {
		return code
	}
	return fmt.Sprintf("%02d", n)
}

// extractCodes pulls every digit run out of a model reply, formats each as a
// two-digit code, and de-duplicates preserving first-seen order.
func extractCodes(reply string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, run := range digitRun.FindAllString(reply, -1) {
		code := formatCode(run)
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// filterExclusive drops sentinel codes from an assignment when any
// substantive code is present. A sentinel-only assignment keeps its first
// code so the cell is never emptied.
func filterExclusive(codes []string) []string {
	var substantive []string
	for _, c := range codes {
		if !isSentinelCode(c) {
			substantive = append(substantive, c)
		}
	}
	if len(substantive) > 0 {
		return substantive
	}
	if len(codes) > 0 {
		return codes[:1]
	}
	return nil
}

// normalizeAssignment rewrites a pre-existing code cell to the canonical
// semicolon-joined two-digit form, dropping non-numeric fragments.
func normalizeAssignment(cell string) string {
	var out []string
	for _, part := range strings.Split(cell, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			out = append(out, formatCode(part))
		}
	}
	return strings.Join(out, ";")
}

func codeSet(cell string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(cell, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			set[formatCode(part)] = true
		}
	}
	return set
}

func sortedCodes(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// mergeOtherCodes folds a fresh classification into the codes already present
// in an open-ended column's base cell. The union drops sentinels whenever a
// substantive code survives. A current "77" is treated as a revised guess:
// it is removed and the replacement codes are appended as a bracketed group
// so the revision stays distinguishable from a first-pass multi-code list.
func mergeOtherCodes(current, assigned string) string {
	currentSet := codeSet(current)
	newSet := codeSet(assigned)

	combined := make(map[string]bool, len(currentSet)+len(newSet))
	for c := range currentSet {
		combined[c] = true
	}
	for c := range newSet {
		combined[c] = true
	}
	nonExcluded := make(map[string]bool)
	for c := range combined {
		if !excludedMergeCodes[c] {
			nonExcluded[c] = true
		}
	}
	if len(nonExcluded) > 0 {
		combined = nonExcluded
	}

	var final string
	if currentSet[CodeUncodeable] {
		delete(currentSet, CodeUncodeable)
		replacement := make(map[string]bool)
		for c := range newSet {
			if !currentSet[c] {
				replacement[c] = true
			}
		}
		kept := strings.Join(sortedCodes(currentSet), ";")
		switch {
		case len(replacement) == 0:
			final = kept
		case kept == "":
			// Nothing survived besides the revised guess; no bracket needed.
			final = strings.Join(sortedCodes(replacement), ";")
		default:
			final = kept + ";[" + strings.Join(sortedCodes(replacement), ";") + "]"
		}
	} else {
		final = strings.Join(sortedCodes(combined), ";")
	}

	parts := strings.Split(final, ";")
	var filtered []string
	for _, p := range parts {
		if !excludedMergeCodes[p] {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		filtered = parts
	}
	return strings.Join(filtered, ";")
}

// cleanReviewCodes normalizes an assignment ahead of review: brackets and
// quotes are stripped, duplicates removed in order, and sentinel codes
// dropped unless the assignment holds nothing else.
func cleanReviewCodes(cell string) string {
	s := strings.NewReplacer("[", "", "]", "", "'", "", "\"", "").Replace(cell)
	parts := strings.Split(s, ";")

	var unique []string
	seen := make(map[string]bool)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}

	var out []string
	for _, p := range unique {
		if isSentinelCode(p) && len(unique) > 1 {
			continue
		}
		if _, err := strconv.Atoi(p); err == nil {
			out = append(out, formatCode(p))
		}
	}
	return strings.Join(out, ";")
}

// formatReviewReply reduces a reviewer model reply to a semicolon-joined
// two-digit code list, de-duplicated in reply order.
func formatReviewReply(reply string) string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(reply, ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			continue
		}
		code := formatCode(p)
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return strings.Join(out, ";")
}

// columnLetter converts a zero-based column index to its spreadsheet letter
// (0 -> A, 25 -> Z, 26 -> AA).
func columnLetter(idx int) string {
	letter := ""
	for idx >= 0 {
		letter = string(rune('A'+idx%26)) + letter
		idx = idx/26 - 1
	}
	return letter
}
