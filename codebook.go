package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Codebook sheet column headers. The sheet name and headers follow the
// upstream form-builder export format.
const (
	colFieldID      = "Id campo"
	colCode         = "Cod"
	colLabel        = "Label"
	colGrouping     = "Agrupación"
	colFormQuestion = "# Pregunta del formulario"
	colQuestionName = "Nombre de la Pregunta"
)

// Open-ended response columns are marked with one of these suffixes; their
// field id is the column name with the suffix stripped.
var otherSuffixes = []string{"_OTRO", "_OTRA"}

func isOtherColumn(col string) bool {
	for _, suf := range otherSuffixes {
		if strings.HasSuffix(col, suf) {
			return true
		}
	}
	return false
}

// columnFieldID maps a response column to the field id used by the codebook:
// closed column X -> CX, open-ended column X_OTRO -> X.
func columnFieldID(col string) string {
	for _, suf := range otherSuffixes {
		if strings.HasSuffix(col, suf) {
			return strings.TrimSuffix(col, suf)
		}
	}
	return "C" + col
}

// codeColumnFor names the sibling column holding a closed column's codes.
func codeColumnFor(col string) string { return "C" + col }

// Codebook is the in-memory source of truth for question -> code/label
// mappings during a run. Rows keep the sheet order; the per-question index
// keeps insertion order so "first match wins" stays deterministic. Mutation
// is append-only, via MintLabel.
type Codebook struct {
	Rows []CodebookRow

	order   []string
	entries map[string][]CodeLabel
}

// NewCodebookFromTable validates the required headers and converts the sheet
// into a Codebook. Empty question-name cells inherit the value above them,
// matching the merged-cell layout of the source sheet.
func NewCodebookFromTable(t *Table) (*Codebook, error) {
	for _, col := range []string{colFieldID, colCode, colLabel, colQuestionName} {
		if !t.HasColumn(col) {
			return nil, fmt.Errorf("codebook sheet missing required column %q", col)
		}
	}

	cb := &Codebook{entries: make(map[string][]CodeLabel)}
	lastQuestion := ""
	for i := range t.Rows {
		question := strings.TrimSpace(t.Get(i, colQuestionName))
		if question == "" {
			question = lastQuestion
		} else {
			lastQuestion = question
		}
		cb.Rows = append(cb.Rows, CodebookRow{
			FieldID:      strings.TrimSpace(t.Get(i, colFieldID)),
			Code:         strings.TrimSpace(t.Get(i, colCode)),
			Label:        strings.TrimSpace(t.Get(i, colLabel)),
			Grouping:     strings.TrimSpace(t.Get(i, colGrouping)),
			FormQuestion: strings.TrimSpace(t.Get(i, colFormQuestion)),
			QuestionName: question,
		})
	}
	return cb, nil
}

// Table renders the codebook back into sheet form for persistence.
func (cb *Codebook) Table() *Table {
	t := NewTable([]string{colFieldID, colCode, colLabel, colGrouping, colFormQuestion, colQuestionName})
	for _, r := range cb.Rows {
		t.AppendRow([]string{r.FieldID, r.Code, r.Label, r.Grouping, r.FormQuestion, r.QuestionName})
	}
	return t
}

func fieldIDs(row CodebookRow) []string {
	var out []string
	for _, f := range strings.Split(row.FieldID, "-") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func questionNames(row CodebookRow) []string {
	var out []string
	for _, q := range strings.Split(row.QuestionName, " / ") {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func rowMatchesColumn(row CodebookRow, col string) bool {
	base := columnFieldID(col)
	for _, id := range fieldIDs(row) {
		if id == base {
			return true
		}
	}
	return false
}

func (cb *Codebook) addEntry(question string, cl CodeLabel) {
	existing, ok := cb.entries[question]
	if !ok {
		cb.order = append(cb.order, question)
	}
	for _, e := range existing {
		if e.Code == cl.Code && e.Label == cl.Label {
			return
		}
	}
	cb.entries[question] = append(existing, cl)
}

// BuildQuestionIndex populates the question -> code/label index from every
// codebook row matching one of the given response columns. Rows may hold
// comma-separated code and label lists; pairs are zipped to the shorter of
// the two.
func (cb *Codebook) BuildQuestionIndex(responseColumns []string) {
	cb.order = nil
	cb.entries = make(map[string][]CodeLabel)

	for _, row := range cb.Rows {
		if row.FieldID == "" {
			continue
		}
		matched := false
		for _, col := range responseColumns {
			if rowMatchesColumn(row, col) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		codes := strings.Split(row.Code, ",")
		labels := strings.Split(row.Label, ",")
		n := len(codes)
		if len(labels) < n {
			n = len(labels)
		}
		for _, question := range questionNames(row) {
			for i := 0; i < n; i++ {
				cb.addEntry(question, CodeLabel{
					Code:  strings.TrimSpace(codes[i]),
					Label: strings.TrimSpace(labels[i]),
				})
			}
		}
	}
}

// ColumnQuestions maps each response column to the questions whose field ids
// cover it, in codebook order. Columns with no match are absent.
func (cb *Codebook) ColumnQuestions(responseColumns []string) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, row := range cb.Rows {
		if row.FieldID == "" {
			continue
		}
		for _, col := range responseColumns {
			if !rowMatchesColumn(row, col) {
				continue
			}
			if seen[col] == nil {
				seen[col] = make(map[string]bool)
			}
			for _, q := range questionNames(row) {
				if !seen[col][q] {
					seen[col][q] = true
					out[col] = append(out[col], q)
				}
			}
		}
	}
	return out
}

// Questions returns every indexed question in insertion order.
func (cb *Codebook) Questions() []string {
	return append([]string(nil), cb.order...)
}

// Codes returns the code/label pairs indexed for a question, in insertion
// order.
func (cb *Codebook) Codes(question string) []CodeLabel {
	return cb.entries[question]
}

func (cb *Codebook) HasQuestion(question string) bool {
	_, ok := cb.entries[question]
	return ok
}

func rowMatchesQuestion(row CodebookRow, question string) bool {
	if row.QuestionName == question {
		return true
	}
	for _, q := range questionNames(row) {
		if q == question {
			return true
		}
	}
	return false
}

// rowsForQuestion returns the codebook rows backing a question.
func (cb *Codebook) rowsForQuestion(question string) []CodebookRow {
	var out []CodebookRow
	for _, row := range cb.Rows {
		if rowMatchesQuestion(row, question) {
			out = append(out, row)
		}
	}
	return out
}

// RowsForCodeColumn returns the codebook rows whose field-id list mentions
// the given code column name. Used by the reviewer to recover a question and
// its candidate codes from a column name alone.
func (cb *Codebook) RowsForCodeColumn(codeColumn string) []CodebookRow {
	var out []CodebookRow
	for _, row := range cb.Rows {
		if strings.Contains(row.FieldID, codeColumn) {
			out = append(out, row)
		}
	}
	return out
}

// FindLabelCode looks for an existing label (case-insensitive) among a
// question's rows and returns its code.
func (cb *Codebook) FindLabelCode(question, label string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(label))
	for _, row := range cb.rowsForQuestion(question) {
		if strings.ToLower(strings.TrimSpace(row.Label)) == want {
			return formatCode(row.Code), true
		}
	}
	return "", false
}

// NormalizedLabels returns the normalized text of every label known for a
// question, including labels minted this run.
func (cb *Codebook) NormalizedLabels(question string) map[string]bool {
	out := make(map[string]bool)
	for _, row := range cb.rowsForQuestion(question) {
		out[normalizeText(row.Label)] = true
	}
	for _, cl := range cb.entries[question] {
		out[normalizeText(cl.Label)] = true
	}
	return out
}

// NextCode computes the next free code for a question: the maximum existing
// non-sentinel numeric code plus one, skipping sentinel values.
func (cb *Codebook) NextCode(question string) string {
	max := 0
	for _, row := range cb.rowsForQuestion(question) {
		for _, part := range strings.Split(row.Code, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || isSentinelCode(formatCode(part)) {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	next := max + 1
	for isSentinelCode(fmt.Sprintf("%02d", next)) {
		next++
	}
	return fmt.Sprintf("%02d", next)
}

// MintLabel appends a new label row for a question and indexes it. The new
// row inherits the question's field id and form-question text. Returns the
// assigned code.
func (cb *Codebook) MintLabel(question, label string) (string, error) {
	rows := cb.rowsForQuestion(question)
	if len(rows) == 0 {
		return "", fmt.Errorf("question %q not present in codebook", question)
	}
	code := cb.NextCode(question)
	cb.Rows = append(cb.Rows, CodebookRow{
		FieldID:      rows[0].FieldID,
		Code:         code,
		Label:        label,
		FormQuestion: rows[0].FormQuestion,
		QuestionName: question,
	})
	cb.addEntry(question, CodeLabel{Code: code, Label: label})
	return code, nil
}
