package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

const (
	defaultMaxLabels    = 6
	defaultMaxNewLabels = 8
)

// runState is the explicit per-run context threaded through the pipeline
// components. It replaces any process-wide mutable state so concurrent runs
// (and tests) never leak into each other.
type runState struct {
	responses *Table
	codebook  *Codebook

	modified      map[CellRef]bool
	labelBudgets  map[string]*LabelBudget
	skipNext      bool
	totalRecords  int
	processedRecs int
}

func (rs *runState) markModified(row int, col string) {
	rs.modified[CellRef{Row: row, Column: col}] = true
}

func (rs *runState) budgetFor(col string, max int) *LabelBudget {
	if b, ok := rs.labelBudgets[col]; ok {
		b.Max = max
		return b
	}
	b := &LabelBudget{Max: max}
	rs.labelBudgets[col] = b
	return b
}

func (rs *runState) advance(notifier *Notifier) {
	rs.processedRecs++
	if rs.totalRecords < 1 {
		return
	}
	fraction := float64(rs.processedRecs) / float64(rs.totalRecords)
	if fraction > 1 {
		fraction = 1
	}
	notifier.Progress(fraction)
}

// Pipeline drives the per-column, per-response coding loop. It is strictly
// sequential: one model call at a time, which keeps label numbering
// deterministic.
type Pipeline struct {
	classifier   *Classifier
	checkpointer *Checkpointer
	notifier     *Notifier
	stop         *atomic.Bool
}

func NewPipeline(classifier *Classifier, checkpointer *Checkpointer, notifier *Notifier, stop *atomic.Bool) *Pipeline {
	if stop == nil {
		stop = &atomic.Bool{}
	}
	return &Pipeline{classifier: classifier, checkpointer: checkpointer, notifier: notifier, stop: stop}
}

func (p *Pipeline) stopped() bool { return p.stop.Load() }

// Run codes every configured column. It returns the processed tables and
// the set of cells touched this run; a cooperative stop returns the partial
// tables without error.
func (p *Pipeline) Run(ctx context.Context, responses *Table, cb *Codebook, job CodingJob) (*Table, *Codebook, map[CellRef]bool) {
	rs := &runState{
		responses:    responses,
		codebook:     cb,
		modified:     make(map[CellRef]bool),
		labelBudgets: make(map[string]*LabelBudget),
		skipNext:     job.SkipFirstUncoded,
	}

	columns := make([]string, 0, len(job.Columns))
	configs := make(map[string]ColumnConfig, len(job.Columns))
	for _, cc := range job.Columns {
		columns = append(columns, cc.Name)
		configs[cc.Name] = cc
	}

	cb.BuildQuestionIndex(columns)
	columnQuestions := cb.ColumnQuestions(columns)

	if len(job.ManualMappings) > 0 {
		p.notifier.Status("Applying manual coding...")
		applied := applyManualCoding(responses, job.ManualMappings, rs)
		p.notifier.Status(fmt.Sprintf("Manual coding done, %d cells pre-assigned", applied))
	}

	// Closed columns advance once per unique value, open-ended columns once
	// per non-empty row; the totals must count the same units.
	for _, col := range columns {
		if !responses.HasColumn(col) {
			continue
		}
		if isOtherColumn(col) {
			rs.totalRecords += nonEmptyRows(responses, col)
		} else {
			rs.totalRecords += len(uniqueValues(responses, col))
		}
	}

	for i, col := range columns {
		if p.stopped() {
			return responses, cb, rs.modified
		}
		p.notifier.Status(fmt.Sprintf("Processing column %d of %d: %s", i+1, len(columns), col))
		p.notifier.ColumnStarted(col)

		if isOtherColumn(col) {
			// Open-ended columns classify against every known question and
			// need no field-id mapping of their own.
			p.processOtherColumn(ctx, rs, col, configs[col])
		} else {
			relevant := columnQuestions[col]
			if len(relevant) == 0 {
				log.Printf("pipeline column=%s has no mapped question, skipping", col)
				continue
			}
			p.processClosedColumn(ctx, rs, col, relevant, configs[col])
		}

		if p.checkpointer != nil {
			if err := p.checkpointer.Save(rs.responses, rs.codebook); err != nil {
				p.notifier.Error(fmt.Sprintf("checkpoint after column %s failed: %v", col, err))
			}
		}
	}

	return responses, cb, rs.modified
}

// uniqueValues returns a column's distinct non-empty cell values in order of
// first appearance.
func uniqueValues(t *Table, col string) []string {
	var out []string
	seen := make(map[string]bool)
	for i := range t.Rows {
		v := strings.TrimSpace(t.Get(i, col))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// nonEmptyRows counts the rows holding a non-empty cell in col.
func nonEmptyRows(t *Table, col string) int {
	n := 0
	for i := range t.Rows {
		if strings.TrimSpace(t.Get(i, col)) != "" {
			n++
		}
	}
	return n
}

// rowsWithValue returns every row index whose cell in col equals value.
func rowsWithValue(t *Table, col, value string) []int {
	var out []int
	for i := range t.Rows {
		if strings.TrimSpace(t.Get(i, col)) == value {
			out = append(out, i)
		}
	}
	return out
}

func (p *Pipeline) processClosedColumn(ctx context.Context, rs *runState, col string, relevant []string, cc ColumnConfig) {
	if !rs.responses.HasColumn(col) {
		log.Printf("pipeline column=%s not found in responses, skipping", col)
		return
	}

	codeCol := codeColumnFor(col)
	rs.responses.EnsureColumn(codeCol)
	for i := range rs.responses.Rows {
		if cell := rs.responses.Get(i, codeCol); cell != "" {
			rs.responses.Set(i, codeCol, normalizeAssignment(cell))
		}
	}

	maxLabels := cc.MaxLabels
	if maxLabels == 0 {
		maxLabels = defaultMaxLabels
	}
	if !cc.MultiLabel {
		maxLabels = 1
	}
	maxNew := cc.MaxNewLabels
	if maxNew == 0 {
		maxNew = defaultMaxNewLabels
	}

	unique := uniqueValues(rs.responses, col)
	for j, value := range unique {
		if p.stopped() {
			return
		}
		if step := len(unique) / 100; step == 0 || j%step == 0 {
			p.notifier.Status(fmt.Sprintf("Processing %s: %d/%d", col, j+1, len(unique)))
		}

		rows := rowsWithValue(rs.responses, col, value)
		if allRowsCoded(rs.responses, codeCol, rows) {
			rs.advance(p.notifier)
			continue
		}

		// One-shot skip directive: step past a response that previously
		// crashed processing.
		if rs.skipNext {
			log.Printf("pipeline skipping presumed crash row column=%s response=%q", col, value)
			for _, r := range rows {
				rs.responses.Set(r, codeCol, CodeUncodeable)
				rs.markModified(r, codeCol)
			}
			rs.skipNext = false
			rs.advance(p.notifier)
			continue
		}

		// First matching question wins: one response, one assignment, even
		// when several questions nominally cover the column.
		for _, question := range relevant {
			if !rs.codebook.HasQuestion(question) {
				continue
			}
			assigned := p.classifier.Assign(ctx, rs.codebook, ClassifyRequest{
				Question:       question,
				Response:       value,
				SingleResponse: !cc.MultiLabel,
				MaxLabels:      maxLabels,
				Context:        cc.Context,
				Budget:         rs.budgetFor(col, maxNew),
			})
			for _, r := range rows {
				rs.responses.Set(r, codeCol, assigned)
				rs.markModified(r, codeCol)
			}
			rs.advance(p.notifier)
			break
		}
	}
}

// processOtherColumn classifies every non-empty cell of an open-ended column
// against every known question and merges each result into the base column.
func (p *Pipeline) processOtherColumn(ctx context.Context, rs *runState, col string, cc ColumnConfig) {
	if !rs.responses.HasColumn(col) {
		log.Printf("pipeline column=%s not found in responses, skipping", col)
		return
	}

	base := columnFieldID(col)
	rs.responses.EnsureColumn(base)
	for i := range rs.responses.Rows {
		rs.responses.Set(i, base, normalizeAssignment(rs.responses.Get(i, base)))
	}

	maxLabels := cc.MaxLabels
	if maxLabels == 0 {
		maxLabels = defaultMaxLabels
	}
	maxNew := cc.MaxNewLabels
	if maxNew == 0 {
		maxNew = defaultMaxNewLabels
	}

	for idx := range rs.responses.Rows {
		if p.stopped() {
			return
		}
		response := strings.TrimSpace(rs.responses.Get(idx, col))
		if response == "" {
			continue
		}

		for _, question := range rs.codebook.Questions() {
			if p.stopped() {
				return
			}
			assigned := p.classifier.Assign(ctx, rs.codebook, ClassifyRequest{
				Question:  question,
				Response:  response,
				MaxLabels: maxLabels,
				Context:   cc.Context,
				Budget:    rs.budgetFor(col, maxNew),
			})

			merged := mergeOtherCodes(rs.responses.Get(idx, base), assigned)
			rs.responses.Set(idx, base, merged)
			rs.markModified(idx, base)
		}
		rs.advance(p.notifier)
		p.notifier.Status(fmt.Sprintf("Processing record %d of %d", rs.processedRecs, rs.totalRecords))
	}
}
