package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// reviewKey de-duplicates model calls within one review run: identical
// (question, response, assignment) triples are verified at most once.
type reviewKey struct {
	question string
	response string
	assigned string
}

// Reviewer re-asks the model to validate already-assigned codes and writes a
// corrected copy of the responses table with corrected cells highlighted.
type Reviewer struct {
	gateway       *Gateway
	notifier      *Notifier
	stop          *atomic.Bool
	codebookSheet string

	// CorrectionAudit, when set, receives every correction actually applied.
	CorrectionAudit func(codeColumn, response, original, corrected string)
}

func NewReviewer(gateway *Gateway, notifier *Notifier, stop *atomic.Bool, codebookSheet string) *Reviewer {
	if stop == nil {
		stop = &atomic.Bool{}
	}
	return &Reviewer{gateway: gateway, notifier: notifier, stop: stop, codebookSheet: codebookSheet}
}

// Run reviews the given response columns of a finished coding output. The
// corrected table is written next to the input with a "_reviewed" suffix.
func (r *Reviewer) Run(ctx context.Context, responsesPath, codesPath string, columns []string) (ReviewResult, error) {
	responses, err := LoadSheet(responsesPath, "")
	if err != nil {
		return ReviewResult{}, fmt.Errorf("load responses for review: %w", err)
	}
	codesTable, err := LoadSheet(codesPath, r.codebookSheet)
	if err != nil {
		return ReviewResult{}, fmt.Errorf("load codebook for review: %w", err)
	}
	cb, err := NewCodebookFromTable(codesTable)
	if err != nil {
		return ReviewResult{}, err
	}

	cache := make(map[reviewKey]string)

	totalRows := 0
	for _, col := range columns {
		if responses.HasColumn(col) && responses.HasColumn(codeColumnFor(col)) {
			totalRows += len(responses.Rows)
		}
	}

	processed := 0
	corrections := 0
	var highlighted []string

	r.notifier.Status("Starting assignment review...")

	for _, col := range columns {
		if r.stop.Load() {
			break
		}
		codeCol := codeColumnFor(col)
		if !responses.HasColumn(col) || !responses.HasColumn(codeCol) {
			continue
		}
		r.notifier.Status(fmt.Sprintf("Reviewing column: %s -> %s", col, codeCol))

		rows := cb.RowsForCodeColumn(codeCol)
		if len(rows) == 0 {
			log.Printf("review no codebook question for column=%s", codeCol)
			continue
		}
		questionText := rows[0].QuestionName
		var validCodes, validLabels []string
		for _, row := range rows {
			codes := strings.Split(row.Code, ",")
			labels := strings.Split(row.Label, ",")
			n := len(codes)
			if len(labels) < n {
				n = len(labels)
			}
			for i := 0; i < n; i++ {
				validCodes = append(validCodes, formatCode(strings.TrimSpace(codes[i])))
				validLabels = append(validLabels, strings.TrimSpace(labels[i]))
			}
		}

		// Normalize assignments before comparing against the model's reply.
		for i := range responses.Rows {
			responses.Set(i, codeCol, cleanReviewCodes(responses.Get(i, codeCol)))
		}

		for idx := range responses.Rows {
			if r.stop.Load() {
				break
			}
			responseText := strings.TrimSpace(responses.Get(idx, col))
			if responseText == "" {
				processed++
				continue
			}
			assigned := strings.TrimSpace(responses.Get(idx, codeCol))

			key := reviewKey{question: questionText, response: responseText, assigned: assigned}
			corrected, hit := cache[key]
			if !hit {
				corrected = r.verify(ctx, questionText, responseText, assigned, validCodes, validLabels)
				cache[key] = corrected
			}

			if corrected != assigned {
				responses.Set(idx, codeCol, corrected)
				corrections++
				colIdx := responses.ColIndex(codeCol)
				highlighted = append(highlighted, fmt.Sprintf("%s%d", columnLetter(colIdx), idx+2))
				if r.CorrectionAudit != nil {
					r.CorrectionAudit(codeCol, responseText, assigned, corrected)
				}
			}

			processed++
			if totalRows > 0 {
				r.notifier.Progress(float64(processed) / float64(totalRows))
			}
		}
	}

	outPath := reviewedPath(responsesPath)
	if err := SaveSheet(responses, outPath, ""); err != nil {
		return ReviewResult{}, fmt.Errorf("save reviewed output: %w", err)
	}
	if err := HighlightCells(outPath, highlighted); err != nil {
		return ReviewResult{}, fmt.Errorf("highlight corrections: %w", err)
	}

	log.Printf("review done corrections=%d rows=%d output=%s", corrections, processed, outPath)
	return ReviewResult{OutputPath: outPath, Corrections: corrections, RowsReviewed: processed}, nil
}

// verify asks the model to validate one assignment. On any failure the
// original assignment is kept so review never destroys data.
func (r *Reviewer) verify(ctx context.Context, question, response, assigned string, validCodes, validLabels []string) string {
	system, user := buildReviewPrompts(question, response, assigned, validCodes, validLabels)
	reply, err := r.gateway.Send(ctx, system, user)
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			log.Printf("review keeping original assignment question=%q err=%v", question, err)
		}
		return formatReviewReply(assigned)
	}

	corrected := formatReviewReply(reply)
	if corrected == "" {
		// Model ignored the output format; keep the original.
		return formatReviewReply(assigned)
	}
	return corrected
}

func buildReviewPrompts(question, response, assigned string, validCodes, validLabels []string) (string, string) {
	systemPrompt := "You are an expert in coding survey responses. Assign codes precisely. YOUR REPLY MUST BE ONLY THE LIST OF CODES SEPARATED BY SEMICOLONS (e.g. '01;05'). NO WORDS, NO EXPLANATIONS, NO QUOTES. ONLY NUMBERS AND ;. If the assignment is correct, return the same codes."

	userPrompt := fmt.Sprintf(
		"Given the question: '%s', the response: '%s', and the assigned codes: %s. "+
			"The valid codes for this question are: %s, with the following corresponding labels: %s. "+
			"It is very important that the codes capture the literal idea of the response. "+
			"Read the question and the response carefully to make sure the assignments are correct. "+
			"If the assigned codes contain errors or necessary codes are missing, correct the assignment as a ';'-separated list. "+
			"If the assignment is correct, return the same list unchanged. "+
			"If one idea in the response could map to several codes, assign only 1 code per idea. "+
			"Remember codes must be two digits and separated by semicolons.",
		question, response, assigned,
		strings.Join(validCodes, ", "), strings.Join(validLabels, ", "))

	return systemPrompt, userPrompt
}

func reviewedPath(responsesPath string) string {
	if strings.HasSuffix(responsesPath, ".xlsx") {
		return strings.TrimSuffix(responsesPath, ".xlsx") + "_reviewed.xlsx"
	}
	return responsesPath + "_reviewed.xlsx"
}
