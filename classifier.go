package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// singleResponseMarker in a question name forces single-code assignments,
// matching the survey form convention.
const singleResponseMarker = "(respuesta única)"

// LabelBudget is one column's new-label counter/limit pair. Once Count
// reaches Max, unresolved responses degrade to the uncodeable sentinel.
type LabelBudget struct {
	Count int
	Max   int
}

func (b *LabelBudget) Exhausted() bool { return b.Count >= b.Max }

// ClassifyRequest carries everything the classifier needs for one
// (question, response) decision.
type ClassifyRequest struct {
	Question       string
	Response       string
	SingleResponse bool
	MaxLabels      int
	Context        string
	Budget         *LabelBudget
}

// Classifier decides codes for one (question, response) pair, minting a new
// label through its Minter when nothing fits.
type Classifier struct {
	gateway *Gateway
	minter  *Minter
}

func NewClassifier(gateway *Gateway, minter *Minter) *Classifier {
	return &Classifier{gateway: gateway, minter: minter}
}

// Assign returns the final semicolon-joined code string for one response,
// mutating the codebook when a label is minted. Failures degrade to the
// uncodeable sentinel; Assign never returns an error to the pipeline.
func (c *Classifier) Assign(ctx context.Context, cb *Codebook, req ClassifyRequest) string {
	response := strings.ToLower(strings.TrimSpace(req.Response))
	single := req.SingleResponse || req.MaxLabels == 1 || strings.Contains(req.Question, singleResponseMarker)

	// Sentinel codes are never offered as candidates.
	var candidates []CodeLabel
	for _, cl := range cb.Codes(req.Question) {
		if !isSentinelCode(formatCode(cl.Code)) {
			candidates = append(candidates, cl)
		}
	}

	assigned := c.ask(ctx, req.Question, response, candidates, single, req.MaxLabels, req.Context)
	if single {
		assigned = strings.TrimSpace(strings.SplitN(assigned, ";", 2)[0])
	}

	if assigned == NewLabelSentinel || assigned == "" {
		assigned = c.resolveNewLabel(ctx, cb, req.Question, response, candidates, req.Budget)
	}

	codes := filterExclusive(extractCodes(assigned))
	if single && len(codes) > 1 {
		codes = codes[:1]
	}
	return strings.Join(codes, ";")
}

// ask performs the classification call. Gateway failure yields the
// uncodeable sentinel directly.
func (c *Classifier) ask(ctx context.Context, question, response string, candidates []CodeLabel, single bool, maxLabels int, extraContext string) string {
	system, user := buildClassifyPrompts(question, response, candidates, single, maxLabels, extraContext)
	reply, err := c.gateway.Send(ctx, system, user)
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			log.Printf("classify degraded to %s question=%q err=%v", CodeUncodeable, question, err)
		}
		return CodeUncodeable
	}
	return strings.TrimSpace(reply)
}

// resolveNewLabel runs the minting path: budget check first, then the
// minter. Any failure falls back to the uncodeable sentinel.
func (c *Classifier) resolveNewLabel(ctx context.Context, cb *Codebook, question, response string, candidates []CodeLabel, budget *LabelBudget) string {
	log.Printf("new label needed question=%q response=%q", question, response)

	if budget != nil && budget.Exhausted() {
		log.Printf("label budget reached (%d/%d), assigning %s", budget.Count, budget.Max, CodeUncodeable)
		return CodeUncodeable
	}

	code, minted, ok := c.minter.Mint(ctx, cb, question, response, candidates)
	if !ok {
		return CodeUncodeable
	}
	if minted && budget != nil {
		budget.Count++
	}
	return code
}

func buildClassifyPrompts(question, response string, candidates []CodeLabel, single bool, maxLabels int, extraContext string) (string, string) {
	var labelLines strings.Builder
	for i, cl := range candidates {
		if i > 0 {
			labelLines.WriteString(", ")
		}
		labelLines.WriteString(fmt.Sprintf("%s (code: %s)", cl.Label, formatCode(cl.Code)))
	}

	contextBlock := ""
	if strings.TrimSpace(extraContext) != "" {
		contextBlock = fmt.Sprintf("\nADDITIONAL CONTEXT ABOUT THE QUESTION: %s\nUse this context to better understand the meaning of the responses.", extraContext)
	}

	singleRule := ""
	if single {
		singleRule = "\n- This is a single-response question: assign exactly one code."
	}

	systemPrompt := "You are an expert in coding survey responses with a focus on both thematic match and conceptual match. Assign codes accurately, concisely, and strictly based on the provided instructions without additional comments."

	userPrompt := fmt.Sprintf(`The question is: %s%s
The response is: %s
The available codes are: %s

VERY IMPORTANT: always check existing labels first and reuse them when they match thematically or conceptually.

Instructions:
- If several similar codes could apply, use only the one that fits the text best; never use them all.
- If the response is not coherent with the question, assign %s.
- If no existing code fits the response, reply with '%s' instead of assigning any code.
- Only assign codes that fit the response thematically or conceptually. Do not use codes 66, 77, 88 or 99 unless strictly necessary.
- If the list above holds no codes other than 66, 77, 88 or 99, reply with '%s'.
- Be conservative: fewer, highly relevant codes beat many loose ones.
- Never combine codes 66, 77, 88 or 99 with other codes or with each other.
- Reply with the numeric codes only, separated by semicolons when several apply.
- Do not assign more than %d codes per answer.
- If the answer is not logical text and is just signs or symbols, assign %s.%s`,
		question, contextBlock, response, labelLines.String(),
		CodeIncoherent, NewLabelSentinel, NewLabelSentinel,
		maxLabels, CodeIncoherent, singleRule)

	return systemPrompt, userPrompt
}
