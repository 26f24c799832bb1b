package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Minter creates a new label and code for a question when the classifier
// found nothing suitable. MintAudit, when set, receives every label actually
// minted so runs leave an audit trail.
type Minter struct {
	gateway *Gateway
	// LabelLocale is the locale new labels must be written in, e.g.
	// "Latin American Spanish (Colombia)".
	LabelLocale string
	MintAudit   func(question, label, code string)
}

func NewMinter(gateway *Gateway, labelLocale string) *Minter {
	return &Minter{gateway: gateway, LabelLocale: labelLocale}
}

// Mint resolves a code for a response with no fitting candidate. It first
// tries an exact normalized-text match against the question's known labels
// (no model call); otherwise it asks the model for a label. Reuse-matching
// is scoped to the current question only. Returns the code, whether a new
// label was created, and whether minting succeeded at all.
func (m *Minter) Mint(ctx context.Context, cb *Codebook, question, response string, candidates []CodeLabel) (code string, minted, ok bool) {
	normalized := normalizeText(response)
	known := cb.NormalizedLabels(question)

	if known[normalized] && normalized != "" {
		for _, cl := range candidates {
			if normalizeText(cl.Label) == normalized {
				log.Printf("mint reused label=%q code=%s question=%q", cl.Label, formatCode(cl.Code), question)
				return formatCode(cl.Code), false, true
			}
		}
		for _, row := range cb.Rows {
			if rowMatchesQuestion(row, question) && normalizeText(row.Label) == normalized {
				log.Printf("mint reused label=%q code=%s question=%q", row.Label, formatCode(row.Code), question)
				return formatCode(row.Code), false, true
			}
		}
	}

	label, ok := m.proposeLabel(ctx, question, response, candidates)
	if !ok {
		return "", false, false
	}

	// The model may return an existing label with different casing; reuse
	// its code instead of minting a duplicate.
	if code, found := cb.FindLabelCode(question, label); found {
		log.Printf("mint reused existing code=%s label=%q question=%q", code, label, question)
		return code, false, true
	}
	// A proposal that merely normalizes to a known label is a near-duplicate
	// under different spelling; minting it would split one concept across
	// two codes.
	if known[normalizeText(label)] {
		log.Printf("mint rejected near-duplicate label=%q question=%q", label, question)
		return "", false, false
	}

	code, err := cb.MintLabel(question, label)
	if err != nil {
		log.Printf("mint failed question=%q: %v", question, err)
		return "", false, false
	}
	log.Printf("mint created label=%q code=%s question=%q", label, code, question)
	if m.MintAudit != nil {
		m.MintAudit(question, label, code)
	}
	return code, true, true
}

// proposeLabel asks the model for a short reusable label and applies the
// client-side acceptance policy: non-empty and no parentheses.
func (m *Minter) proposeLabel(ctx context.Context, question, response string, candidates []CodeLabel) (string, bool) {
	system, user := buildMintPrompts(question, response, candidates, m.LabelLocale)
	reply, err := m.gateway.Send(ctx, system, user)
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			log.Printf("mint request failed question=%q err=%v", question, err)
		}
		return "", false
	}

	label := strings.TrimSpace(reply)
	if label == "" || strings.ContainsAny(label, "()") {
		log.Printf("mint rejected label=%q question=%q", label, question)
		return "", false
	}
	return label, true
}

func buildMintPrompts(question, response string, candidates []CodeLabel, locale string) (string, string) {
	var labels []string
	for _, cl := range candidates {
		labels = append(labels, cl.Label)
	}

	systemPrompt := fmt.Sprintf(`You are an expert in coding survey responses.
Your task is to either reuse an existing label or create a new one that can be reused for similar responses.

VERY IMPORTANT:
New labels must be written in %s with perfect spelling.
ALWAYS check existing labels first and reuse them if they match conceptually, so that no duplicate label is created under a different spelling.
If the answer names a television show, series or movie, verify that it actually exists and write its name correctly, since the response may contain spelling errors.

Rules for label creation/selection:
1. ALWAYS check existing labels first and reuse them if they match conceptually. Do not use codes 66, 77, 777, 88, 888, 99, 999.
2. Labels must be short (4-6 words maximum).
3. Use general categories that can be applied to multiple responses.
4. Standardize similar concepts under a single label.
5. Return only the label, no explanations and no parentheses.
6. Do not create an "Other" label.`, locale)

	userPrompt := fmt.Sprintf(`Question: %s
Response to code: %s

Current available labels: %s

Instructions:
1. The label must have excellent spelling.
2. Check if the response matches ANY existing label conceptually.
3. If yes, return that label.
4. If no, create a new general label that can be reused.
5. Return only the label text, no explanations.`,
		question, response, strings.Join(labels, ", "))

	return systemPrompt, userPrompt
}
