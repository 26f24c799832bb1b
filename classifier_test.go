package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestClassifier(c Completer) *Classifier {
	gateway := NewGateway(c, fastPolicy(1), nil)
	return NewClassifier(gateway, NewMinter(gateway, "Latin American Spanish"))
}

func indexedCodebook(t *testing.T, columns ...string) *Codebook {
	t.Helper()
	cb, err := NewCodebookFromTable(testCodebookTable())
	if err != nil {
		t.Fatalf("NewCodebookFromTable failed: %v", err)
	}
	cb.BuildQuestionIndex(columns)
	return cb
}

func TestAssignReusesExistingCodes(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "01; 02"}}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Qué programas ve?",
		Response:  "Deportes y noticias",
		MaxLabels: 6,
	})
	if got != "01;02" {
		t.Fatalf("Assign = %q", got)
	}
	if c.calls != 1 {
		t.Fatalf("expected one model call, got %d", c.calls)
	}
	// The sentinel 77 row must not be offered as a candidate.
	if strings.Contains(c.users[0], "No codificable") {
		t.Fatal("sentinel label leaked into the candidate list")
	}
}

func TestAssignSingleResponseKeepsOneCode(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "02;01"}}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:       "¿Qué programas ve?",
		Response:       "noticias",
		SingleResponse: true,
		MaxLabels:      6,
	})
	if got != "02" {
		t.Fatalf("single-response assignment = %q, want one code", got)
	}
}

func TestAssignSingleResponseMarkerInQuestion(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "01;02"}}}
	gateway := NewGateway(c, fastPolicy(1), nil)
	cl := NewClassifier(gateway, NewMinter(gateway, "es"))

	table := NewTable([]string{colFieldID, colCode, colLabel, colGrouping, colFormQuestion, colQuestionName})
	table.AppendRow([]string{"C4", "01", "Sí", "", "4", "¿Le gusta? (respuesta única)"})
	table.AppendRow([]string{"C4", "02", "No", "", "", ""})
	cb, _ := NewCodebookFromTable(table)
	cb.BuildQuestionIndex([]string{"4"})

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Le gusta? (respuesta única)",
		Response:  "sí, claro",
		MaxLabels: 6,
	})
	if got != "01" {
		t.Fatalf("marker question must yield one code, got %q", got)
	}
}

func TestAssignMintsOnNewLabelSentinel(t *testing.T) {
	c := &scriptedCompleter{script: []completion{
		{text: NewLabelSentinel},
		{text: "Telenovelas"},
	}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	budget := &LabelBudget{Max: 5}
	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Qué programas ve?",
		Response:  "la rosa de guadalupe",
		MaxLabels: 6,
		Budget:    budget,
	})
	if got != "03" {
		t.Fatalf("expected freshly minted code 03, got %q", got)
	}
	if budget.Count != 1 {
		t.Fatalf("budget must count the minted label, got %d", budget.Count)
	}
	if _, ok := cb.FindLabelCode("¿Qué programas ve?", "Telenovelas"); !ok {
		t.Fatal("minted label missing from codebook")
	}
}

func TestAssignBudgetExhaustedFallsBackToUncodeable(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: NewLabelSentinel}}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Qué programas ve?",
		Response:  "algo rarísimo",
		MaxLabels: 6,
		Budget:    &LabelBudget{Count: 3, Max: 3},
	})
	if got != CodeUncodeable {
		t.Fatalf("exhausted budget must degrade to %s, got %q", CodeUncodeable, got)
	}
	if c.calls != 1 {
		t.Fatalf("no minting call may happen past the budget, got %d calls", c.calls)
	}
}

func TestAssignGatewayFailureDegradesToUncodeable(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{err: errors.New("service down")}}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Qué programas ve?",
		Response:  "deportes",
		MaxLabels: 6,
	})
	if got != CodeUncodeable {
		t.Fatalf("gateway failure must degrade to %s, got %q", CodeUncodeable, got)
	}
}

func TestAssignDropsSentinelMixedWithSubstantive(t *testing.T) {
	// A sloppy model reply combining 99 with a real code keeps only the
	// substantive code.
	c := &scriptedCompleter{script: []completion{{text: "99; 1"}}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Qué programas ve?",
		Response:  "deportes",
		MaxLabels: 6,
	})
	if got != "01" {
		t.Fatalf("Assign = %q, want the sentinel dropped", got)
	}
}

func TestAssignZeroPadsCodes(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "1;2"}}}
	cl := newTestClassifier(c)
	cb := indexedCodebook(t, "2")

	got := cl.Assign(context.Background(), cb, ClassifyRequest{
		Question:  "¿Qué programas ve?",
		Response:  "deportes y noticias",
		MaxLabels: 6,
	})
	for _, code := range strings.Split(got, ";") {
		if len(code) < 2 {
			t.Fatalf("code %q not zero-padded in %q", code, got)
		}
	}
}
