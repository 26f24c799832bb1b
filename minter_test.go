package main

import (
	"context"
	"testing"
)

func TestMintReusesExactNormalizedMatchWithoutModelCall(t *testing.T) {
	c := &scriptedCompleter{}
	m := NewMinter(NewGateway(c, fastPolicy(1), nil), "es")
	cb := indexedCodebook(t, "2")

	code, minted, ok := m.Mint(context.Background(), cb, "¿Qué programas ve?", "  Deportes! ", cb.Codes("¿Qué programas ve?"))
	if !ok || minted {
		t.Fatalf("expected reuse, got ok=%v minted=%v", ok, minted)
	}
	if code != "01" {
		t.Fatalf("reused code = %q, want 01", code)
	}
	if c.calls != 0 {
		t.Fatalf("exact match must not call the model, got %d calls", c.calls)
	}
}

func TestMintCreatesNewLabel(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "Telenovelas"}}}
	m := NewMinter(NewGateway(c, fastPolicy(1), nil), "es")

	var audited []string
	m.MintAudit = func(question, label, code string) {
		audited = append(audited, question, label, code)
	}

	cb := indexedCodebook(t, "2")
	code, minted, ok := m.Mint(context.Background(), cb, "¿Qué programas ve?", "la rosa de guadalupe", cb.Codes("¿Qué programas ve?"))
	if !ok || !minted {
		t.Fatalf("expected a minted label, got ok=%v minted=%v", ok, minted)
	}
	if code != "03" {
		t.Fatalf("minted code = %q, want 03", code)
	}
	if len(audited) != 3 || audited[1] != "Telenovelas" || audited[2] != "03" {
		t.Fatalf("unexpected audit record: %v", audited)
	}
}

func TestMintRejectsParenthesizedLabel(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "Telenovelas (mexicanas)"}}}
	m := NewMinter(NewGateway(c, fastPolicy(1), nil), "es")
	cb := indexedCodebook(t, "2")

	if _, _, ok := m.Mint(context.Background(), cb, "¿Qué programas ve?", "novelas", cb.Codes("¿Qué programas ve?")); ok {
		t.Fatal("parenthesized label must be rejected")
	}
}

func TestMintReusesLabelReturnedWithDifferentCasing(t *testing.T) {
	// The model answers with an existing label in different casing; the
	// minter must reuse its code instead of creating a duplicate.
	c := &scriptedCompleter{script: []completion{{text: "NOTICIAS "}}}
	m := NewMinter(NewGateway(c, fastPolicy(1), nil), "es")
	cb := indexedCodebook(t, "2")

	rows := len(cb.Rows)
	code, minted, ok := m.Mint(context.Background(), cb, "¿Qué programas ve?", "el noticiero de la noche", nil)
	if !ok || minted {
		t.Fatalf("expected reuse, got ok=%v minted=%v", ok, minted)
	}
	if code != "02" {
		t.Fatalf("reused code = %q, want 02", code)
	}
	if len(cb.Rows) != rows {
		t.Fatal("reuse must not append a codebook row")
	}
}

func TestMintRejectsNearDuplicateLabel(t *testing.T) {
	// "Noticias!" is not a verbatim label but normalizes to the existing
	// "Noticias"; minting it would split one concept across two codes.
	c := &scriptedCompleter{script: []completion{{text: "Noticias!"}}}
	m := NewMinter(NewGateway(c, fastPolicy(1), nil), "es")
	cb := indexedCodebook(t, "2")

	if _, _, ok := m.Mint(context.Background(), cb, "¿Qué programas ve?", "el noticiero", nil); ok {
		t.Fatal("near-duplicate label must be rejected")
	}
}

func TestMintGatewayFailure(t *testing.T) {
	c := &scriptedCompleter{}
	m := NewMinter(NewGateway(c, fastPolicy(1), nil), "es")
	cb := indexedCodebook(t, "2")

	if _, _, ok := m.Mint(context.Background(), cb, "¿Qué programas ve?", "algo", nil); ok {
		t.Fatal("gateway failure must not mint")
	}
}
