package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManualMappings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manual.yaml")
	content := "\"2\":\n  \"Deportes\": \"1\"\n  \"Noticias\": \"2\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := LoadManualMappings(path)
	if err != nil {
		t.Fatalf("LoadManualMappings failed: %v", err)
	}
	if got["2"]["Deportes"] != "1" {
		t.Fatalf("unexpected mapping: %v", got)
	}

	// Missing file is not an error.
	got, err = LoadManualMappings(filepath.Join(dir, "absent.yaml"))
	if err != nil || got != nil {
		t.Fatalf("missing file should yield nil, nil; got %v, %v", got, err)
	}
}

func TestApplyManualCodingNeverOverwrites(t *testing.T) {
	responses := NewTable([]string{"2", "C2"})
	responses.AppendRow([]string{"Deportes", "05"})
	responses.AppendRow([]string{"deportes!", ""})
	responses.AppendRow([]string{"otra cosa", ""})

	rs := &runState{modified: make(map[CellRef]bool)}
	applied := applyManualCoding(responses, map[string]map[string]string{
		"2": {"Deportes": "1"},
	}, rs)

	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	if responses.Get(0, "C2") != "05" {
		t.Fatalf("pre-coded cell overwritten: %q", responses.Get(0, "C2"))
	}
	// Matching is on normalized text, so punctuation and casing differences
	// still match.
	if responses.Get(1, "C2") != "01" {
		t.Fatalf("normalized match not applied: %q", responses.Get(1, "C2"))
	}
	if responses.Get(2, "C2") != "" {
		t.Fatalf("unmapped response must stay empty, got %q", responses.Get(2, "C2"))
	}
	if !rs.modified[CellRef{Row: 1, Column: "C2"}] {
		t.Fatal("applied cell missing from modified set")
	}
}

func TestApplyManualCodingUnknownColumn(t *testing.T) {
	responses := NewTable([]string{"2"})
	responses.AppendRow([]string{"x"})

	rs := &runState{modified: make(map[CellRef]bool)}
	if applied := applyManualCoding(responses, map[string]map[string]string{"9": {"x": "1"}}, rs); applied != 0 {
		t.Fatalf("unknown column must apply nothing, got %d", applied)
	}
}
