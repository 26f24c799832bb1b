package main

import (
	"path/filepath"
	"testing"
)

func TestCheckpointerSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	c := NewCheckpointer(dir, "Codificación")

	var published []string
	c.Published = func(responsesPath, codesPath string) {
		published = append(published, responsesPath, codesPath)
	}

	responses := NewTable([]string{"2", "C2"})
	responses.AppendRow([]string{"deportes", "01"})
	cb, _ := NewCodebookFromTable(testCodebookTable())

	if err := c.Save(responses, cb); err != nil {
		t.Fatalf("checkpoint save failed: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected latest artifacts to be published, got %v", published)
	}

	// Originals are ignored once a working checkpoint exists.
	gotResponses, gotCodes, resumed, err := c.Load("missing.xlsx", "missing.xlsx")
	if err != nil {
		t.Fatalf("checkpoint load failed: %v", err)
	}
	if !resumed {
		t.Fatal("expected a resumed run")
	}
	if gotResponses.Get(0, "C2") != "01" {
		t.Fatalf("restored assignment = %q", gotResponses.Get(0, "C2"))
	}
	if len(gotCodes.Rows) != len(cb.Rows) {
		t.Fatalf("restored codebook rows = %d, want %d", len(gotCodes.Rows), len(cb.Rows))
	}
}

func TestCheckpointerLoadFallsBackToOriginals(t *testing.T) {
	dir := t.TempDir()
	c := NewCheckpointer(dir, "Codificación")

	responses := NewTable([]string{"2"})
	responses.AppendRow([]string{"deportes"})
	responsesPath := filepath.Join(dir, "orig_responses.xlsx")
	if err := SaveSheet(responses, responsesPath, ""); err != nil {
		t.Fatalf("save originals: %v", err)
	}
	codesPath := filepath.Join(dir, "orig_codes.xlsx")
	if err := SaveSheet(testCodebookTable(), codesPath, "Codificación"); err != nil {
		t.Fatalf("save originals: %v", err)
	}

	got, _, resumed, err := c.Load(responsesPath, codesPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if resumed {
		t.Fatal("no checkpoint present, run must not report resumed")
	}
	if got.Get(0, "2") != "deportes" {
		t.Fatalf("unexpected loaded value: %q", got.Get(0, "2"))
	}
}

func TestCheckpointerClear(t *testing.T) {
	dir := t.TempDir()
	c := NewCheckpointer(dir, "Codificación")

	responses := NewTable([]string{"2"})
	responses.AppendRow([]string{"x"})
	cb, _ := NewCodebookFromTable(testCodebookTable())
	if err := c.Save(responses, cb); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	c.Clear()

	if fileExists(filepath.Join(dir, workingResponsesFile)) || fileExists(filepath.Join(dir, workingCodesFile)) {
		t.Fatal("working checkpoint files must be removed")
	}
	// Latest artifacts survive a clear; they are the downloadable copies.
	if !fileExists(filepath.Join(dir, latestResponsesFile)) {
		t.Fatal("latest artifacts must survive a clear")
	}
}

func TestAllRowsCoded(t *testing.T) {
	responses := NewTable([]string{"2", "C2"})
	responses.AppendRow([]string{"deportes", "01"})
	responses.AppendRow([]string{"deportes", ""})

	if allRowsCoded(responses, "C2", []int{0, 1}) {
		t.Fatal("a row with an empty code cell is not fully coded")
	}
	if !allRowsCoded(responses, "C2", []int{0}) {
		t.Fatal("row 0 is coded")
	}
	if allRowsCoded(responses, "C2", nil) {
		t.Fatal("no rows means not coded")
	}
}
