package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Working checkpoint file names inside a session directory. The working pair
// is overwritten after every column; the latest pair is the published copy
// offered for download mid-run.
const (
	workingResponsesFile = "responses_working.xlsx"
	workingCodesFile     = "codes_working.xlsx"
	latestResponsesFile  = "responses_latest.xlsx"
	latestCodesFile      = "codes_latest.xlsx"
)

// Checkpointer persists intermediate snapshots and restores them on resume.
// A resumed run treats the working checkpoint as authoritative input,
// overriding the original upload.
type Checkpointer struct {
	dir           string
	codebookSheet string

	// Published, when set, is told about every fresh latest-artifact pair.
	Published func(responsesPath, codesPath string)
}

func NewCheckpointer(dir, codebookSheet string) *Checkpointer {
	return &Checkpointer{dir: dir, codebookSheet: codebookSheet}
}

func (c *Checkpointer) workingPath(name string) string { return filepath.Join(c.dir, name) }

// Load returns the run's input tables: the working checkpoint when one
// exists, otherwise the original uploads. The second return reports whether
// this is a resumed run.
func (c *Checkpointer) Load(responsesPath, codesPath string) (*Table, *Table, bool, error) {
	wr := c.workingPath(workingResponsesFile)
	wc := c.workingPath(workingCodesFile)
	if fileExists(wr) && fileExists(wc) {
		responses, err := LoadSheet(wr, "")
		if err != nil {
			return nil, nil, false, fmt.Errorf("load working responses: %w", err)
		}
		codes, err := LoadSheet(wc, c.codebookSheet)
		if err != nil {
			return nil, nil, false, fmt.Errorf("load working codebook: %w", err)
		}
		log.Printf("resume from checkpoint dir=%s", c.dir)
		return responses, codes, true, nil
	}

	responses, err := LoadSheet(responsesPath, "")
	if err != nil {
		return nil, nil, false, fmt.Errorf("load responses: %w", err)
	}
	codes, err := LoadSheet(codesPath, c.codebookSheet)
	if err != nil {
		return nil, nil, false, fmt.Errorf("load codebook: %w", err)
	}
	return responses, codes, false, nil
}

// Save overwrites the working checkpoint with a full snapshot of both tables
// and republishes it as the latest downloadable artifact.
func (c *Checkpointer) Save(responses *Table, cb *Codebook) error {
	wr := c.workingPath(workingResponsesFile)
	wc := c.workingPath(workingCodesFile)
	if err := SaveSheet(responses, wr, ""); err != nil {
		return fmt.Errorf("checkpoint responses: %w", err)
	}
	if err := SaveSheet(cb.Table(), wc, c.codebookSheet); err != nil {
		return fmt.Errorf("checkpoint codebook: %w", err)
	}

	lr := c.workingPath(latestResponsesFile)
	lc := c.workingPath(latestCodesFile)
	if err := copyFile(wr, lr); err != nil {
		return fmt.Errorf("publish latest responses: %w", err)
	}
	if err := copyFile(wc, lc); err != nil {
		return fmt.Errorf("publish latest codebook: %w", err)
	}
	if c.Published != nil {
		c.Published(lr, lc)
	}
	log.Printf("checkpoint saved dir=%s rows=%d", c.dir, len(responses.Rows))
	return nil
}

// Clear removes the working checkpoint, typically once the final outputs
// supersede it.
func (c *Checkpointer) Clear() {
	for _, name := range []string{workingResponsesFile, workingCodesFile} {
		if err := os.Remove(c.workingPath(name)); err != nil && !os.IsNotExist(err) {
			log.Printf("checkpoint clear %s: %v", name, err)
		}
	}
}

// allRowsCoded reports whether every given row already carries a non-empty
// code. Such values are skipped on resume without a model call.
func allRowsCoded(t *Table, codeCol string, rows []int) bool {
	if len(rows) == 0 {
		return false
	}
	for _, r := range rows {
		if strings.TrimSpace(t.Get(r, codeCol)) == "" {
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
