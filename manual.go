package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadManualMappings reads an operator-supplied coding map from YAML:
// column name -> response text -> code. Missing file is not an error.
func LoadManualMappings(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manual mappings: %w", err)
	}
	var out map[string]map[string]string
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse manual mappings yaml: %w", err)
	}
	return out, nil
}

// applyManualCoding fills uncoded cells from the manual map before any model
// call. Matching is done on normalized response text and a non-empty code
// cell is never overwritten. Returns the number of cells assigned.
func applyManualCoding(responses *Table, mappings map[string]map[string]string, rs *runState) int {
	applied := 0
	for col, byResponse := range mappings {
		if !responses.HasColumn(col) {
			continue
		}
		codeCol := codeColumnFor(col)
		responses.EnsureColumn(codeCol)

		normalized := make(map[string]string, len(byResponse))
		for text, code := range byResponse {
			normalized[normalizeText(text)] = code
		}

		for i := range responses.Rows {
			if strings.TrimSpace(responses.Get(i, codeCol)) != "" {
				continue
			}
			value := normalizeText(responses.Get(i, col))
			if value == "" {
				continue
			}
			code, ok := normalized[value]
			if !ok {
				continue
			}
			responses.Set(i, codeCol, formatCode(code))
			rs.markModified(i, codeCol)
			applied++
		}
	}
	if applied > 0 {
		log.Printf("manual coding applied cells=%d", applied)
	}
	return applied
}
