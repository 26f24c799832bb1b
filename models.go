package main

// CodeLabel is one codebook entry for a question.
type CodeLabel struct {
	Code  string
	Label string
}

// CodebookRow mirrors one row of the codebook sheet. FieldID may carry
// several dash-separated field ids and QuestionName several slash-separated
// question names when one row spans multiple questions.
type CodebookRow struct {
	FieldID      string
	Code         string
	Label        string
	Grouping     string
	FormQuestion string
	QuestionName string
}

// ColumnConfig is the per-column coding configuration supplied by the caller.
type ColumnConfig struct {
	Name         string `yaml:"name"`
	MultiLabel   bool   `yaml:"multi_label"`
	MaxLabels    int    `yaml:"max_labels"`
	Context      string `yaml:"context"`
	MaxNewLabels int    `yaml:"max_new_labels"`
}

// CodingJob is the full configuration for one coding run.
type CodingJob struct {
	Columns []ColumnConfig `yaml:"columns"`
	// ManualMappings maps column name -> response text -> code, applied to
	// uncoded cells before any model call. Keys are matched after text
	// normalization.
	ManualMappings map[string]map[string]string `yaml:"manual_mappings"`
	// SkipFirstUncoded marks the next uncoded cell with the uncodeable
	// sentinel instead of classifying it. Consumed once per run.
	SkipFirstUncoded bool `yaml:"skip_first_uncoded"`
}

// CellRef identifies one cell of the responses table by row index and
// column name.
type CellRef struct {
	Row    int
	Column string
}

// ReviewResult summarizes one review pass.
type ReviewResult struct {
	OutputPath   string
	Corrections  int
	RowsReviewed int
}

// Table is an in-memory copy of one sheet: a header row plus data rows.
// Rows are ragged-safe: Get returns "" past the end of a short row.
type Table struct {
	Columns []string
	Rows    [][]string

	colIndex map[string]int
}

func NewTable(columns []string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.colIndex = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.colIndex[c] = i
	}
}

// ColIndex returns the index of a column, or -1 if absent.
func (t *Table) ColIndex(name string) int {
	if i, ok := t.colIndex[name]; ok {
		return i
	}
	return -1
}

func (t *Table) HasColumn(name string) bool { return t.ColIndex(name) >= 0 }

// EnsureColumn appends an empty column if it does not exist yet and returns
// its index.
func (t *Table) EnsureColumn(name string) int {
	if i := t.ColIndex(name); i >= 0 {
		return i
	}
	t.Columns = append(t.Columns, name)
	t.reindex()
	return len(t.Columns) - 1
}

func (t *Table) Get(row int, col string) string {
	i := t.ColIndex(col)
	if i < 0 || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

func (t *Table) Set(row int, col, value string) {
	i := t.EnsureColumn(col)
	for len(t.Rows[row]) <= i {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][i] = value
}

func (t *Table) AppendRow(values []string) {
	t.Rows = append(t.Rows, append([]string(nil), values...))
}
