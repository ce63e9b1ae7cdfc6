package types

// Table is a set of string rows sharing one header.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewTable creates an empty table with the given header.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of name in the header, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds the rows of other to t, aligning cells by column name.
// Columns unknown to t are added to the end of its header in the order they are
// first seen; cells missing from either side are left empty.
func (t *Table) Append(other *Table) {
	if other == nil {
		return
	}

	mapping := make([]int, len(other.Columns))
	for i, name := range other.Columns {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			t.Columns = append(t.Columns, name)
			idx = len(t.Columns) - 1
		}
		mapping[i] = idx
	}

	// Widen existing rows to the new header
	for i, row := range t.Rows {
		if len(row) < len(t.Columns) {
			t.Rows[i] = append(row, make([]string, len(t.Columns)-len(row))...)
		}
	}

	for _, row := range other.Rows {
		out := make([]string, len(t.Columns))
		for i, cell := range row {
			if i < len(mapping) {
				out[mapping[i]] = cell
			}
		}
		t.Rows = append(t.Rows, out)
	}
}

// Records returns the header followed by every row, ready for a csv.Writer.
func (t *Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	records = append(records, t.Columns)
	for _, row := range t.Rows {
		if len(row) < len(t.Columns) {
			row = append(row, make([]string, len(t.Columns)-len(row))...)
		}
		records = append(records, row)
	}
	return records
}
