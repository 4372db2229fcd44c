package dataset

import "fmt"

// Row is one record of a table, keyed by column name
type Row map[string]string

// Table is an in-memory tabular dataset with a stable column order.
// Cohort tables, exposure tables and output panels all travel as Tables at
// the I/O boundary; the pipeline converts them to typed structs internally.
type Table struct {
	Columns []string
	Rows    []Row
}

// New creates an empty table with the given columns
func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// HasColumn reports whether the table carries the named column
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// RequireColumns fails when any of the named columns is missing
func (t *Table) RequireColumns(names ...string) error {
	for _, name := range names {
		if !t.HasColumn(name) {
			return fmt.Errorf("column %q not found (have %v)", name, t.Columns)
		}
	}
	return nil
}

// Append adds a row, registering any new columns at the end of the order
func (t *Table) Append(row Row) {
	for col := range row {
		if !t.HasColumn(col) {
			t.Columns = append(t.Columns, col)
		}
	}
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}
