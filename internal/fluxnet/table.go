package fluxnet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Table is a column-ordered tabular dataset with string cells.
// When Index is set it names the column rendered first on output.
type Table struct {
	Columns []string
	Rows    [][]string
	Index   string
}

// ReadCSV parses a CSV document whose first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{Columns: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	return slices.Index(t.Columns, name)
}

// RenameColumn renames from to to. The index follows the rename.
func (t *Table) RenameColumn(from, to string) error {
	i := t.ColumnIndex(from)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, from)
	}
	if from != to && t.ColumnIndex(to) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, to)
	}
	t.Columns[i] = to
	if t.Index == from {
		t.Index = to
	}
	return nil
}

// SetIndex promotes name to the row index: it becomes the first column.
// Row count and order are unchanged.
func (t *Table) SetIndex(name string) error {
	i := t.ColumnIndex(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d cells, header has %d", ErrRaggedRow, r+1, len(row), len(t.Columns))
		}
	}
	if i > 0 {
		t.Columns = moveToFront(t.Columns, i)
		for r, row := range t.Rows {
			t.Rows[r] = moveToFront(row, i)
		}
	}
	t.Index = name
	return nil
}

// WriteCSV writes the header and all rows.
func (t *Table) WriteCSV(w io.Writer) error {
	if len(t.Columns) == 0 {
		return ErrEmptyTable
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func moveToFront(s []string, i int) []string {
	out := make([]string, 0, len(s))
	out = append(out, s[i])
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}
