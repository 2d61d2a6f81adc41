package frame

import (
	"errors"
	"fmt"
)

// ErrMissingColumn is returned when a caller references a column the table does not have.
var ErrMissingColumn = errors.New("missing column")

// Frame is an in-memory table of string cells with a named header.
// A Frame is treated as read-only once built; every transformation returns a new Frame.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// New builds a Frame. Rows shorter than the header are padded with empty cells;
// cells past the header width are not kept, so readers reject such rows first.
func New(columns []string, rows [][]string) *Frame {
	f := &Frame{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
		rows:    make([][]string, len(rows)),
	}
	for i, c := range f.columns {
		if _, dup := f.index[c]; !dup {
			f.index[c] = i
		}
	}
	for i, r := range rows {
		row := make([]string, len(columns))
		copy(row, r)
		f.rows[i] = row
	}
	return f
}

func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

func (f *Frame) Len() int {
	return len(f.rows)
}

func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the position of name in the header.
func (f *Frame) Column(name string) (int, error) {
	i, ok := f.index[name]
	if !ok {
		return 0, fmt.Errorf("%w %q (have %v)", ErrMissingColumn, name, f.columns)
	}
	return i, nil
}

// Require checks that every named column exists and returns their positions in order.
func (f *Frame) Require(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		c, err := f.Column(n)
		if err != nil {
			return nil, err
		}
		idx[i] = c
	}
	return idx, nil
}

// Cell returns the value at row r, column c.
func (f *Frame) Cell(r, c int) string {
	return f.rows[r][c]
}

// Values returns a copy of one column.
func (f *Frame) Values(name string) ([]string, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(f.rows))
	for i, row := range f.rows {
		out[i] = row[c]
	}
	return out, nil
}

// Row returns a copy of row r.
func (f *Frame) Row(r int) []string {
	return append([]string(nil), f.rows[r]...)
}

// WithColumn returns a new Frame with values set as column name, replacing it if present.
func (f *Frame) WithColumn(name string, values []string) (*Frame, error) {
	if len(values) != len(f.rows) {
		return nil, fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), len(f.rows))
	}

	columns := f.Columns()
	c, ok := f.index[name]
	if !ok {
		columns = append(columns, name)
		c = len(columns) - 1
	}

	rows := make([][]string, len(f.rows))
	for i, r := range f.rows {
		row := make([]string, len(columns))
		copy(row, r)
		row[c] = values[i]
		rows[i] = row
	}
	return New(columns, rows), nil
}

// Concat stacks frames row-wise. The result header is the union of all headers in
// first-seen order; cells for columns a part lacks are left empty.
func Concat(parts ...*Frame) *Frame {
	var columns []string
	seen := make(map[string]bool)
	total := 0
	for _, p := range parts {
		for _, c := range p.columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
		total += len(p.rows)
	}

	rows := make([][]string, 0, total)
	for _, p := range parts {
		for _, r := range p.rows {
			row := make([]string, len(columns))
			for j, c := range columns {
				if k, ok := p.index[c]; ok {
					row[j] = r[k]
				}
			}
			rows = append(rows, row)
		}
	}
	return New(columns, rows)
}
