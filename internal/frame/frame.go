// Package frame provides the row-oriented batch type shared by every store
// backend, the row-meta table, the planner, and user transform functions.
package frame

import "fmt"

// Frame is a small, row-major table. Columns holds the column names in
// order; PKColumns is the number of leading columns that together form the
// primary key. Every row in Rows has len(Columns) entries.
type Frame struct {
	Columns   []string
	PKColumns int
	Rows      [][]any
}

// New builds an empty Frame with the given columns and PK width.
func New(columns []string, pkColumns int) *Frame {
	return &Frame{Columns: columns, PKColumns: pkColumns}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// ColumnIndex returns the position of a column name, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// PK returns the primary-key tuple for row i as a comparable array-backed
// value suitable for use as a map key (via PKKey).
func (f *Frame) PK(i int) []any {
	return append([]any(nil), f.Rows[i][:f.PKColumns]...)
}

// PKKey returns a canonical string key for the PK tuple of row i, for use in
// maps and sets that need comparable keys.
func (f *Frame) PKKey(i int) string {
	return KeyString(f.PK(i))
}

// KeyString renders a tuple of PK values as a stable string key.
func KeyString(values []any) string {
	s := ""
	for i, v := range values {
		if i > 0 {
			s += "\x1f"
		}
		s += fmt.Sprintf("%T:%v", v, v)
	}
	return s
}

// AppendRow appends a row, validating its width.
func (f *Frame) AppendRow(row []any) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("frame: row has %d values, want %d", len(row), len(f.Columns))
	}
	f.Rows = append(f.Rows, row)
	return nil
}

// Concat returns a new Frame containing the rows of f followed by the rows
// of other. Both frames must share the same columns and PK width.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return &Frame{}, nil
	}
	out := New(frames[0].Columns, frames[0].PKColumns)
	for _, fr := range frames {
		if fr == nil || fr.Len() == 0 {
			continue
		}
		if len(fr.Columns) != len(out.Columns) {
			return nil, fmt.Errorf("frame: concat column mismatch: %v vs %v", fr.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, fr.Rows...)
	}
	return out, nil
}

// Select returns a new Frame containing only the rows at the given indices,
// preserving order.
func (f *Frame) Select(indices []int) *Frame {
	out := New(f.Columns, f.PKColumns)
	for _, i := range indices {
		out.Rows = append(out.Rows, f.Rows[i])
	}
	return out
}

// Project returns a new Frame containing only the named columns, in the
// given order. pkColumns of the result is the count of names that are
// themselves PK columns of f, assuming callers list PK columns first.
func (f *Frame) Project(names []string) (*Frame, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j := f.ColumnIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("frame: no such column %q", n)
		}
		idx[i] = j
	}
	out := New(names, 0)
	for _, row := range f.Rows {
		nr := make([]any, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.Rows = append(out.Rows, nr)
	}
	return out, nil
}
