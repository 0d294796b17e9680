package record

import (
	"fmt"
	"sort"
	"strings"
)

// Type is a declared target type for a column in a Column Type Map.
type Type string

const (
	TypeTimestamp Type = "timestamp"
	TypeInteger   Type = "integer"
	TypeFloat     Type = "float"
)

// ParseType maps the spellings accepted in configuration files onto a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timestamp", "datetime", "date", "time":
		return TypeTimestamp, nil
	case "int", "integer", "bigint":
		return TypeInteger, nil
	case "float", "double", "real", "decimal", "numeric":
		return TypeFloat, nil
	default:
		return "", fmt.Errorf("record: unknown column type %q", s)
	}
}

// Row is a positional slice of cells aligned to Set.Columns.
type Row []Value

// Set is an in-memory table: ordered column names and positional rows.
// Cells are addressed by row index and column name.
type Set struct {
	Columns []string
	Rows    []Row

	index map[string]int
}

// NewSet returns an empty set with the given column order. Duplicate column
// names keep their first position for lookups.
func NewSet(columns ...string) *Set {
	s := &Set{Columns: append([]string(nil), columns...)}
	s.reindex()
	return s
}

func (s *Set) reindex() {
	s.index = make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		if _, dup := s.index[c]; !dup {
			s.index[c] = i
		}
	}
}

// Len returns the number of rows.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// ColumnIndex returns the position of column name.
func (s *Set) ColumnIndex(name string) (int, bool) {
	if s.index == nil {
		s.reindex()
	}
	i, ok := s.index[name]
	return i, ok
}

// HasColumn reports whether name is one of the set's columns.
func (s *Set) HasColumn(name string) bool {
	_, ok := s.ColumnIndex(name)
	return ok
}

// AddColumn appends a column (if not already present) and pads every
// existing row with Absent. It returns the column's index.
func (s *Set) AddColumn(name string) int {
	if i, ok := s.ColumnIndex(name); ok {
		return i
	}
	s.Columns = append(s.Columns, name)
	i := len(s.Columns) - 1
	s.index[name] = i
	for r := range s.Rows {
		s.Rows[r] = append(s.Rows[r], Absent())
	}
	return i
}

// Append adds a row. Short rows are padded with Absent; long rows are an error.
func (s *Set) Append(vals ...Value) error {
	if len(vals) > len(s.Columns) {
		return fmt.Errorf("record: row has %d values, set has %d columns", len(vals), len(s.Columns))
	}
	row := make(Row, len(s.Columns))
	copy(row, vals)
	s.Rows = append(s.Rows, row)
	return nil
}

// AppendMap adds a row from a column->value map. Unseen columns are added in
// sorted order; callers that care about column order should register keys
// through AddColumn first.
func (s *Set) AppendMap(m map[string]any) {
	var unseen []string
	for k := range m {
		if !s.HasColumn(k) {
			unseen = append(unseen, k)
		}
	}
	sort.Strings(unseen)
	for _, k := range unseen {
		s.AddColumn(k)
	}
	row := make(Row, len(s.Columns))
	for k, v := range m {
		i, _ := s.ColumnIndex(k)
		row[i] = FromAny(v)
	}
	s.Rows = append(s.Rows, row)
}

// Get returns the cell at (row, column). Unknown columns read as Absent.
func (s *Set) Get(row int, column string) Value {
	i, ok := s.ColumnIndex(column)
	if !ok {
		return Absent()
	}
	return s.Rows[row][i]
}

// Put stores v at (row, column). It returns false for unknown columns.
func (s *Set) Put(row int, column string, v Value) bool {
	i, ok := s.ColumnIndex(column)
	if !ok {
		return false
	}
	s.Rows[row][i] = v
	return true
}

// Values returns the rows as [][]any in column order, suitable for bulk
// copy APIs.
func (s *Set) Values() [][]any {
	out := make([][]any, len(s.Rows))
	for r, row := range s.Rows {
		vals := make([]any, len(row))
		for c, v := range row {
			vals[c] = v.Any()
		}
		out[r] = vals
	}
	return out
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	c := NewSet(s.Columns...)
	c.Rows = make([]Row, len(s.Rows))
	for i, r := range s.Rows {
		c.Rows[i] = append(Row(nil), r...)
	}
	return c
}
