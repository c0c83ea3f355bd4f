package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyDataset is returned when the input has no header row.
var ErrEmptyDataset = errors.New("dataset has no header row")

// Kind is the inferred storage type of a column, named after the dtype the
// model sees in the prompt.
type Kind string

const (
	KindInt    Kind = "int64"
	KindFloat  Kind = "float64"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
)

// Numeric reports whether the kind takes part in statistics and correlation.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// Column is one named, typed column of raw cell values.
type Column struct {
	Name   string
	Kind   Kind
	Values []string

	// parsed values for numeric kinds; NaN marks a missing cell
	numbers []float64
}

// Float returns the parsed value of row i; ok is false for missing cells
// and non-numeric columns.
func (c *Column) Float(i int) (float64, bool) {
	if c.numbers == nil || i < 0 || i >= len(c.numbers) {
		return 0, false
	}
	v := c.numbers[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Missing reports whether row i holds a missing value marker.
func (c *Column) Missing(i int) bool {
	if i < 0 || i >= len(c.Values) {
		return true
	}
	return isMissing(c.Values[i])
}

// Table is an immutable in-memory dataset.
type Table struct {
	Name    string
	Columns []Column
	rows    int
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnNames returns the ordered column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Kinds returns the inferred kind of every column, in column order.
func (t *Table) Kinds() []Kind {
	kinds := make([]Kind, len(t.Columns))
	for i, c := range t.Columns {
		kinds[i] = c.Kind
	}
	return kinds
}

// Row returns a copy of the raw cells of row i.
func (t *Table) Row(i int) []string {
	row := make([]string, len(t.Columns))
	for j := range t.Columns {
		row[j] = t.Columns[j].Values[i]
	}
	return row
}

// Head returns up to n leading rows.
func (t *Table) Head(n int) [][]string {
	if n > t.rows {
		n = t.rows
	}
	if n < 0 {
		n = 0
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = t.Row(i)
	}
	return out
}

// NumericColumns returns the indexes of int64 and float64 columns.
func (t *Table) NumericColumns() []int {
	var idx []int
	for i, c := range t.Columns {
		if c.Kind.Numeric() {
			idx = append(idx, i)
		}
	}
	return idx
}

// ReadCSV parses a CSV stream with a header row into a Table.
// Short rows are padded with missing cells; rows longer than the header fail.
func ReadCSV(r io.Reader, name string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDataset
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	names := uniqueNames(header)
	ncol := len(names)

	columns := make([]Column, ncol)
	for i, n := range names {
		columns[i] = Column{Name: n}
	}
	rows := 0
	for {
		rec, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		if len(rec) > ncol {
			line, _ := reader.FieldPos(0)
			return nil, &csv.ParseError{StartLine: line, Line: line, Err: fmt.Errorf("expected %d fields, saw %d", ncol, len(rec))}
		}
		for j := 0; j < ncol; j++ {
			v := ""
			if j < len(rec) {
				v = strings.TrimSpace(rec[j])
			}
			columns[j].Values = append(columns[j].Values, v)
		}
		rows++
	}

	for i := range columns {
		inferColumn(&columns[i], rows)
	}
	return &Table{Name: name, Columns: columns, rows: rows}, nil
}

// uniqueNames fills blank headers and de-duplicates repeated ones as
// "name", "name.1", "name.2".
func uniqueNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	dups := make(map[string]int)
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for used[name] {
			dups[h]++
			name = fmt.Sprintf("%s.%d", h, dups[h])
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func inferColumn(c *Column, rows int) {
	if rows == 0 {
		c.Kind = KindObject
		return
	}
	allInt, allFloat, allBool := true, true, true
	missing := 0
	for _, v := range c.Values {
		if isMissing(v) {
			missing++
			continue
		}
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if allBool && !isBool(v) {
			allBool = false
		}
	}

	switch {
	case missing == rows:
		c.Kind = KindFloat
	case allInt && missing == 0:
		c.Kind = KindInt
	case allFloat:
		c.Kind = KindFloat
	case allBool && missing == 0:
		c.Kind = KindBool
	default:
		c.Kind = KindObject
	}

	if !c.Kind.Numeric() {
		return
	}
	c.numbers = make([]float64, rows)
	for i, v := range c.Values {
		if isMissing(v) {
			c.numbers[i] = math.NaN()
			continue
		}
		x, _ := strconv.ParseFloat(v, 64)
		c.numbers[i] = x
	}
}

var missingMarkers = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "#N/A": {}, "<NA>": {},
}

func isMissing(v string) bool {
	_, ok := missingMarkers[v]
	return ok
}

func isBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	}
	return false
}
