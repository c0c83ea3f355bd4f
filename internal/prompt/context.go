package prompt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"datachat/internal/dataset"
)

// Options bounds how much of the table is serialized.
type Options struct {
	// SampleRows is the number of leading rows shown; 0 means DefaultSampleRows.
	SampleRows int
	// MaxColumns caps the columns described; 0 means no cap.
	MaxColumns int
}

const (
	DefaultSampleRows = 5
	DefaultMaxColumns = 64
)

// DefaultOptions returns the prompt caps used by the service.
func DefaultOptions() Options {
	return Options{SampleRows: DefaultSampleRows, MaxColumns: DefaultMaxColumns}
}

// BuildContext serializes column names, shape, leading rows and column types
// of t into the fixed-format overview sent to the model. The output depends
// only on t and opt.
func BuildContext(t *dataset.Table, opt Options) string {
	sampleRows := opt.SampleRows
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	ncols := t.NumCols()
	if opt.MaxColumns > 0 && ncols > opt.MaxColumns {
		ncols = opt.MaxColumns
	}
	omitted := t.NumCols() - ncols

	names := t.ColumnNames()[:ncols]
	kinds := t.Kinds()[:ncols]

	var b strings.Builder
	b.WriteString("Dataset Overview:\n")
	fmt.Fprintf(&b, "- Columns: %s\n", pyList(names))
	fmt.Fprintf(&b, "- Shape: (%d, %d)\n", t.NumRows(), t.NumCols())
	if omitted > 0 {
		fmt.Fprintf(&b, "- Omitted Columns: %d\n", omitted)
	}
	b.WriteString("- Sample Data:\n")
	b.WriteString(renderHead(t, names, sampleRows))
	b.WriteString("\n- Data Types:\n")
	b.WriteString(renderTypes(names, kinds))
	b.WriteString("\n")
	return b.String()
}

// BuildPrompt wraps the dataset context and the user question in the
// analyst instructions.
func BuildPrompt(context, question string) string {
	return fmt.Sprintf(`You are a data analyst. Give this dataset:

%s

User question: %s

Provide a clear answer with insights. If calculations are needed, show them.`, context, question)
}

func renderHead(t *dataset.Table, names []string, n int) string {
	if t.NumRows() == 0 {
		return fmt.Sprintf("Empty DataFrame\nColumns: [%s]\nIndex: []", strings.Join(names, ", "))
	}
	head := t.Head(n)
	ncols := len(names)

	index := make([]string, len(head))
	indexWidth := 0
	for i := range head {
		index[i] = strconv.Itoa(i)
		indexWidth = max(indexWidth, width(index[i]))
	}
	widths := make([]int, ncols)
	cells := make([][]string, len(head))
	for i, row := range head {
		cells[i] = make([]string, ncols)
		for j := 0; j < ncols; j++ {
			v := row[j]
			if t.Columns[j].Missing(i) {
				v = "NaN"
			}
			cells[i][j] = v
		}
	}
	for j := 0; j < ncols; j++ {
		if col := t.Columns[j]; col.Kind == dataset.KindFloat {
			for i, v := range formatFloats(&col, len(head)) {
				cells[i][j] = v
			}
		}
	}
	for j, name := range names {
		widths[j] = width(name)
		for i := range cells {
			widths[j] = max(widths[j], width(cells[i][j]))
		}
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", indexWidth))
	for j, name := range names {
		b.WriteString("  ")
		b.WriteString(padLeft(name, widths[j]))
	}
	for i := range cells {
		b.WriteString("\n")
		b.WriteString(padRight(index[i], indexWidth))
		for j := range names {
			b.WriteString("  ")
			b.WriteString(padLeft(cells[i][j], widths[j]))
		}
	}
	return b.String()
}

// formatFloats renders the first n values of a float column with six
// decimals, then strips trailing zeros from all finite values together while
// each still ends in zero, keeping at least one decimal.
func formatFloats(col *dataset.Column, n int) []string {
	out := make([]string, n)
	var finite []int
	for i := 0; i < n; i++ {
		v, ok := col.Float(i)
		switch {
		case !ok || math.IsNaN(v):
			out[i] = "NaN"
		case math.IsInf(v, 1):
			out[i] = "inf"
		case math.IsInf(v, -1):
			out[i] = "-inf"
		default:
			out[i] = strconv.FormatFloat(v, 'f', 6, 64)
			finite = append(finite, i)
		}
	}
	if len(finite) == 0 {
		return out
	}
	for {
		for _, i := range finite {
			s := out[i]
			if !strings.HasSuffix(s, "0") || len(s)-strings.IndexByte(s, '.') <= 2 {
				return out
			}
		}
		for _, i := range finite {
			out[i] = out[i][:len(out[i])-1]
		}
	}
}

func renderTypes(names []string, kinds []dataset.Kind) string {
	nameWidth, kindWidth := 0, 0
	for i, n := range names {
		nameWidth = max(nameWidth, width(n))
		kindWidth = max(kindWidth, width(string(kinds[i])))
	}
	lines := make([]string, len(names))
	for i, n := range names {
		lines[i] = padRight(n, nameWidth) + "    " + padLeft(string(kinds[i]), kindWidth)
	}
	return strings.Join(lines, "\n")
}

// pyList renders names the way a Python list of strings prints.
func pyList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pyRepr(n)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func pyRepr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func width(s string) int {
	return utf8.RuneCountInString(s)
}

func padLeft(s string, w int) string {
	if n := w - width(s); n > 0 {
		return strings.Repeat(" ", n) + s
	}
	return s
}

func padRight(s string, w int) string {
	if n := w - width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
