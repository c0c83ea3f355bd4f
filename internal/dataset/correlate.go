package dataset

import (
	"math"
	"strconv"
)

// CorrMatrix holds a symmetric Pearson correlation matrix across numeric columns.
type CorrMatrix struct {
	Columns []string    `json:"columns" yaml:"columns"`
	Values  [][]float64 `json:"-" yaml:"-"` // row-major, Values[i][j]; NaN when undefined
}

// Correlate computes pairwise Pearson correlations over the numeric columns
// of t, using rows where both values are present. It returns nil when t has
// no numeric columns.
func Correlate(t *Table) *CorrMatrix {
	numeric := t.NumericColumns()
	if len(numeric) == 0 {
		return nil
	}
	n := len(numeric)
	m := &CorrMatrix{Columns: make([]string, n), Values: make([][]float64, n)}
	for i, idx := range numeric {
		m.Columns[i] = t.Columns[idx].Name
		m.Values[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			r := pearson(&t.Columns[numeric[i]], &t.Columns[numeric[j]], t.NumRows())
			if i == j && !math.IsNaN(r) {
				r = 1
			}
			m.Values[i][j] = r
			m.Values[j][i] = r
		}
	}
	return m
}

// At returns the correlation between the named columns.
func (m *CorrMatrix) At(a, b string) (float64, bool) {
	ia, ib := -1, -1
	for i, c := range m.Columns {
		if c == a {
			ia = i
		}
		if c == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return 0, false
	}
	return m.Values[ia][ib], true
}

// Formatted renders every value with two decimals, "nan" when undefined.
func (m *CorrMatrix) Formatted() [][]string {
	out := make([][]string, len(m.Values))
	for i, row := range m.Values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = FormatCorr(v)
		}
	}
	return out
}

// FormatCorr formats a correlation coefficient for display.
func FormatCorr(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func pearson(a, b *Column, rows int) float64 {
	var xs, ys []float64
	for i := 0; i < rows; i++ {
		x, okx := a.Float(i)
		y, oky := b.Float(i)
		if okx && oky {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(len(xs))
	my /= float64(len(ys))
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	denom := math.Sqrt(sxx * syy)
	if denom == 0 {
		return math.NaN()
	}
	r := sxy / denom
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r
}
