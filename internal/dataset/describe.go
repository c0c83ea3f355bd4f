package dataset

import (
	"math"
	"sort"
	"strconv"
)

// Summary is a describe-style statistics table: one column per dataset
// column, one row per statistic.
type Summary struct {
	Columns []string     `json:"columns" yaml:"columns"`
	Rows    []SummaryRow `json:"rows" yaml:"rows"`
}

// SummaryRow holds one statistic formatted for every column.
type SummaryRow struct {
	Stat  string   `json:"stat" yaml:"stat"`
	Cells []string `json:"cells" yaml:"cells"`
}

// NumericStats are the describe statistics of one numeric column.
type NumericStats struct {
	Count float64
	Mean  float64
	Std   float64
	Min   float64
	Q25   float64
	Q50   float64
	Q75   float64
	Max   float64
}

// Describe summarizes numeric columns (count, mean, std, min, quartiles,
// max). A table without numeric columns is summarized by count, unique, top
// and freq over its object columns instead.
func Describe(t *Table) *Summary {
	numeric := t.NumericColumns()
	if len(numeric) == 0 {
		return describeObjects(t)
	}

	labels := []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
	s := &Summary{Rows: make([]SummaryRow, len(labels))}
	for i, l := range labels {
		s.Rows[i].Stat = l
	}
	for _, idx := range numeric {
		col := &t.Columns[idx]
		st := ColumnStats(col, t.NumRows())
		s.Columns = append(s.Columns, col.Name)
		vals := []float64{st.Count, st.Mean, st.Std, st.Min, st.Q25, st.Q50, st.Q75, st.Max}
		for i, v := range vals {
			s.Rows[i].Cells = append(s.Rows[i].Cells, formatStat(v))
		}
	}
	return s
}

// ColumnStats computes describe statistics over the non-missing values of col.
func ColumnStats(col *Column, rows int) NumericStats {
	vals := make([]float64, 0, rows)
	for i := 0; i < rows; i++ {
		if v, ok := col.Float(i); ok {
			vals = append(vals, v)
		}
	}
	st := NumericStats{Count: float64(len(vals))}
	nan := math.NaN()
	if len(vals) == 0 {
		st.Mean, st.Std, st.Min, st.Q25, st.Q50, st.Q75, st.Max = nan, nan, nan, nan, nan, nan, nan
		return st
	}

	// Welford
	var mean, m2 float64
	for i, x := range vals {
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
	}
	st.Mean = mean
	st.Std = nan
	if len(vals) > 1 {
		st.Std = math.Sqrt(m2 / float64(len(vals)-1))
	}

	sort.Float64s(vals)
	st.Min = vals[0]
	st.Max = vals[len(vals)-1]
	st.Q25 = quantile(vals, 0.25)
	st.Q50 = quantile(vals, 0.5)
	st.Q75 = quantile(vals, 0.75)
	return st
}

// quantile uses linear interpolation between closest ranks on sorted input.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func describeObjects(t *Table) *Summary {
	labels := []string{"count", "unique", "top", "freq"}
	s := &Summary{Rows: make([]SummaryRow, len(labels))}
	for i, l := range labels {
		s.Rows[i].Stat = l
	}
	for ci := range t.Columns {
		col := &t.Columns[ci]
		counts := make(map[string]int)
		count := 0
		for i := 0; i < t.NumRows(); i++ {
			if col.Missing(i) {
				continue
			}
			count++
			counts[col.Values[i]]++
		}
		top, freq := "NaN", 0
		for v, n := range counts {
			if n > freq || (n == freq && v < top) {
				top, freq = v, n
			}
		}
		s.Columns = append(s.Columns, col.Name)
		cells := []string{strconv.Itoa(count), strconv.Itoa(len(counts)), top, strconv.Itoa(freq)}
		if count == 0 {
			cells[3] = "NaN"
		}
		for i, c := range cells {
			s.Rows[i].Cells = append(s.Rows[i].Cells, c)
		}
	}
	return s
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
