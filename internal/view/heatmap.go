package view

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"datachat/internal/dataset"
)

// coolwarm anchors, matplotlib's diverging map at -1, 0 and +1
var (
	coolLow  = colorful.Color{R: 0.230, G: 0.299, B: 0.754}
	coolMid  = colorful.Color{R: 0.865, G: 0.865, B: 0.865}
	coolHigh = colorful.Color{R: 0.706, G: 0.016, B: 0.150}
)

const nanColor = "#ffffff"

// Coolwarm maps a correlation in [-1, 1] onto the coolwarm palette centered
// at zero and picks a readable text color.
func Coolwarm(v float64) (background, foreground string) {
	if math.IsNaN(v) {
		return nanColor, "#000000"
	}
	v = math.Max(-1, math.Min(1, v))
	var c colorful.Color
	if v < 0 {
		c = coolMid.BlendLab(coolLow, -v)
	} else {
		c = coolMid.BlendLab(coolHigh, v)
	}
	c = c.Clamped()
	_, _, l := c.Hsl()
	if l < 0.5 || math.Abs(v) > 0.6 {
		return c.Hex(), "#ffffff"
	}
	return c.Hex(), "#000000"
}

// NewCorrelationPanel builds the heatmap panel; a nil matrix yields the
// fallback text.
func NewCorrelationPanel(m *dataset.CorrMatrix) *CorrelationPanel {
	p := &CorrelationPanel{Heading: CorrelationHeading}
	if m == nil || len(m.Columns) == 0 {
		p.Message = NoNumericColumns
		return p
	}
	p.Columns = append([]string(nil), m.Columns...)
	p.Rows = make([]CorrRow, len(m.Columns))
	for i, name := range m.Columns {
		row := CorrRow{Name: name, Cells: make([]CorrCell, len(m.Columns))}
		for j := range m.Columns {
			v := m.Values[i][j]
			bg, fg := Coolwarm(v)
			row.Cells[j] = CorrCell{Text: dataset.FormatCorr(v), Value: v, Background: bg, Foreground: fg}
		}
		p.Rows[i] = row
	}
	return p
}

// NewSummaryTable adapts dataset.Describe output.
func NewSummaryTable(s *dataset.Summary) *SummaryTable {
	t := &SummaryTable{Heading: SummaryHeading, Columns: append([]string(nil), s.Columns...)}
	for _, r := range s.Rows {
		t.Rows = append(t.Rows, SummaryRow{Stat: r.Stat, Cells: append([]string(nil), r.Cells...)})
	}
	return t
}
