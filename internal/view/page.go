package view

import (
	"html/template"

	"datachat/internal/models"
)

const (
	Title              = "Health Insurance Analyzer"
	ChatPlaceholder    = "Ask about the health insurance data..."
	NoNumericColumns   = "No numeric columns found for correlation."
	MissingKeyReply    = "Please enter your API key in the sidebar."
	SummaryHeading     = "Data Summary"
	CorrelationHeading = "Correlation Heatmap"
)

// Page is the full view tree of one render.
type Page struct {
	Title           string            `json:"title"`
	DatasetLine     string            `json:"dataset_line"`
	Sidebar         Sidebar           `json:"sidebar"`
	Summary         *SummaryTable     `json:"summary,omitempty"`
	Correlation     *CorrelationPanel `json:"correlation,omitempty"`
	Transcript      []Message         `json:"transcript"`
	ChatPlaceholder string            `json:"chat_placeholder"`

	// CSRFToken is filled in by the HTTP layer for form rendering.
	CSRFToken string `json:"-"`
	// Error, when set, is shown above the transcript.
	Error string `json:"error,omitempty"`
}

type Sidebar struct {
	HasAPIKey        bool   `json:"has_api_key"`
	ShowSummary      bool   `json:"show_summary"`
	ShowCorrelations bool   `json:"show_correlations"`
	Provider         string `json:"provider"`
}

// Message is one transcript entry ready for display.
type Message struct {
	Role    models.Role   `json:"role"`
	Content string        `json:"content"`
	HTML    template.HTML `json:"-"`
}

type SummaryTable struct {
	Heading string       `json:"heading"`
	Columns []string     `json:"columns"`
	Rows    []SummaryRow `json:"rows"`
}

type SummaryRow struct {
	Stat  string   `json:"stat"`
	Cells []string `json:"cells"`
}

// CorrelationPanel is either a colored matrix or, when the dataset has no
// numeric columns, only Message.
type CorrelationPanel struct {
	Heading string    `json:"heading"`
	Message string    `json:"message,omitempty"`
	Columns []string  `json:"columns,omitempty"`
	Rows    []CorrRow `json:"rows,omitempty"`
}

type CorrRow struct {
	Name  string     `json:"name"`
	Cells []CorrCell `json:"cells"`
}

type CorrCell struct {
	Text       string  `json:"text"`
	Value      float64 `json:"-"`
	Background string  `json:"background"`
	Foreground string  `json:"foreground"`
}

// NewMessage renders the markdown of assistant entries; user text is shown
// as typed.
func NewMessage(e models.Entry) Message {
	m := Message{Role: e.Role, Content: e.Content}
	if e.Role == models.RoleAssistant {
		m.HTML = Markdown(e.Content)
	} else {
		m.HTML = template.HTML(template.HTMLEscapeString(e.Content))
	}
	return m
}
