package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"datachat/internal/dataset"
	"datachat/internal/models"
	"datachat/internal/prompt"
	"datachat/internal/session"
	"datachat/internal/view"
)

// ErrAnalysis wraps every failure of the model call so handlers can tell it
// apart from dataset failures.
var ErrAnalysis = errors.New("analysis failed")

// Event is one user interaction.
type Event interface {
	event()
}

// Refresh re-renders without changing state.
type Refresh struct{}

// Chat submits a question; APIKey is used for this call only.
type Chat struct {
	Question string
	APIKey   string
}

type ToggleSummary struct{ On bool }

type ToggleCorrelations struct{ On bool }

func (Refresh) event()            {}
func (Chat) event()               {}
func (ToggleSummary) event()      {}
func (ToggleCorrelations) event() {}

// StreamHooks observe a streamed chat.
type StreamHooks struct {
	// OnQuestion runs once the user entry is part of the state.
	OnQuestion func(models.Entry) error
	// OnDelta receives the answer accumulated so far.
	OnDelta func(string) error
}

// Render applies ev to a copy of state and builds the page.
//
// A dataset failure returns a nil state: nothing changed. An analysis
// failure returns the state with the user entry appended, and an error
// wrapping ErrAnalysis; the caller decides whether to keep it.
func (s *Service) Render(ctx context.Context, state *session.State, ev Event) (*session.State, *view.Page, error) {
	return s.render(ctx, state, ev, nil)
}

// RenderStream is Render for a Chat event with incremental delivery.
func (s *Service) RenderStream(ctx context.Context, state *session.State, ev Chat, hooks StreamHooks) (*session.State, *view.Page, error) {
	return s.render(ctx, state, ev, &hooks)
}

func (s *Service) render(ctx context.Context, state *session.State, ev Event, hooks *StreamHooks) (*session.State, *view.Page, error) {
	table, err := s.tables.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load dataset: %w", err)
	}
	next := state.Clone()

	switch e := ev.(type) {
	case nil, Refresh:
	case ToggleSummary:
		next.ShowSummary = e.On
	case ToggleCorrelations:
		next.ShowCorrelations = e.On
	case Chat:
		if err := s.chat(ctx, table, next, e, hooks); err != nil {
			return next, s.page(table, next), err
		}
	default:
		return nil, nil, fmt.Errorf("unknown event %T", ev)
	}

	page := s.page(table, next)
	if c, ok := ev.(Chat); ok {
		page.Sidebar.HasAPIKey = strings.TrimSpace(c.APIKey) != ""
	}
	return next, page, nil
}

func (s *Service) chat(ctx context.Context, table *dataset.Table, st *session.State, ev Chat, hooks *StreamHooks) error {
	question := strings.TrimSpace(ev.Question)
	if question == "" {
		return nil
	}
	userEntry := models.Entry{Role: models.RoleUser, Content: question, CreatedAt: s.now()}
	st.Transcript.Append(userEntry)
	if hooks != nil && hooks.OnQuestion != nil {
		if err := hooks.OnQuestion(userEntry); err != nil {
			return err
		}
	}

	apiKey := strings.TrimSpace(ev.APIKey)
	if apiKey == "" {
		st.Transcript.Append(models.Entry{Role: models.RoleAssistant, Content: view.MissingKeyReply, CreatedAt: s.now()})
		s.metrics.CountQuestion("no_key")
		if hooks != nil && hooks.OnDelta != nil {
			return hooks.OnDelta(view.MissingKeyReply)
		}
		return nil
	}

	datasetContext := prompt.BuildContext(table, s.prompt)
	var answer string
	call := func(ctx context.Context) error {
		var err error
		if hooks != nil && hooks.OnDelta != nil {
			answer, err = s.analyst.StreamAsk(ctx, datasetContext, question, apiKey, hooks.OnDelta)
		} else {
			answer, err = s.analyst.Ask(ctx, datasetContext, question, apiKey)
		}
		return err
	}
	var err error
	if s.runner != nil {
		err = s.runner.Do(ctx, st.ID, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		s.metrics.CountQuestion("error")
		s.logger.Error("question not answered", "session", st.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	st.Transcript.Append(models.Entry{Role: models.RoleAssistant, Content: answer, CreatedAt: s.now()})
	s.metrics.CountQuestion("answered")
	return nil
}

func (s *Service) page(table *dataset.Table, st *session.State) *view.Page {
	p := &view.Page{
		Title:           view.Title,
		DatasetLine:     fmt.Sprintf("Dataset loaded: %d rows, %d columns", table.NumRows(), table.NumCols()),
		ChatPlaceholder: view.ChatPlaceholder,
		Sidebar: view.Sidebar{
			ShowSummary:      st.ShowSummary,
			ShowCorrelations: st.ShowCorrelations,
			Provider:         s.analyst.Provider(),
		},
	}
	if st.ShowSummary {
		p.Summary = view.NewSummaryTable(dataset.Describe(table))
	}
	if st.ShowCorrelations {
		p.Correlation = view.NewCorrelationPanel(dataset.Correlate(table))
	}
	entries := st.Transcript.All()
	p.Transcript = make([]view.Message, len(entries))
	for i, e := range entries {
		p.Transcript[i] = view.NewMessage(e)
	}
	return p
}
