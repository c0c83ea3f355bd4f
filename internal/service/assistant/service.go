package assistant

import (
	"context"
	"log/slog"
	"time"

	"datachat/internal/dataset"
	"datachat/internal/logging"
	"datachat/internal/metrics"
	"datachat/internal/prompt"
)

// Analyst answers one question about a dataset context.
type Analyst interface {
	Ask(ctx context.Context, datasetContext, question, apiKey string) (string, error)
	StreamAsk(ctx context.Context, datasetContext, question, apiKey string, callback func(string) error) (string, error)
	Provider() string
}

// TableSource yields the shared, read-only dataset.
type TableSource interface {
	Load(ctx context.Context) (*dataset.Table, error)
}

// Runner schedules model calls, keyed by session id.
type Runner interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// Service turns session state plus one user event into the next state and
// the page to show.
type Service struct {
	tables  TableSource
	analyst Analyst
	runner  Runner
	prompt  prompt.Options
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithPromptOptions(opts prompt.Options) Option {
	return func(s *Service) { s.prompt = opts }
}

// WithRunner routes every model call through r instead of the caller's
// goroutine.
func WithRunner(r Runner) Option {
	return func(s *Service) { s.runner = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a new assistant service.
func NewService(tables TableSource, analyst Analyst, opts ...Option) *Service {
	s := &Service{
		tables:  tables,
		analyst: analyst,
		prompt:  prompt.DefaultOptions(),
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table exposes the dataset for read-only JSON endpoints.
func (s *Service) Table(ctx context.Context) (*dataset.Table, error) {
	return s.tables.Load(ctx)
}
