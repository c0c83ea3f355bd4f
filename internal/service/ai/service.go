package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"datachat/internal/logging"
	"datachat/internal/prompt"
)

var (
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrUnknownProvider is returned for a provider name with no client.
	ErrUnknownProvider = errors.New("unknown model provider")
	// ErrMissingAPIKey is returned when a call is made without a key.
	ErrMissingAPIKey = errors.New("api key is required")
)

const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 2000
)

// ModelSpec selects and configures one chat model client.
type ModelSpec struct {
	Provider  string
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
}

// ModelFactory builds a chat model for one call. The key arrives per request,
// so clients are never shared across users.
type ModelFactory func(ctx context.Context, spec ModelSpec) (model.BaseChatModel, error)

// Options configures the analysis client.
type Options struct {
	Provider  string
	BaseURL   string
	Model     string
	MaxTokens int
	// Timeout bounds one model call; zero disables it.
	Timeout time.Duration
}

// Observer is notified after every model call.
type Observer func(provider, outcome string, elapsed time.Duration)

// Service sends dataset questions to the configured provider.
type Service struct {
	opts     Options
	factory  ModelFactory
	logger   *slog.Logger
	observer Observer
}

type Option func(*Service)

func WithFactory(f ModelFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.factory = f
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(s *Service) { s.observer = fn }
}

// NewService validates opts and fills defaults.
func NewService(opts Options, options ...Option) (*Service, error) {
	if opts.Provider == "" {
		opts.Provider = ProviderClaude
	}
	switch opts.Provider {
	case ProviderClaude, ProviderOpenAI, ProviderGemini:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, opts.Provider)
	}
	if opts.Model == "" && opts.Provider == ProviderClaude {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	s := &Service{opts: opts, factory: NewChatModel, logger: logging.NewNop()}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Provider returns the configured provider name.
func (s *Service) Provider() string { return s.opts.Provider }

// Ask sends one single-turn prompt built from the dataset context and the
// question, returning the answer text.
func (s *Service) Ask(ctx context.Context, datasetContext, question, apiKey string) (string, error) {
	return s.run(ctx, datasetContext, question, apiKey, nil)
}

// StreamAsk is Ask with incremental delivery: callback receives the text
// accumulated so far after every chunk.
func (s *Service) StreamAsk(ctx context.Context, datasetContext, question, apiKey string, callback func(string) error) (string, error) {
	if callback == nil {
		callback = func(string) error { return nil }
	}
	return s.run(ctx, datasetContext, question, apiKey, callback)
}

func (s *Service) run(ctx context.Context, datasetContext, question, apiKey string, callback func(string) error) (answer string, err error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrMissingAPIKey
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			s.logger.Error("analysis failed", "provider", s.opts.Provider, "error", err)
		} else {
			s.logger.Info("analysis done", "provider", s.opts.Provider, "elapsed", time.Since(start), "answer_len", len(answer))
		}
		if s.observer != nil {
			s.observer(s.opts.Provider, outcome, time.Since(start))
		}
	}()

	chatModel, err := s.factory(ctx, ModelSpec{
		Provider:  s.opts.Provider,
		BaseURL:   s.opts.BaseURL,
		Model:     s.opts.Model,
		APIKey:    apiKey,
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("init %s model: %w", s.opts.Provider, err)
	}

	messages := []*schema.Message{schema.UserMessage(prompt.BuildPrompt(datasetContext, question))}
	callOpts := []model.Option{model.WithMaxTokens(s.opts.MaxTokens)}

	if callback == nil {
		resp, err := chatModel.Generate(ctx, messages, callOpts...)
		if err != nil {
			return "", fmt.Errorf("generate answer: %w", err)
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return "", ErrEmptyResponse
		}
		return resp.Content, nil
	}

	stream, err := chatModel.Stream(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate answer stream: %w", err)
	}
	defer stream.Close()
	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive answer stream: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if err := callback(full.String()); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", ErrEmptyResponse
	}
	return full.String(), nil
}

// NewChatModel builds the eino client for spec.Provider.
func NewChatModel(ctx context.Context, spec ModelSpec) (model.BaseChatModel, error) {
	switch spec.Provider {
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: spec.BaseURL,
			Model:   spec.Model,
			APIKey:  spec.APIKey,
		})
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  spec.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  spec.Model,
		})
	case ProviderClaude:
		var baseURL *string
		if spec.BaseURL != "" {
			baseURL = &spec.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    spec.APIKey,
			Model:     spec.Model,
			BaseURL:   baseURL,
			MaxTokens: spec.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, spec.Provider)
	}
}
