package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"datachat/internal/api"
	"datachat/internal/auth"
	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/metrics"
	"datachat/internal/prompt"
	"datachat/internal/redis"
	"datachat/internal/service/ai"
	"datachat/internal/service/assistant"
	"datachat/internal/session"
	"datachat/internal/storage"
	"datachat/internal/worker"
)

// app is the wired server stack.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	loader     *dataset.Loader
	analyst    *ai.Service
	dispatcher *worker.Dispatcher
	sessions   *session.Manager
	janitor    *session.Janitor
	assistant  *assistant.Service
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	m := metrics.New()
	a := &app{cfg: cfg, logger: logger, metrics: m}

	a.loader = dataset.NewLoader(cfg.Dataset.Path,
		dataset.WithLogger(logger),
		dataset.WithObserver(m.ObserveDatasetLoad),
	)
	analyst, err := newAnalyst(cfg, logger, ai.WithObserver(m.ObserveAnalysis))
	if err != nil {
		return nil, err
	}
	a.analyst = analyst

	store, closeStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}
	a.sessions = session.NewManager(store, session.WithLogger(logger))
	a.janitor = &session.Janitor{
		Store:       store,
		IdleTimeout: cfg.IdleTimeout(),
		Interval:    cfg.CleanInterval(),
		Logger:      logger,
		OnSweep:     m.SetActiveSessions,
	}

	a.dispatcher = worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.Workers.MinWorkers,
		MaxWorkers:  cfg.Workers.MaxWorkers,
		QueueSize:   cfg.Workers.QueueSize,
		IdleTimeout: cfg.WorkerIdle(),
	}, worker.WithLogger(logger))
	a.closers = append(a.closers, func() error { a.dispatcher.Close(); return nil })

	a.assistant = assistant.NewService(a.loader, analyst,
		assistant.WithPromptOptions(promptOptions(cfg)),
		assistant.WithRunner(a.dispatcher),
		assistant.WithMetrics(m),
		assistant.WithLogger(logger),
	)
	return a, nil
}

// router builds the gin engine serving the app.
func (a *app) router(authService *auth.Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(a.logger))
	api.NewHandler(a.assistant, authService, a.sessions, a.metrics, a.logger).RegisterRoutes(router)
	return router
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func promptOptions(cfg *config.Config) prompt.Options {
	opts := prompt.DefaultOptions()
	if cfg.Dataset.SampleRows > 0 {
		opts.SampleRows = cfg.Dataset.SampleRows
	}
	if cfg.Dataset.MaxColumns > 0 {
		opts.MaxColumns = cfg.Dataset.MaxColumns
	}
	return opts
}

func newAnalyst(cfg *config.Config, logger *slog.Logger, extra ...ai.Option) (*ai.Service, error) {
	provider := cfg.Providers[cfg.Analysis.Provider]
	opts := append([]ai.Option{ai.WithLogger(logger)}, extra...)
	svc, err := ai.NewService(ai.Options{
		Provider:  cfg.Analysis.Provider,
		BaseURL:   provider.BaseURL,
		Model:     provider.Model,
		MaxTokens: cfg.Analysis.MaxTokens,
		Timeout:   cfg.AnalysisTimeout(),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init analyst: %w", err)
	}
	return svc, nil
}

// newSessionStore opens the configured session backend. The returned closer
// is nil for the memory store.
func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func() error, error) {
	switch backend := storage.Normalize(cfg.Session.Backend); backend {
	case "memory":
		return session.NewMemoryStore(), nil, nil
	case "sqlite3", "mysql":
		db, err := storage.Open(backend, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := storage.Migrate(db, backend); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		return storage.NewSessionStore(db, backend), db.Close, nil
	case "redis":
		client, err := redis.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		return redis.NewSessionStore(client, cfg.IdleTimeout()), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session backend: %s", cfg.Session.Backend)
	}
}
