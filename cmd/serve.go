package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"datachat/internal/auth"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.BasicConfig.ServerAddress
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("release resources", "error", err)
				}
			}()

			// Fail fast on a broken dataset instead of on the first page view.
			if _, err := a.loader.Load(ctx); err != nil {
				return fmt.Errorf("load dataset %s: %w", cfg.Dataset.Path, err)
			}

			authService, err := auth.NewService(auth.Options{
				CookieKey:  os.Getenv("DATACHAT_COOKIE_KEY"),
				Secure:     cfg.BasicConfig.CookieSecure,
				SessionTTL: cfg.IdleTimeout(),
			})
			if err != nil {
				return fmt.Errorf("init auth: %w", err)
			}

			a.janitor.Start(ctx)

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           a.router(authService),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serverErrors := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", addr, "dataset", cfg.Dataset.Path, "provider", a.analyst.Provider(), "sessions", cfg.Session.Backend)
				serverErrors <- srv.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server stopped: %w", err)
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("graceful shutdown incomplete", "error", err)
					return srv.Close()
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides basic_config.server_address)")
	return cmd
}
