// Package cmd holds the datachat command line: the web server plus one-shot
// describe and ask commands over the same dataset.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"datachat/internal/config"
	"datachat/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "datachat",
		Short:         "Health Insurance Analyzer",
		Long:          `datachat loads a CSV dataset, shows its summary and correlations, and answers questions about it with a language model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $DATACHAT_CONFIG or ./config.json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override basic_config.log_level")

	root.AddCommand(newServeCmd(opts), newDescribeCmd(opts), newAskCmd(opts))
	return root
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// load reads the config and builds the logger every command shares.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.BasicConfig.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := logging.New(logging.ParseLevel(level))
	if src := cfg.Source(); src != "" {
		logger.Debug("config loaded", "path", src)
	}
	return cfg, logger, nil
}
