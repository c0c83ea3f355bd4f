package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"datachat/internal/dataset"
	"datachat/internal/prompt"
)

const envAPIKey = "DATACHAT_API_KEY"

var errNoAPIKey = errors.New("no API key: pass --api-key or set " + envAPIKey)

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		apiKey string
		path   string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask one question about the dataset and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is empty")
			}
			key, err := resolveAPIKey(apiKey, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Dataset.Path
			}
			table, err := dataset.NewLoader(path, dataset.WithLogger(logger)).Load(cmd.Context())
			if err != nil {
				return err
			}
			analyst, err := newAnalyst(cfg, logger)
			if err != nil {
				return err
			}
			answer, err := analyst.Ask(cmd.Context(), prompt.BuildContext(table, promptOptions(cfg)), question, key)
			if err != nil {
				return err
			}
			return printAnswer(cmd.OutOrStdout(), answer, raw)
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "model provider key (default $"+envAPIKey+", prompted on a terminal)")
	cmd.Flags().StringVar(&path, "dataset", "", "CSV file (overrides dataset.path)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown as is")
	return cmd
}

// resolveAPIKey prefers the flag, then the environment, then a hidden
// prompt when stdin is a terminal.
func resolveAPIKey(flag string, in io.Reader, prompter io.Writer) (string, error) {
	if k := strings.TrimSpace(flag); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(os.Getenv(envAPIKey)); k != "" {
		return k, nil
	}
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errNoAPIKey
	}
	fmt.Fprint(prompter, "API key: ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompter)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	if k := strings.TrimSpace(string(b)); k != "" {
		return k, nil
	}
	return "", errNoAPIKey
}

func printAnswer(w io.Writer, answer string, raw bool) error {
	f, ok := w.(*os.File)
	if raw || !ok || !term.IsTerminal(int(f.Fd())) {
		_, err := fmt.Fprintln(w, answer)
		return err
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("init markdown renderer: %w", err)
	}
	out, err := r.Render(answer)
	if err != nil {
		return fmt.Errorf("render answer: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
