package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"datachat/internal/dataset"
	"datachat/internal/view"
)

type columnReport struct {
	Name  string `json:"name" yaml:"name"`
	Dtype string `json:"dtype" yaml:"dtype"`
}

type correlationReport struct {
	Columns []string   `json:"columns" yaml:"columns"`
	Values  [][]string `json:"values" yaml:"values"`
	Message string     `json:"message,omitempty" yaml:"message,omitempty"`
}

type datasetReport struct {
	Name         string            `json:"name" yaml:"name"`
	Rows         int               `json:"rows" yaml:"rows"`
	Columns      []columnReport    `json:"columns" yaml:"columns"`
	Summary      *dataset.Summary  `json:"summary" yaml:"summary"`
	Correlations correlationReport `json:"correlations" yaml:"correlations"`
}

func newDatasetReport(t *dataset.Table) datasetReport {
	r := datasetReport{Name: t.Name, Rows: t.NumRows(), Summary: dataset.Describe(t)}
	for _, col := range t.Columns {
		r.Columns = append(r.Columns, columnReport{Name: col.Name, Dtype: string(col.Kind)})
	}
	if m := dataset.Correlate(t); m != nil {
		r.Correlations = correlationReport{Columns: m.Columns, Values: m.Formatted()}
	} else {
		r.Correlations = correlationReport{Columns: []string{}, Values: [][]string{}, Message: view.NoNumericColumns}
	}
	return r
}

func newDescribeCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		path   string
	)
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the dataset overview, summary statistics and correlations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
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
			return writeReport(cmd.OutOrStdout(), newDatasetReport(table), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().StringVar(&path, "dataset", "", "CSV file (overrides dataset.path)")
	return cmd
}

func writeReport(w io.Writer, r datasetReport, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		return writeText(w, r)
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func writeText(w io.Writer, r datasetReport) error {
	fmt.Fprintf(w, "Dataset loaded: %d rows, %d columns\n\n", r.Rows, len(r.Columns))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, view.SummaryHeading)
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(r.Summary.Columns, "\t"))
	for _, row := range r.Summary.Rows {
		fmt.Fprintf(tw, "%s\t%s\t\n", row.Stat, strings.Join(row.Cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s\n", view.CorrelationHeading)
	if r.Correlations.Message != "" {
		_, err := fmt.Fprintln(w, r.Correlations.Message)
		return err
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(r.Correlations.Columns, "\t"))
	for i, name := range r.Correlations.Columns {
		fmt.Fprintf(tw, "%s\t%s\t\n", name, strings.Join(r.Correlations.Values[i], "\t"))
	}
	return tw.Flush()
}
