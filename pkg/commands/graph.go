package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/graphing"
)

func newGraphCmd(a *app) *cobra.Command {
	var output, title string
	cmd := &cobra.Command{
		Use:     "graph <results-file>",
		Aliases: []string{"g"},
		Short:   "Render an HTML report from a results file",
		Long: `Render latency, throughput and admission charts from a bench results
file (.json, .jsonl, .csv, .tsv or .parquet).

Example:
  infgov graph results.csv
  infgov graph run.parquet -o run.html --title "A100 x2, 16 sessions"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("input file not found: %s", input)
			}
			out := output
			if out == "" {
				out = graphing.ReportPath(input)
			}
			if err := graphing.GenerateFromFile(input, out, title); err != nil {
				return err
			}
			a.logger.Debug("report written", zap.String("input", input), zap.String("output", out))
			fmt.Fprintf(cmd.OutOrStdout(), "Generated report: %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output HTML file (default: <input>.html)")
	cmd.Flags().StringVar(&title, "title", graphing.DefaultTitle, "Report title")
	return cmd
}
