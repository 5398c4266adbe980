package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/export"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an audit now",
	Long: `Collect facts, build the report and print a summary.

A full run stores this month's snapshot (and refreshes the cached JSON when
automation.refresh_json is set). A test run stores nothing but the run log
entry.

Examples:
  satori-audit run
  satori-audit run --test --preview`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runTest    bool
	runPreview bool
	runUser    string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runTest, "test", false, "Do not persist the snapshot")
	runCmd.Flags().BoolVar(&runPreview, "preview", false, "Render the Markdown report in the terminal")
	runCmd.Flags().StringVar(&runUser, "user", "", "Name recorded in the run log")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.runner.RunNow(ctx, runTest, runUser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderScores(res.Report))
	for _, action := range res.Report.KeyActions(len(res.Report.Suggestions)) {
		fmt.Fprintln(out, "  •", action)
	}
	if runPreview {
		fmt.Fprint(out, renderMarkdown(export.Markdown(res.Report), 100))
	}
	fmt.Fprintf(out, "Recorded %s by %s\n", res.Run.Type, res.Run.User)
	return nil
}
