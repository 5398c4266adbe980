package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/runlog"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Monthly snapshots and the audit run log",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored monthly snapshots",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent audit runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryRuns,
}

var (
	runsLimit int
	runsPref  string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyRunsCmd)

	historyRunsCmd.Flags().IntVar(&runsLimit, "limit", 5, "Number of runs to show")
	historyRunsCmd.Flags().StringVar(&runsPref, "pref", "any", "Summary preference: any, full, test, scheduled")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	months, err := a.snapshots.ListMonths(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(months) == 0 {
		fmt.Fprintln(out, "No monthly snapshots stored yet.")
		return nil
	}
	for _, m := range months {
		snap, err := a.snapshots.GetMonth(ctx, m)
		if err != nil || snap == nil {
			fmt.Fprintf(out, "%s  (unreadable)\n", m)
			continue
		}
		fmt.Fprintf(out, "%s  total %2d  plugins %d\n", m, snap.Scores.Total, len(snap.Plugins))
	}
	return nil
}

func runHistoryRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	latest, err := a.runs.Latest(ctx, runlog.ParsePreference(runsPref))
	if err != nil {
		return err
	}
	if latest == nil {
		fmt.Fprintln(out, "Last Audit Run: No matching audit run recorded.")
	} else {
		fmt.Fprintln(out, "Last Audit Run:", latest.String())
	}

	runs, total, err := a.runs.List(ctx, runlog.Filters{Limit: runsLimit})
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintln(out, "  •", r.String())
	}
	if total > len(runs) {
		fmt.Fprintf(out, "  … %d more\n", total-len(runs))
	}
	return nil
}
