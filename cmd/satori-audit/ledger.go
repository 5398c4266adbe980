package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/weekly"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or amend the asset update ledger",
}

var ledgerRecordCmd = &cobra.Command{
	Use:   "record <plugin|theme|core> <slug> <version>",
	Short: "Record an observed version change",
	Long: `Append one observation to the asset ledger. The date defaults to today
in the site timezone; dates before the asset's last update are rejected.

Examples:
  satori-audit ledger record plugin akismet 5.3.1
  satori-audit ledger record core platform 6.5 --date 2024-04-02`,
	Args: cobra.ExactArgs(3),
	RunE: runLedgerRecord,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <plugin|theme|core> <slug>",
	Short: "Show history and weekly lines for one asset",
	Args:  cobra.ExactArgs(2),
	RunE:  runLedgerShow,
}

var (
	ledgerDate  string
	ledgerLines int
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerRecordCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)

	ledgerRecordCmd.Flags().StringVar(&ledgerDate, "date", "", "Observation date (YYYY-MM-DD)")
	ledgerShowCmd.Flags().IntVar(&ledgerLines, "lines", weekly.DefaultMaxLines, "Maximum weekly lines")
}

func runLedgerRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cat, err := ledger.ParseCategory(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	date := a.clock.Now()
	if ledgerDate != "" {
		date, err = time.ParseInLocation("2006-01-02", ledgerDate, a.cfg.Location())
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}
	if err := a.ledger.RecordChange(ctx, cat, args[1], date, args[2]); err != nil {
		return err
	}
	label, _ := a.ledger.LastUpdatedLabel(ctx, cat, args[1])
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s %s (last updated %s)\n", cat, args[1], args[2], label)
	return nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cat, err := ledger.ParseCategory(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.ledger.HistoryFor(ctx, cat, args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintf(out, "No history for %s %s\n", cat, args[1])
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s %s", cat, args[1])))
	for _, p := range history {
		fmt.Fprintf(out, "  %s  %s\n", p.Date.Format("02/01/2006"), p.Version)
	}

	lines := weekly.NewCompactor(a.clock, a.cfg.Location()).Lines(history, ledgerLines)
	if len(lines) > 0 {
		fmt.Fprintln(out, titleStyle.Render("Weekly"))
		for _, l := range lines {
			fmt.Fprintln(out, "  "+l)
		}
	}
	return nil
}
