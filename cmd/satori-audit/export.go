package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a report export",
	Long: `Build a report (without persisting) and write it in one format.

Formats: json, csv_plugins, markdown, html_preview, pdf, pdf_p, pdf_l.
pdf_p and pdf_l force portrait or landscape for this file. When the PDF
renderer fails the HTML is written instead.

Examples:
  satori-audit export --format csv_plugins
  satori-audit export --format pdf_l --out reports/`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportFormat string
	exportOut    string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", export.FormatPDF, "Export format")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", ".", "Output directory, or - for stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.reports.Build(ctx, false)
	if err != nil {
		return err
	}
	dl, err := export.Render(ctx, r, exportFormat, export.OptionsFromConfig(a.cfg, a.clock), a.renderer)
	if err != nil {
		return err
	}

	if exportOut == "-" {
		_, err := cmd.OutOrStdout().Write(dl.Body)
		return err
	}
	if err := os.MkdirAll(exportOut, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(exportOut, dl.Filename)
	if err := os.WriteFile(path, dl.Body, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(dl.Body))
	return nil
}
