// Package export renders a report in the downloadable formats.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/scoring"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/version"
	"github.com/SatoriAU/site-audit/satori/weekly"
)

// Format names accepted by Render.
const (
	FormatJSON      = "json"
	FormatCSV       = "csv_plugins"
	FormatMarkdown  = "markdown"
	FormatHTML      = "html_preview"
	FormatPDF       = "pdf"
	FormatPDFPortr  = "pdf_p"
	FormatPDFLandsc = "pdf_l"
)

// ErrUnknownFormat is returned by Render for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown export format")

// Options carry presentation settings that are not part of the report.
type Options struct {
	PageSize          string
	Orientation       string
	WeeklyLinesCore   bool
	WeeklyLinesThemes bool
	MaxLines          int
	Clock             satori.Clock
	Location          *time.Location
}

// OptionsFromConfig derives export options from the configuration.
func OptionsFromConfig(cfg *config.Config, clock satori.Clock) Options {
	return Options{
		PageSize:          cfg.PDF.PageSize,
		Orientation:       cfg.PDF.Orientation,
		WeeklyLinesCore:   cfg.Automation.WeeklyLinesCore,
		WeeklyLinesThemes: cfg.Automation.WeeklyLinesThemes,
		MaxLines:          weekly.DefaultMaxLines,
		Clock:             clock,
		Location:          cfg.Location(),
	}
}

func (o Options) normalized() Options {
	o.PageSize = config.PageSize(o.PageSize)
	o.Orientation = config.Orientation(o.Orientation)
	if o.MaxLines <= 0 {
		o.MaxLines = weekly.DefaultMaxLines
	}
	if o.Clock == nil {
		o.Clock = satori.SystemClock{}
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

func (o Options) today() time.Time { return o.Clock.Now().In(o.Location) }

func (o Options) compactor() *weekly.Compactor { return weekly.NewCompactor(o.Clock, o.Location) }

// Download is one rendered export.
type Download struct {
	Filename    string
	ContentType string
	// Inline is set for previews that should not be served as attachments.
	Inline bool
	Body   []byte
}

// Render produces the named format. pdf_p and pdf_l force the orientation
// for this download. When the PDF renderer fails, the HTML is returned
// instead with an .html filename.
func Render(ctx context.Context, r *report.Report, format string, opts Options, renderer Renderer) (Download, error) {
	opts = opts.normalized()
	stamp := opts.today().Format("20060102")

	switch format {
	case FormatPDFPortr:
		opts.Orientation = config.Portrait
		format = FormatPDF
	case FormatPDFLandsc:
		opts.Orientation = config.Landscape
		format = FormatPDF
	}

	switch format {
	case FormatJSON:
		body, err := JSON(r)
		if err != nil {
			return Download{}, err
		}
		return Download{Filename: "satori-audit-" + stamp + ".json", ContentType: "application/json; charset=utf-8", Body: body}, nil
	case FormatCSV:
		body, err := CSV(r, opts)
		if err != nil {
			return Download{}, err
		}
		return Download{Filename: "satori-plugins-" + stamp + ".csv", ContentType: "text/csv; charset=utf-8", Body: body}, nil
	case FormatMarkdown:
		return Download{Filename: "satori-audit-" + stamp + ".md", ContentType: "text/markdown; charset=utf-8", Body: []byte(Markdown(r))}, nil
	case FormatHTML:
		body, err := HTML(r, opts)
		if err != nil {
			return Download{}, err
		}
		return Download{Filename: "satori-audit-" + stamp + ".html", ContentType: "text/html; charset=utf-8", Inline: true, Body: body}, nil
	case FormatPDF:
		html, err := HTML(r, opts)
		if err != nil {
			return Download{}, err
		}
		if pdf, ok := PDF(ctx, renderer, html, opts.PageSize, opts.Orientation); ok {
			return Download{Filename: "satori-audit-" + stamp + ".pdf", ContentType: "application/pdf", Body: pdf}, nil
		}
		return Download{Filename: "satori-audit-" + stamp + ".html", ContentType: "text/html; charset=utf-8", Body: html}, nil
	}
	return Download{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// JSON is the full report, pretty-printed.
func JSON(r *report.Report) ([]byte, error) {
	return r.MarshalPretty()
}

// PluginType classifies an extension by its display name.
func PluginType(name string) string {
	n := strings.ToLower(name)
	if strings.Contains(n, "pro") || strings.Contains(n, "premium") {
		return "PREMIUM"
	}
	return "FREE/FREEMIUM"
}

// ChangeMark is the "Updated" column marker for a diff entry.
func ChangeMark(d satori.PluginDiff, ok bool) string {
	if !ok {
		return ""
	}
	switch d.Change {
	case satori.ChangeUpdated:
		return "✓ UPDATED"
	case satori.ChangeNew:
		return "! NEW"
	}
	return ""
}

var csvColumns = []string{
	"Plugin Name", "Plugin Type", "Plugin Version", "Description", "Plugin Status",
	"Last Checked", "Updated On (last ~5 wks)", "Updated", "Comments",
}

// CSV renders the extensions table.
func CSV(r *report.Report, opts Options) ([]byte, error) {
	opts = opts.normalized()
	compactor := opts.compactor()
	today := opts.today().Format("02/01/2006")
	diffs := snapshot.ByChange(r.PluginDiffs)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvColumns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, p := range r.Stability.ActivePlugins {
		updatedOn := strings.Join(compactor.ForAsset(r.AssetLog, ledger.Plugin, p.Slug, opts.MaxLines), " | ")
		if updatedOn == "" {
			updatedOn = r.AssetLog.LastUpdatedLabel(ledger.Plugin, p.Slug, r.LegacyLog())
		}
		d, ok := diffs[p.Slug]
		row := []string{
			p.Name,
			PluginType(p.Name),
			version.Normalize(p.Version),
			report.ShortDesc(p.Description, 140),
			"Active",
			today,
			updatedOn,
			ChangeMark(d, ok),
			"",
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown renders the short text summary.
func Markdown(r *report.Report) string {
	v := r.Versions
	lines := []string{
		"# WEB SITE SERVICE LOG – SATORI",
		"**Site:** " + r.ServiceDetails.SiteName + "  ",
		"**URL:** " + r.ServiceDetails.SiteURL + "  ",
		"**Service Date:** " + r.ServiceDetails.ServiceDate,
		"",
		"## Versions & Update Dates",
		fmt.Sprintf("- Core: %s (Updated: %s)", version.Normalize(v.Core.Version), v.Core.UpdatedOn),
		fmt.Sprintf("- Child Theme: %s %s (Updated: %s)", v.Child.Name, version.Normalize(v.Child.Version), v.Child.UpdatedOn),
	}
	if v.Parent != nil {
		lines = append(lines, fmt.Sprintf("- Parent Theme: %s %s (Updated: %s)", v.Parent.Name, version.Normalize(v.Parent.Version), v.Parent.UpdatedOn))
	}
	s := r.Scores
	lines = append(lines,
		"",
		"## Scores",
		fmt.Sprintf("- Security: %d/10", s.Security),
		fmt.Sprintf("- Optimization: %d/10", s.Optimization),
		fmt.Sprintf("- Speed: %d/10", s.Speed),
		fmt.Sprintf("- Stability: %d/10", s.Stability),
		fmt.Sprintf("- **Total: %d/%d**", s.Total, scoring.MaxTotal),
		"",
		"## Bottlenecks",
	)
	if len(r.Bottlenecks) == 0 {
		lines = append(lines, "- None detected")
	}
	for _, b := range r.Bottlenecks {
		lines = append(lines, fmt.Sprintf("- [%s] %s", b.Severity, b.Message))
	}
	return strings.Join(lines, "\n")
}
