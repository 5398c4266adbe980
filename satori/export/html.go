package export

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/version"
)

type versionRow struct {
	Label   string
	Version string
	Lines   []string
	Date    string
}

type pluginRow struct {
	Name        string
	Type        string
	Version     string
	Description string
	Lines       []string
	Date        string
	Mark        string
}

type removedRow struct {
	Slug    string
	Version string
}

type htmlView struct {
	R           *report.Report
	PageSize    string
	Orientation string
	Today       string
	Generated   string
	Versions    []versionRow
	Plugins     []pluginRow
	Removed     []removedRow
}

var funcs = template.FuncMap{
	"ver": version.Normalize,
	"yesno": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
	"orNA": func(s string) string {
		if s == "" {
			return "n/a"
		}
		return s
	},
	"orPlain": func(s string) string {
		if s == "" {
			return "plain"
		}
		return s
	},
}

var reportTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`<!doctype html><html><meta charset="utf-8">
<style>
@page { size: {{.PageSize}} {{.Orientation}}; margin: 12mm; }
body{font-family:Helvetica,Arial,sans-serif;color:#111;margin:24px}
h1,h2{margin:0 0 8px}
table{width:100%;border-collapse:collapse;margin:8px 0 18px;table-layout:fixed}
th,td{border:1px solid #ddd;padding:6px 8px;font-size:11px;vertical-align:top;word-wrap:break-word}
th{background:#f5f5f5;text-align:left}
.small{color:#666;font-size:12px}
.kv td{border:none;padding:2px 8px}
.legend{font-size:12px;color:#444}
.lines{line-height:1.3}
</style>
<body>
{{- with .R}}
<h1>{{if .ServiceDetails.LogoURL}}<img src="{{.ServiceDetails.LogoURL}}" style="height:40px;vertical-align:middle;margin-right:12px">{{end}}WEB SITE SERVICE LOG</h1>
<p class="small">SATORI</p>

<h2>Service Details</h2>
<table class="kv">
<tr><td><strong>Site Name:</strong> {{.ServiceDetails.SiteName}}</td><td><strong>Site URL:</strong> {{.ServiceDetails.SiteURL}}</td></tr>
</table>
<table class="kv">
<tr><td><strong>Site Manager:</strong> {{.ServiceDetails.ManagedBy}}</td><td><strong>Service Date:</strong> {{.ServiceDetails.ServiceDate}}</td></tr>
<tr><td><strong>Start Date:</strong> {{.ServiceDetails.StartDate}}</td><td><strong>End Date:</strong> ACTIVE</td></tr>
<tr><td colspan="2"><strong>Legend:</strong> <span class="legend"><span style="margin-right:16px">! NEW</span><span style="margin-right:16px">✓ UPDATED</span><span>! DELETED</span></span></td></tr>
<tr><td colspan="2"><strong>Service(s):</strong> {{.ServiceDetails.Notes}}</td></tr>
</table>

<h2>Security – Site Scan</h2>
<p class="small">Last scan: {{orNA .Security.VulnScanLastRun}} – {{.Security.VulnScanSummary}}</p>

<h2>Overview</h2>
<table>
<tr><th>Platform</th><th>Runtime</th><th>Server</th><th>HTTPS</th><th>Theme</th><th>Permalinks</th></tr>
<tr><td>{{ver .Overview.Platform}}</td><td>{{ver .Overview.Runtime}}</td><td>{{.Overview.Server}}</td><td>{{yesno .Overview.HTTPS}}</td><td>{{.Overview.Theme.Name}} {{ver .Overview.Theme.Version}}</td><td>{{orPlain .Overview.Permalinks}}</td></tr>
</table>
{{- end}}

<h2>Versions &amp; Update Dates</h2>
<table>
<tr><th>Asset</th><th>Version</th><th>Updated On</th></tr>
{{- range .Versions}}
<tr><td>{{.Label}}</td><td>{{ver .Version}}</td><td>{{template "updated" .}}</td></tr>
{{- end}}
</table>

{{- with .R.Scores}}
<h2>Scores</h2>
<table>
<tr><th>Security</th><th>Optimization</th><th>Speed</th><th>Stability</th><th>Total</th></tr>
<tr><td>{{.Security}}/10</td><td>{{.Optimization}}/10</td><td>{{.Speed}}/10</td><td>{{.Stability}}/10</td><td><strong>{{.Total}}/40</strong></td></tr>
</table>
{{- end}}

<h2>Bottlenecks</h2>
<ul>
{{- range .R.Bottlenecks}}
<li>[{{.Severity}}] {{.Message}}</li>
{{- else}}
<li>None detected</li>
{{- end}}
</ul>

<h2>Plugin List (combined with recent weekly updates)</h2>
<table>
<tr><th>Plugin Name</th><th>Plugin Type</th><th>Plugin Version</th><th>Description</th><th>Plugin Status</th><th>Last Checked</th><th>Updated On (last ~5 wks)</th><th>Updated</th><th>Comments</th></tr>
{{- range .Plugins}}
<tr><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Version}}</td><td style="white-space:normal">{{.Description}}</td><td>Active</td><td>{{$.Today}}</td><td>{{template "updated" .}}</td><td>{{.Mark}}</td><td></td></tr>
{{- end}}
</table>

{{- if .Removed}}
<h2>Removed Plugins (since last month)</h2>
<table>
<tr><th>Plugin (slug)</th><th>Previous Version</th><th>Status</th></tr>
{{- range .Removed}}
<tr><td>{{.Slug}}</td><td>{{ver .Version}}</td><td>Removed</td></tr>
{{- end}}
</table>
{{- end}}

<p class="small">Generated: {{.Generated}} • SATORI Audit v{{.R.Meta.Version}}</p>
</body></html>
{{define "updated"}}{{if .Lines}}<div class="lines">{{range $i, $l := .Lines}}{{if $i}}<br>{{end}}{{$l}}{{end}}</div>{{else}}{{.Date}}{{end}}{{end}}`))

// HTML renders the printable report. Page geometry goes into the @page rule.
func HTML(r *report.Report, opts Options) ([]byte, error) {
	opts = opts.normalized()
	now := opts.today()
	compactor := opts.compactor()
	log := r.AssetLog

	view := htmlView{
		R:           r,
		PageSize:    opts.PageSize,
		Orientation: opts.Orientation,
		Today:       now.Format("02/01/2006"),
		Generated:   now.Format("02/01/2006 15:04"),
	}

	v := r.Versions
	core := versionRow{Label: "Platform Core", Version: v.Core.Version, Date: v.Core.UpdatedOn}
	if opts.WeeklyLinesCore {
		core.Lines = compactor.ForAsset(log, ledger.Core, ledger.CoreKey, opts.MaxLines)
	}
	child := versionRow{Label: "Child Theme: " + v.Child.Name, Version: v.Child.Version, Date: v.Child.UpdatedOn}
	if opts.WeeklyLinesThemes && v.Child.Slug != "" {
		child.Lines = compactor.ForAsset(log, ledger.Theme, v.Child.Slug, opts.MaxLines)
	}
	view.Versions = []versionRow{core, child}
	if v.Parent != nil {
		parent := versionRow{Label: "Parent Theme: " + v.Parent.Name, Version: v.Parent.Version, Date: v.Parent.UpdatedOn}
		if opts.WeeklyLinesThemes {
			parent.Lines = compactor.ForAsset(log, ledger.Theme, v.Parent.Slug, opts.MaxLines)
		}
		view.Versions = append(view.Versions, parent)
	}

	diffs := snapshot.ByChange(r.PluginDiffs)
	for _, p := range r.Stability.ActivePlugins {
		d, ok := diffs[p.Slug]
		view.Plugins = append(view.Plugins, pluginRow{
			Name:        p.Name,
			Type:        PluginType(p.Name),
			Version:     version.Normalize(p.Version),
			Description: p.DescriptionShort,
			Lines:       compactor.ForAsset(log, ledger.Plugin, p.Slug, opts.MaxLines),
			Date:        log.LastUpdatedLabel(ledger.Plugin, p.Slug, r.LegacyLog()),
			Mark:        ChangeMark(d, ok),
		})
	}
	for _, d := range r.PluginDiffs {
		if d.Change == satori.ChangeDeleted && d.From != nil {
			view.Removed = append(view.Removed, removedRow{Slug: d.Slug, Version: *d.From})
		}
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML report: %w", err)
	}
	return buf.Bytes(), nil
}
