// Package satori holds the domain types shared by the audit pipeline: the
// live site snapshot, scores, bottleneck issues and extension diffs.
package satori

import "time"

// Severity tags a bottleneck issue.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// CDNHint is the CDN detected from the self-fetch response headers.
type CDNHint string

const (
	CDNNone       CDNHint = "none"
	CDNCloudflare CDNHint = "cloudflare"
	CDNOther      CDNHint = "other"
)

// ChangeKind classifies an extension between two monthly snapshots.
type ChangeKind string

const (
	ChangeNew     ChangeKind = "NEW"
	ChangeUpdated ChangeKind = "UPDATED"
	ChangeDeleted ChangeKind = "DELETED"
)

// Extension is one active plugin as reported by the host registry.
type Extension struct {
	Slug        string `json:"slug" yaml:"slug"`
	Path        string `json:"path" yaml:"path"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

// ThemeInfo identifies a theme in the active stack.
type ThemeInfo struct {
	Name    string `json:"name" yaml:"name"`
	Slug    string `json:"slug" yaml:"slug"`
	Version string `json:"version" yaml:"version"`
}

// CacheLayer mirrors the page-cache plugin configuration flags.
type CacheLayer struct {
	Active        bool `json:"active" yaml:"active"`
	IsLiteSpeed   bool `json:"is_litespeed" yaml:"is_litespeed"`
	HtaccessBlock bool `json:"htaccess_block" yaml:"htaccess_block"`
	CSSMinify     bool `json:"css_min" yaml:"css_min"`
	CSSCombine    bool `json:"css_combine" yaml:"css_combine"`
	CriticalCSS   bool `json:"css_ucss" yaml:"css_ucss"`
	JSMinify      bool `json:"js_min" yaml:"js_min"`
	JSDefer       bool `json:"js_defer" yaml:"js_defer"`
	JSDelay       bool `json:"js_delay" yaml:"js_delay"`
	ObjectCache   bool `json:"object_cache" yaml:"object_cache"`
	Crawler       bool `json:"crawler" yaml:"crawler"`
	ImageOptimize bool `json:"img_optm" yaml:"img_optm"`
	WebP          bool `json:"img_webp" yaml:"img_webp"`
}

// PendingUpdates counts queued updates on the host.
type PendingUpdates struct {
	Extensions int `json:"plugins" yaml:"plugins"`
	Themes     int `json:"themes" yaml:"themes"`
}

// SiteSnapshot is a point-in-time read of the site. It is never persisted
// as-is; only the reduced Overview goes into monthly history.
type SiteSnapshot struct {
	CollectedAt           time.Time         `json:"collected_at"`
	ServerSoftware        string            `json:"server"`
	RuntimeVersion        string            `json:"runtime"`
	PlatformVersion       string            `json:"platform"`
	HTTPS                 bool              `json:"https"`
	Permalink             string            `json:"permalinks"`
	Theme                 ThemeInfo         `json:"theme"`
	ParentTheme           *ThemeInfo        `json:"parent_theme,omitempty"`
	Cache                 CacheLayer        `json:"cache"`
	CDN                   CDNHint           `json:"cdn"`
	CacheStatus           string            `json:"cache_status,omitempty"`
	HTTP3Hint             bool              `json:"http3_hint"`
	AdminCount            int               `json:"admins"`
	FileEditDisallowed    bool              `json:"disallow_file_edit"`
	RemoteEndpointEnabled bool              `json:"xmlrpc_enabled"`
	Updates               PendingUpdates    `json:"updates"`
	Extensions            []Extension       `json:"extensions"`
	Headers               map[string]string `json:"headers,omitempty"`
	VulnScanSummary       string            `json:"vuln_scan_summary,omitempty"`
	VulnScanLastRun       string            `json:"vuln_scan_last_run,omitempty"`
}

// Overview is the subset of a snapshot kept in monthly history.
type Overview struct {
	Platform   string    `json:"platform"`
	Runtime    string    `json:"runtime"`
	Server     string    `json:"server"`
	HTTPS      bool      `json:"https"`
	Permalinks string    `json:"permalinks"`
	Theme      ThemeInfo `json:"theme"`
}

// Overview reduces the snapshot to the persisted overview block.
func (s SiteSnapshot) Overview() Overview {
	return Overview{
		Platform:   s.PlatformVersion,
		Runtime:    s.RuntimeVersion,
		Server:     s.ServerSoftware,
		HTTPS:      s.HTTPS,
		Permalinks: s.Permalink,
		Theme:      s.Theme,
	}
}

// ExtensionVersions maps slug to version. A repeated slug keeps its last version.
func (s SiteSnapshot) ExtensionVersions() map[string]string {
	m := make(map[string]string, len(s.Extensions))
	for _, e := range s.Extensions {
		m[e.Slug] = e.Version
	}
	return m
}

// ScoreSet holds the four sub-scores and their total.
type ScoreSet struct {
	Security     int `json:"security"`
	Optimization int `json:"optimization"`
	Speed        int `json:"speed"`
	Stability    int `json:"stability"`
	Total        int `json:"total"`
}

// BottleneckIssue is one detected configuration problem.
type BottleneckIssue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"msg"`
}

// HasHigh reports whether any issue is HIGH severity.
func HasHigh(issues []BottleneckIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// PluginDiff describes how one extension changed since the previous month.
type PluginDiff struct {
	Slug   string     `json:"slug"`
	Change ChangeKind `json:"change"`
	From   *string    `json:"from"`
	To     *string    `json:"to"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// UpdateAction is the host upgrader action behind an update event.
type UpdateAction string

const (
	ActionUpdate  UpdateAction = "update"
	ActionInstall UpdateAction = "install"
)

// UpdatedAsset is one item touched by an update. For plugins Path is the
// "dir/file.php" identifier and Slug may be left empty.
type UpdatedAsset struct {
	Path    string `json:"path,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Version string `json:"version"`
}

// UpdateEvent is published by the host after an install or upgrade
// completes. Type is plugin, theme or core.
type UpdateEvent struct {
	ID     string         `json:"id,omitempty"`
	Action UpdateAction   `json:"action"`
	Type   string         `json:"type"`
	Items  []UpdatedAsset `json:"items"`
	At     time.Time      `json:"at"`
}
