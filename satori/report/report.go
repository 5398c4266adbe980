// Package report assembles the audit report from a live snapshot, the
// asset ledger and the previous month's history entry.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/bottleneck"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/ledger"
	"github.com/SatoriAU/site-audit/satori/scoring"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/store"
)

// Version is stamped into every report's meta block.
var Version = "3.8.0"

const (
	KeyJSONExport        = "satori:json_export"
	KeyJSONLastGenerated = "satori:json_last_generated"

	// MaxKeyActions bounds the suggestions quoted in notifications.
	MaxKeyActions = 6

	shortDescLimit = 140
)

type Meta struct {
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`
	Month       string    `json:"month"`
}

type ServiceDetails struct {
	Client      string `json:"client"`
	SiteName    string `json:"site_name"`
	SiteURL     string `json:"site_url"`
	ManagedBy   string `json:"managed_by"`
	StartDate   string `json:"start_date"`
	ServiceDate string `json:"service_date"`
	Notes       string `json:"notes"`
	LogoURL     string `json:"logo_url,omitempty"`
}

// AssetVersion is one row of the versions table. UpdatedOn is dd/mm/yyyy
// or empty.
type AssetVersion struct {
	Name      string `json:"name,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Version   string `json:"version"`
	UpdatedOn string `json:"updated_on"`
}

type Versions struct {
	Core   AssetVersion  `json:"core"`
	Child  AssetVersion  `json:"child"`
	Parent *AssetVersion `json:"parent,omitempty"`
}

type Security struct {
	Admins             int    `json:"admins"`
	FileEditDisallowed bool   `json:"disallow_file_edit"`
	RemoteEndpoint     bool   `json:"xmlrpc_enabled"`
	HtaccessBlock      bool   `json:"htaccess_lscache"`
	VulnScanSummary    string `json:"vuln_scan_summary"`
	VulnScanLastRun    string `json:"vuln_scan_last_run"`
}

type Optimization struct {
	Cache       satori.CacheLayer `json:"cache_layer"`
	CDN         satori.CDNHint    `json:"cdn"`
	ObjectCache bool              `json:"object_cache"`
}

type Speed struct {
	CacheStatus string `json:"cache_status"`
	HTTP3Hint   bool   `json:"http3_hint"`
}

// PluginRow is an active extension plus its shortened description.
type PluginRow struct {
	satori.Extension
	DescriptionShort string `json:"description_short"`
}

type Stability struct {
	Updates       satori.PendingUpdates `json:"updates"`
	ActivePlugins []PluginRow           `json:"active_plugins"`
}

// Report is the full audit document shared by every exporter.
type Report struct {
	Meta            Meta                     `json:"meta"`
	ServiceDetails  ServiceDetails           `json:"service_details"`
	Overview        satori.Overview          `json:"overview"`
	Versions        Versions                 `json:"versions"`
	Security        Security                 `json:"security"`
	Optimization    Optimization             `json:"optimization"`
	Speed           Speed                    `json:"speed"`
	Stability       Stability                `json:"stability"`
	Bottlenecks     []satori.BottleneckIssue `json:"bottlenecks"`
	Suggestions     []string                 `json:"suggestions"`
	Scores          satori.ScoreSet          `json:"scores"`
	AssetLog        *ledger.AssetLog         `json:"asset_log"`
	LegacyPluginLog ledger.LegacyLog         `json:"legacy_plugin_log,omitempty"`
	PluginDiffs     []satori.PluginDiff      `json:"plugin_diffs"`

	// legacyFallback is the pre-ledger plugin log, loaded whatever the
	// ledger holds. Only an empty ledger embeds it in the JSON output.
	legacyFallback ledger.LegacyLog
}

// LegacyLog returns the pre-ledger plugin log used for per-plugin date
// fallback.
func (r *Report) LegacyLog() ledger.LegacyLog {
	if r.legacyFallback != nil {
		return r.legacyFallback
	}
	return r.LegacyPluginLog
}

// KeyActions returns at most n suggestions.
func (r *Report) KeyActions(n int) []string {
	if n > len(r.Suggestions) {
		n = len(r.Suggestions)
	}
	return r.Suggestions[:n]
}

// HasHigh reports whether any bottleneck is HIGH.
func (r *Report) HasHigh() bool { return satori.HasHigh(r.Bottlenecks) }

// HasIssue reports whether a bottleneck of the given type was found.
func (r *Report) HasIssue(issueType string) bool {
	for _, b := range r.Bottlenecks {
		if b.Type == issueType {
			return true
		}
	}
	return false
}

// MarshalPretty encodes the report as indented JSON without HTML escaping.
func (r *Report) MarshalPretty() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// ShortDesc strips markup, collapses whitespace and trims text to limit
// runes, ending with an ellipsis when cut.
func ShortDesc(text string, limit int) string {
	t := tagPattern.ReplaceAllString(text, "")
	t = strings.TrimSpace(spacePattern.ReplaceAllString(t, " "))
	r := []rune(t)
	if len(r) <= limit {
		return t
	}
	return string(r[:limit-1]) + "…"
}

// SiteCollector produces a live snapshot.
type SiteCollector interface {
	Collect(ctx context.Context) satori.SiteSnapshot
}

// Deps are the collaborators of a Service.
type Deps struct {
	Collector SiteCollector
	Ledger    *ledger.Ledger
	Snapshots *snapshot.Manager
	Store     store.KVStore
	Clock     satori.Clock
}

// Service builds reports for one site.
type Service struct {
	cfg       *config.Config
	collector SiteCollector
	ledger    *ledger.Ledger
	snapshots *snapshot.Manager
	kv        store.KVStore
	clock     satori.Clock
}

// NewService wires a Service.
func NewService(cfg *config.Config, deps Deps) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = satori.SystemClock{}
	}
	return &Service{
		cfg:       cfg,
		collector: deps.Collector,
		ledger:    deps.Ledger,
		snapshots: deps.Snapshots,
		kv:        deps.Store,
		clock:     clock,
	}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Clock returns the service clock.
func (s *Service) Clock() satori.Clock { return s.clock }

// Build assembles a report. Ledger and history read failures degrade to an
// empty ledger and no baseline. With persist set, the current month's
// snapshot is written (overwriting any earlier one); only that write can
// fail, and the report is returned alongside the error.
func (s *Service) Build(ctx context.Context, persist bool) (*Report, error) {
	loc := s.cfg.Location()
	now := s.clock.Now().In(loc)
	month := store.MonthKey(now)

	snap := s.collector.Collect(ctx)
	issues := bottleneck.Evaluate(snap)
	suggestions := bottleneck.Suggestions(snap, issues)
	scores := scoring.Score(snap, issues)

	assetLog, err := s.ledger.Load(ctx)
	if err != nil {
		slog.Warn("Asset ledger unreadable, using empty ledger", "error", err)
		assetLog = ledger.NewAssetLog()
	}
	legacy, err := s.ledger.LoadLegacy(ctx)
	if err != nil {
		slog.Warn("Legacy plugin log unreadable", "error", err)
	}
	var embedded ledger.LegacyLog
	if assetLog.Empty() {
		embedded = legacy
	}

	r := &Report{
		Meta: Meta{GeneratedAt: now.UTC(), Version: Version, Month: month},
		ServiceDetails: ServiceDetails{
			Client:      s.cfg.Service.Client,
			SiteName:    s.cfg.Service.SiteName,
			SiteURL:     s.cfg.Service.SiteURL,
			ManagedBy:   s.cfg.Service.ManagedBy,
			StartDate:   s.cfg.Service.StartDate,
			ServiceDate: now.Format("January 2006"),
			Notes:       s.cfg.Service.Notes,
			LogoURL:     s.cfg.Service.LogoURL,
		},
		Overview: snap.Overview(),
		Versions: versionsFor(snap, assetLog, legacy),
		Security: Security{
			Admins:             snap.AdminCount,
			FileEditDisallowed: snap.FileEditDisallowed,
			RemoteEndpoint:     snap.RemoteEndpointEnabled,
			HtaccessBlock:      snap.Cache.HtaccessBlock,
			VulnScanSummary:    snap.VulnScanSummary,
			VulnScanLastRun:    snap.VulnScanLastRun,
		},
		Optimization: Optimization{
			Cache:       snap.Cache,
			CDN:         snap.CDN,
			ObjectCache: snap.Cache.ObjectCache,
		},
		Speed: Speed{CacheStatus: snap.CacheStatus, HTTP3Hint: snap.HTTP3Hint},
		Stability: Stability{
			Updates:       snap.Updates,
			ActivePlugins: pluginRows(snap.Extensions),
		},
		Bottlenecks:     issues,
		Suggestions:     suggestions,
		Scores:          scores,
		AssetLog:        assetLog,
		LegacyPluginLog: embedded,
		legacyFallback:  legacy,
	}
	if r.Bottlenecks == nil {
		r.Bottlenecks = []satori.BottleneckIssue{}
	}

	var previous map[string]string
	if prev, err := s.snapshots.LatestBefore(ctx, month); err != nil {
		slog.Warn("Monthly history unreadable, diffing against nothing", "error", err)
	} else if prev != nil {
		previous = prev.Plugins
	}
	r.PluginDiffs = snapshot.Diff(previous, snap.Extensions)
	if r.PluginDiffs == nil {
		r.PluginDiffs = []satori.PluginDiff{}
	}

	if persist {
		err := s.snapshots.SaveMonth(ctx, &store.MonthlySnapshot{
			Month:    month,
			Created:  now,
			Scores:   scores,
			Plugins:  snap.ExtensionVersions(),
			Overview: r.Overview,
		})
		if err != nil {
			return r, fmt.Errorf("failed to persist monthly snapshot: %w", err)
		}
	}

	slog.Debug("Built report", "month", month, "persist", persist, "total", scores.Total, "issues", len(issues))
	return r, nil
}

func versionsFor(snap satori.SiteSnapshot, log *ledger.AssetLog, legacy ledger.LegacyLog) Versions {
	v := Versions{
		Core: AssetVersion{
			Version:   snap.PlatformVersion,
			UpdatedOn: log.LastUpdatedLabel(ledger.Core, ledger.CoreKey, legacy),
		},
		Child: AssetVersion{
			Name:      snap.Theme.Name,
			Slug:      snap.Theme.Slug,
			Version:   snap.Theme.Version,
			UpdatedOn: log.LastUpdatedLabel(ledger.Theme, snap.Theme.Slug, legacy),
		},
	}
	if v.Child.Name == "" {
		v.Child.Name = "n/a"
	}
	if p := snap.ParentTheme; p != nil && p.Slug != "" {
		v.Parent = &AssetVersion{
			Name:      p.Name,
			Slug:      p.Slug,
			Version:   p.Version,
			UpdatedOn: log.LastUpdatedLabel(ledger.Theme, p.Slug, legacy),
		}
	}
	return v
}

func pluginRows(exts []satori.Extension) []PluginRow {
	rows := make([]PluginRow, 0, len(exts))
	for _, e := range exts {
		rows = append(rows, PluginRow{Extension: e, DescriptionShort: ShortDesc(e.Description, shortDescLimit)})
	}
	return rows
}

// RefreshJSON builds and persists a report, then caches its JSON and the
// generation time in the KV store.
func (s *Service) RefreshJSON(ctx context.Context) (*Report, error) {
	r, err := s.Build(ctx, true)
	if err != nil {
		return r, err
	}
	data, err := r.MarshalPretty()
	if err != nil {
		return r, err
	}
	if err := s.kv.SetValue(ctx, KeyJSONExport, string(data)); err != nil {
		return r, fmt.Errorf("failed to cache report JSON: %w", err)
	}
	stamp := r.Meta.GeneratedAt.Format(time.RFC3339)
	if err := s.kv.SetValue(ctx, KeyJSONLastGenerated, stamp); err != nil {
		return r, fmt.Errorf("failed to store JSON timestamp: %w", err)
	}
	slog.Info("Refreshed cached report JSON", "generated_at", stamp)
	return r, nil
}

// CachedJSON returns the last refreshed JSON and its timestamp.
func (s *Service) CachedJSON(ctx context.Context) (string, time.Time, error) {
	data, err := s.kv.GetValue(ctx, KeyJSONExport)
	if err != nil {
		return "", time.Time{}, err
	}
	var at time.Time
	if stamp, err := s.kv.GetValue(ctx, KeyJSONLastGenerated); err == nil {
		at, _ = time.Parse(time.RFC3339, stamp)
	}
	return data, at, nil
}
