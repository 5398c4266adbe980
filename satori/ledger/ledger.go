// Package ledger keeps the per-asset history of observed versions. The whole
// log is one JSON document in the KV store; writes are read-modify-write and
// assume a single writer.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/store"
)

const (
	KeyAssetLog        = "satori:asset_log"
	KeyLegacyPluginLog = "satori:plugin_log"
	keyBackfilled      = "satori:backfilled"

	DefaultRetention = 12
	MinRetention     = 3
	MaxRetention     = 24

	// CoreKey is the single slug used for the platform core.
	CoreKey = "platform"

	dateLayout = "2006-01-02"
)

var (
	ErrBackdated       = errors.New("observation predates last_updated")
	ErrUnknownCategory = errors.New("unknown asset category")
)

// Category selects one of the three asset maps.
type Category string

const (
	Plugin Category = "plugin"
	Theme  Category = "theme"
	Core   Category = "core"
)

// ParseCategory accepts the singular and plural spellings.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "plugin", "plugins":
		return Plugin, nil
	case "theme", "themes":
		return Theme, nil
	case "core":
		return Core, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Observation is one stored (date, version) pair.
type Observation struct {
	Date    string `json:"date"`
	Version string `json:"to_version"`
}

// Entry is the stored history of one asset.
type Entry struct {
	LastUpdated string        `json:"last_updated"`
	History     []Observation `json:"history"`
}

// AssetLog is the persisted document.
type AssetLog struct {
	Plugins map[string]*Entry `json:"plugins"`
	Themes  map[string]*Entry `json:"themes"`
	Core    map[string]*Entry `json:"core"`
}

// LegacyLog is the pre-ledger plugin log: slug to last_updated only.
type LegacyLog map[string]struct {
	LastUpdated string `json:"last_updated"`
}

// Point is a parsed observation. Date is a civil date at UTC midnight.
type Point struct {
	Date    time.Time
	Version string
}

// NewAssetLog returns an empty log with all maps allocated.
func NewAssetLog() *AssetLog {
	return &AssetLog{
		Plugins: make(map[string]*Entry),
		Themes:  make(map[string]*Entry),
		Core:    make(map[string]*Entry),
	}
}

func (a *AssetLog) ensure() {
	if a.Plugins == nil {
		a.Plugins = make(map[string]*Entry)
	}
	if a.Themes == nil {
		a.Themes = make(map[string]*Entry)
	}
	if a.Core == nil {
		a.Core = make(map[string]*Entry)
	}
}

func (a *AssetLog) bucket(cat Category) (map[string]*Entry, error) {
	a.ensure()
	switch cat {
	case Plugin:
		return a.Plugins, nil
	case Theme:
		return a.Themes, nil
	case Core:
		return a.Core, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
}

func (a *AssetLog) entry(cat Category, slug string) *Entry {
	if a == nil {
		return nil
	}
	if cat == Core {
		slug = CoreKey
	}
	b, err := a.bucket(cat)
	if err != nil {
		return nil
	}
	return b[slug]
}

// Empty reports whether no asset has any entry.
func (a *AssetLog) Empty() bool {
	return a == nil || len(a.Plugins)+len(a.Themes)+len(a.Core) == 0
}

// Append records one observation and trims history to the newest keep
// entries. Core observations always land under CoreKey.
func (a *AssetLog) Append(cat Category, slug, date, version string, keep int) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("bad observation date %q: %w", date, err)
	}
	b, err := a.bucket(cat)
	if err != nil {
		return err
	}
	if cat == Core {
		slug = CoreKey
	}
	e := b[slug]
	if e == nil {
		e = &Entry{}
		b[slug] = e
	}
	if e.LastUpdated != "" && date < e.LastUpdated {
		return fmt.Errorf("%w: %s %s on %s (last %s)", ErrBackdated, cat, slug, date, e.LastUpdated)
	}
	e.LastUpdated = date
	e.History = append(e.History, Observation{Date: date, Version: version})
	if keep > 0 && len(e.History) > keep {
		e.History = append([]Observation(nil), e.History[len(e.History)-keep:]...)
	}
	return nil
}

// HistoryFor returns the asset's observations ascending by date. Entries
// whose date does not parse are skipped.
func (a *AssetLog) HistoryFor(cat Category, slug string) []Point {
	e := a.entry(cat, slug)
	if e == nil {
		return nil
	}
	out := make([]Point, 0, len(e.History))
	for _, h := range e.History {
		d, err := time.Parse(dateLayout, h.Date)
		if err != nil {
			continue
		}
		out = append(out, Point{Date: d, Version: h.Version})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// LastUpdatedLabel formats the asset's last_updated as dd/mm/yyyy, falling
// back to legacy for plugins. It returns "" when nothing is known.
func (a *AssetLog) LastUpdatedLabel(cat Category, slug string, legacy LegacyLog) string {
	if e := a.entry(cat, slug); e != nil && e.LastUpdated != "" {
		return displayDate(e.LastUpdated)
	}
	if cat == Plugin && legacy != nil {
		if l, ok := legacy[slug]; ok {
			return displayDate(l.LastUpdated)
		}
	}
	return ""
}

func displayDate(s string) string {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return ""
	}
	return d.Format("02/01/2006")
}

// Ledger persists an AssetLog in the KV store.
type Ledger struct {
	kv        store.KVStore
	retention int
	loc       *time.Location
	mu        sync.Mutex
}

// ClampRetention bounds n to [MinRetention, MaxRetention]; zero means default.
func ClampRetention(n int) int {
	switch {
	case n == 0:
		return DefaultRetention
	case n < MinRetention:
		return MinRetention
	case n > MaxRetention:
		return MaxRetention
	}
	return n
}

// New creates a Ledger. Dates passed to RecordChange are read in loc.
func New(kv store.KVStore, retention int, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{kv: kv, retention: ClampRetention(retention), loc: loc}
}

// Retention is the effective history cap.
func (l *Ledger) Retention() int { return l.retention }

// Load reads the asset log. A missing document yields an empty log.
func (l *Ledger) Load(ctx context.Context) (*AssetLog, error) {
	raw, err := l.kv.GetValue(ctx, KeyAssetLog)
	if err != nil {
		if store.IsNotFound(err) {
			return NewAssetLog(), nil
		}
		return nil, fmt.Errorf("failed to read asset log: %w", err)
	}
	log := NewAssetLog()
	if err := json.Unmarshal([]byte(raw), log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset log: %w", err)
	}
	log.ensure()
	return log, nil
}

// LoadLegacy reads the pre-ledger plugin log, if any.
func (l *Ledger) LoadLegacy(ctx context.Context) (LegacyLog, error) {
	raw, err := l.kv.GetValue(ctx, KeyLegacyPluginLog)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read legacy plugin log: %w", err)
	}
	var legacy LegacyLog
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal legacy plugin log: %w", err)
	}
	return legacy, nil
}

func (l *Ledger) save(ctx context.Context, log *AssetLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal asset log: %w", err)
	}
	if err := l.kv.SetValue(ctx, KeyAssetLog, string(data)); err != nil {
		return fmt.Errorf("failed to store asset log: %w", err)
	}
	return nil
}

// RecordChange appends (date, version) for the asset and trims its history
// to the retention count. A date earlier than the asset's last_updated is
// rejected with ErrBackdated.
func (l *Ledger) RecordChange(ctx context.Context, cat Category, slug string, date time.Time, version string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	log, err := l.Load(ctx)
	if err != nil {
		return err
	}
	day := date.In(l.loc).Format(dateLayout)
	if err := log.Append(cat, slug, day, version, l.retention); err != nil {
		return err
	}
	if err := l.save(ctx, log); err != nil {
		return err
	}
	slog.Debug("Recorded asset change", "category", cat, "slug", slug, "date", day, "version", version)
	return nil
}

// HistoryFor loads the log and returns one asset's history.
func (l *Ledger) HistoryFor(ctx context.Context, cat Category, slug string) ([]Point, error) {
	log, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return log.HistoryFor(cat, slug), nil
}

// LastUpdatedLabel loads the log and formats one asset's last_updated.
func (l *Ledger) LastUpdatedLabel(ctx context.Context, cat Category, slug string) (string, error) {
	log, err := l.Load(ctx)
	if err != nil {
		return "", err
	}
	var legacy LegacyLog
	if cat == Plugin {
		if legacy, err = l.LoadLegacy(ctx); err != nil {
			slog.Warn("Ignoring unreadable legacy plugin log", "error", err)
		}
	}
	return log.LastUpdatedLabel(cat, slug, legacy), nil
}

// RecordUpdateEvent records one observation per distinct asset in ev, all
// dated ev.At (or date when ev.At is zero). Plugin items without a slug use
// the directory part of their path. Items with no usable slug are skipped.
// It returns the number of observations written.
func (l *Ledger) RecordUpdateEvent(ctx context.Context, ev satori.UpdateEvent, date time.Time) (int, error) {
	cat, err := ParseCategory(ev.Type)
	if err != nil {
		return 0, err
	}
	if !ev.At.IsZero() {
		date = ev.At
	}

	seen := make(map[string]bool)
	written := 0
	for _, item := range ev.Items {
		slug := item.Slug
		if slug == "" && cat == Plugin {
			slug = SlugFromPath(item.Path)
		}
		if cat == Core {
			slug = CoreKey
		}
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		if err := l.RecordChange(ctx, cat, slug, date, item.Version); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// SlugFromPath returns the directory part of a "dir/file.php" plugin path.
// A single-file plugin yields its file name without extension.
func SlugFromPath(p string) string {
	if i := strings.Index(p, "/"); i > 0 {
		return p[:i]
	}
	return strings.TrimSuffix(p, ".php")
}

// AssetRef names an asset and its current version.
type AssetRef struct {
	Category Category
	Slug     string
	Version  string
}

// Backfill seeds four weekly observations (the Mondays of the four weeks
// before now) for every asset that has no history yet, with last_updated
// set to today. It runs once; later
// calls are no-ops. It reports whether anything was written.
func (l *Ledger) Backfill(ctx context.Context, assets []AssetRef, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.kv.GetValue(ctx, keyBackfilled); err == nil {
		return false, nil
	} else if !store.IsNotFound(err) {
		return false, fmt.Errorf("failed to read backfill flag: %w", err)
	}

	log, err := l.Load(ctx)
	if err != nil {
		return false, err
	}

	local := now.In(l.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	monday := WeekStart(today)

	for _, a := range assets {
		if a.Slug == "" && a.Category != Core {
			continue
		}
		if e := log.entry(a.Category, a.Slug); e != nil && len(e.History) > 0 {
			continue
		}
		for i := 4; i >= 1; i-- {
			day := monday.AddDate(0, 0, -7*i).Format(dateLayout)
			if err := log.Append(a.Category, a.Slug, day, a.Version, l.retention); err != nil {
				return false, err
			}
		}
		// Seeded entries count as observed today.
		log.entry(a.Category, a.Slug).LastUpdated = today.Format(dateLayout)
	}

	if err := l.save(ctx, log); err != nil {
		return false, err
	}
	if err := l.kv.SetValue(ctx, keyBackfilled, today.Format(dateLayout)); err != nil {
		return false, fmt.Errorf("failed to set backfill flag: %w", err)
	}
	slog.Info("Backfilled weekly history", "assets", len(assets))
	return true, nil
}

// WeekStart returns the Monday of d's ISO week.
func WeekStart(d time.Time) time.Time {
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDate(0, 0, -(wd - 1))
}
