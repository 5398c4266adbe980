package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/store"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordChangeRetention(t *testing.T) {
	t.Log("\n🔍 Testing ledger retention trimming...")

	ctx := context.Background()
	kv := store.NewMemoryStore()
	l := New(kv, 3, time.UTC)

	dates := []string{"2024-01-01", "2024-01-05", "2024-01-09", "2024-01-13"}
	for i, d := range dates {
		if err := l.RecordChange(ctx, Plugin, "acme-seo", day(d), "1."+string(rune('0'+i))); err != nil {
			t.Fatalf("❌ RecordChange(%s) failed: %v", d, err)
		}
	}

	hist, err := l.HistoryFor(ctx, Plugin, "acme-seo")
	if err != nil {
		t.Fatalf("❌ HistoryFor failed: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("❌ Expected 3 entries after trim, got %d", len(hist))
	}
	for i, want := range dates[1:] {
		if got := hist[i].Date.Format("2006-01-02"); got != want {
			t.Errorf("❌ Entry %d date = %s, want %s", i, got, want)
		}
	}

	log, _ := l.Load(ctx)
	if log.Plugins["acme-seo"].LastUpdated != "2024-01-13" {
		t.Errorf("❌ last_updated = %q, want 2024-01-13", log.Plugins["acme-seo"].LastUpdated)
	}

	t.Log("✅ History keeps the N most recent entries")
}

func TestRecordChangeRejectsBackdating(t *testing.T) {
	t.Log("\n🔍 Testing backdated writes...")

	ctx := context.Background()
	l := New(store.NewMemoryStore(), 12, time.UTC)

	if err := l.RecordChange(ctx, Theme, "astra", day("2024-02-10"), "4.0"); err != nil {
		t.Fatalf("❌ First write failed: %v", err)
	}
	if err := l.RecordChange(ctx, Theme, "astra", day("2024-02-10"), "4.0"); err != nil {
		t.Errorf("❌ Same-day write should be allowed: %v", err)
	}
	err := l.RecordChange(ctx, Theme, "astra", day("2024-02-01"), "3.9")
	if !errors.Is(err, ErrBackdated) {
		t.Errorf("❌ Expected ErrBackdated, got %v", err)
	}

	t.Log("✅ Backdated observations are refused")
}

func TestCoreUsesPlatformKey(t *testing.T) {
	t.Log("\n🔍 Testing core asset key...")

	ctx := context.Background()
	kv := store.NewMemoryStore()
	l := New(kv, 12, time.UTC)

	if err := l.RecordChange(ctx, Core, "whatever", day("2024-03-01"), "6.5"); err != nil {
		t.Fatalf("❌ RecordChange failed: %v", err)
	}

	raw, _ := kv.GetValue(ctx, KeyAssetLog)
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("❌ Stored log is not JSON: %v", err)
	}
	if _, ok := doc["core"]["platform"]; !ok {
		t.Errorf("❌ Expected core.platform in %s", raw)
	}

	t.Log("✅ Core history is stored under core.platform")
}

func TestHistoryForSkipsBadDates(t *testing.T) {
	t.Log("\n🔍 Testing history parsing and ordering...")

	log := NewAssetLog()
	log.Plugins["x"] = &Entry{
		LastUpdated: "2024-01-20",
		History: []Observation{
			{Date: "2024-01-20", Version: "1.2"},
			{Date: "not-a-date", Version: "9.9"},
			{Date: "2024-01-01", Version: "1.0"},
			{Date: "", Version: "0.1"},
		},
	}

	hist := log.HistoryFor(Plugin, "x")
	if len(hist) != 2 {
		t.Fatalf("❌ Expected 2 parseable entries, got %d", len(hist))
	}
	if hist[0].Version != "1.0" || hist[1].Version != "1.2" {
		t.Errorf("❌ Entries not ascending: %+v", hist)
	}

	t.Log("✅ Unparseable dates are dropped and order is ascending")
}

func TestLastUpdatedLabel(t *testing.T) {
	t.Log("\n🔍 Testing last-updated labels with legacy fallback...")

	log := NewAssetLog()
	_ = log.Append(Plugin, "wp-rocket", "2024-05-07", "3.15", 12)

	legacy := LegacyLog{}
	legacy["old-plugin"] = struct {
		LastUpdated string `json:"last_updated"`
	}{LastUpdated: "2023-11-02"}

	if got := log.LastUpdatedLabel(Plugin, "wp-rocket", legacy); got != "07/05/2024" {
		t.Errorf("❌ Label = %q, want 07/05/2024", got)
	}
	if got := log.LastUpdatedLabel(Plugin, "old-plugin", legacy); got != "02/11/2023" {
		t.Errorf("❌ Legacy label = %q, want 02/11/2023", got)
	}
	if got := log.LastUpdatedLabel(Theme, "old-plugin", legacy); got != "" {
		t.Errorf("❌ Themes must not use the legacy log, got %q", got)
	}
	if got := log.LastUpdatedLabel(Plugin, "never", nil); got != "" {
		t.Errorf("❌ Unknown asset label = %q, want empty", got)
	}

	t.Log("✅ Labels format as dd/mm/yyyy")
}

func TestBackfillRunsOnce(t *testing.T) {
	t.Log("\n🔍 Testing first-run backfill...")

	ctx := context.Background()
	kv := store.NewMemoryStore()
	l := New(kv, 12, time.UTC)
	_ = l.RecordChange(ctx, Plugin, "has-history", day("2024-01-02"), "2.0")

	now := time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC) // Thursday
	assets := []AssetRef{
		{Category: Plugin, Slug: "has-history", Version: "2.0"},
		{Category: Plugin, Slug: "fresh", Version: "1.4"},
		{Category: Core, Version: "6.4"},
	}

	wrote, err := l.Backfill(ctx, assets, now)
	if err != nil || !wrote {
		t.Fatalf("❌ Backfill failed: wrote=%v err=%v", wrote, err)
	}

	log, _ := l.Load(ctx)
	fresh := log.HistoryFor(Plugin, "fresh")
	if len(fresh) != 4 {
		t.Fatalf("❌ Expected 4 seeded entries, got %d", len(fresh))
	}
	if got := fresh[0].Date.Format("2006-01-02"); got != "2023-12-25" {
		t.Errorf("❌ First seeded Monday = %s, want 2023-12-25", got)
	}
	if got := fresh[3].Date.Format("2006-01-02"); got != "2024-01-15" {
		t.Errorf("❌ Last seeded Monday = %s, want 2024-01-15", got)
	}
	if got := log.LastUpdatedLabel(Plugin, "fresh", nil); got != "25/01/2024" {
		t.Errorf("❌ Seeded last_updated label = %q, want today 25/01/2024", got)
	}
	if got := log.LastUpdatedLabel(Plugin, "has-history", nil); got != "02/01/2024" {
		t.Errorf("❌ Existing last_updated changed: %q", got)
	}
	if n := len(log.HistoryFor(Plugin, "has-history")); n != 1 {
		t.Errorf("❌ Existing history was modified: %d entries", n)
	}
	if n := len(log.HistoryFor(Core, "")); n != 4 {
		t.Errorf("❌ Expected core to be seeded, got %d", n)
	}

	wrote, err = l.Backfill(ctx, assets, now)
	if err != nil || wrote {
		t.Errorf("❌ Second backfill should be a no-op: wrote=%v err=%v", wrote, err)
	}

	t.Log("✅ Backfill seeds empty assets once")
}

func TestClampRetention(t *testing.T) {
	cases := map[int]int{0: 12, 1: 3, 3: 3, 12: 12, 24: 24, 40: 24, -5: 3}
	for in, want := range cases {
		if got := ClampRetention(in); got != want {
			t.Errorf("❌ ClampRetention(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRecordUpdateEvent(t *testing.T) {
	t.Log("\n🔍 Testing update event mapping...")

	ctx := context.Background()
	l := New(store.NewMemoryStore(), 12, time.UTC)

	ev := satori.UpdateEvent{
		Action: satori.ActionUpdate,
		Type:   "plugin",
		Items: []satori.UpdatedAsset{
			{Path: "akismet/akismet.php", Version: "5.3"},
			{Path: "akismet/akismet.php", Version: "5.3"},
			{Path: "hello.php", Version: "1.7.2"},
			{Slug: "wp-rocket", Version: "3.15"},
			{Path: "", Version: "9"},
		},
	}
	n, err := l.RecordUpdateEvent(ctx, ev, day("2024-02-01"))
	if err != nil {
		t.Fatalf("❌ RecordUpdateEvent failed: %v", err)
	}
	if n != 3 {
		t.Errorf("❌ Expected 3 observations, got %d", n)
	}

	for _, slug := range []string{"akismet", "hello", "wp-rocket"} {
		h, _ := l.HistoryFor(ctx, Plugin, slug)
		if len(h) != 1 {
			t.Errorf("❌ %s history = %+v", slug, h)
		}
	}

	core := satori.UpdateEvent{Type: "core", Items: []satori.UpdatedAsset{{Version: "6.5"}}, At: day("2024-02-03")}
	if _, err := l.RecordUpdateEvent(ctx, core, time.Time{}); err != nil {
		t.Fatalf("❌ Core event failed: %v", err)
	}
	label, _ := l.LastUpdatedLabel(ctx, Core, "")
	if label != "03/02/2024" {
		t.Errorf("❌ Core label = %q, want 03/02/2024", label)
	}

	if _, err := l.RecordUpdateEvent(ctx, satori.UpdateEvent{Type: "translation"}, day("2024-02-03")); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("❌ Expected ErrUnknownCategory, got %v", err)
	}

	t.Log("✅ Events map to one observation per asset")
}
